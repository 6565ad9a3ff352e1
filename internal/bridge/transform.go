package bridge

import "github.com/dj-oyu/face-detector/detection-bridge/pkg/types"

// ToDisplayBox converts a corner-pair box into origin plus size. It returns
// nil unless the box has exactly four values. Corner order is not checked, so
// swapped corners give negative sizes.
func ToDisplayBox(b types.BBox) *types.DisplayBox {
	if len(b) != 4 {
		return nil
	}
	return &types.DisplayBox{
		X:      b[0],
		Y:      b[1],
		Width:  b[2] - b[0],
		Height: b[3] - b[1],
	}
}
