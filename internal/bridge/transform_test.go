package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/face-detector/detection-bridge/pkg/types"
)

func TestToDisplayBox(t *testing.T) {
	tests := []struct {
		name string
		in   types.BBox
		want *types.DisplayBox
	}{
		{"face", types.BBox{233, 249, 360, 397}, &types.DisplayBox{X: 233, Y: 249, Width: 127, Height: 148}},
		{"origin", types.BBox{0, 0, 10, 20}, &types.DisplayBox{X: 0, Y: 0, Width: 10, Height: 20}},
		{"degenerate", types.BBox{5, 5, 5, 5}, &types.DisplayBox{X: 5, Y: 5}},
		{"swapped corners", types.BBox{10, 10, 0, 0}, &types.DisplayBox{X: 10, Y: 10, Width: -10, Height: -10}},
		{"nil", nil, nil},
		{"short", types.BBox{1, 2, 3}, nil},
		{"long", types.BBox{1, 2, 3, 4, 5}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToDisplayBox(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}
