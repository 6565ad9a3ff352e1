package types

import (
	"encoding/json"
	"math"
)

// BBox is a corner-pair bounding box (x1, y1, x2, y2) in pixels.
// A nil BBox means the detector reported no geometry.
type BBox []int

// maxCoord bounds a single pixel coordinate.
const maxCoord = math.MaxInt32

// UnmarshalJSON accepts any JSON numbers and rounds them to whole pixels.
// It never fails: null, a non-array, or any element that is not a finite
// number within range decodes to a nil box.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		*b = nil
		return nil
	}

	coords := make([]float64, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			*b = nil
			return nil
		}
		coords[i] = f
	}
	*b = bboxFromFloats(coords)
	return nil
}

func bboxFromFloats(raw []float64) BBox {
	out := make(BBox, len(raw))
	for i, v := range raw {
		r := math.Round(v)
		if math.IsNaN(r) || r > maxCoord || r < -maxCoord {
			return nil
		}
		out[i] = int(r)
	}
	return out
}

// Detection is the per-label record of a detection batch.
type Detection struct {
	Confidence  *float64 `json:"confidence"`
	BoundingBox BBox     `json:"bounding_box_xyxy"`
}

// NewDetection builds a Detection with a confidence and an optional box.
func NewDetection(confidence float64, box ...int) Detection {
	det := Detection{Confidence: &confidence}
	if len(box) > 0 {
		det.BoundingBox = BBox(box)
	}
	return det
}

// DetectionBatch is one inference tick: label -> detection, labels are unique.
type DetectionBatch map[string]Detection

// Labels returns the labels of the batch in no particular order.
func (b DetectionBatch) Labels() []string {
	labels := make([]string, 0, len(b))
	for label := range b {
		labels = append(labels, label)
	}
	return labels
}

// DisplayBox is a bounding box as origin plus size, the shape the UI draws.
type DisplayBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// OutboundMessage is the payload sent to the UI on the "detection" topic.
type OutboundMessage struct {
	Content    string      `json:"content"`
	Confidence *float64    `json:"confidence"`
	Box        *DisplayBox `json:"box"`
	Timestamp  string      `json:"timestamp"`
}
