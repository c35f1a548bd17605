package rover

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// DetectionBox is one detected object in detector (source pixel) space.
// A box set is always replaced as a whole; boxes have no identity across
// ticks.
type DetectionBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label,omitempty"`
	IsTarget   bool    `json:"-"`
}

// Validate checks coordinates and confidence.
func (b DetectionBox) Validate() error {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2, b.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value in box %+v", b)
		}
	}
	if b.X2 < b.X1 || b.Y2 < b.Y1 {
		return fmt.Errorf("inverted box (%g,%g)-(%g,%g)", b.X1, b.Y1, b.X2, b.Y2)
	}
	if b.Confidence < 0 || b.Confidence > 1 {
		return fmt.Errorf("confidence %g outside [0,1]", b.Confidence)
	}
	return nil
}

// ParseBoxes decodes one bounding-box message: a JSON array of
// {x1,y1,x2,y2,confidence} objects with an optional label. A single
// invalid box invalidates the whole message.
func ParseBoxes(data []byte) ([]DetectionBox, error) {
	var boxes []DetectionBox
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &boxes); err != nil {
		return nil, fmt.Errorf("%w: box set: %v", ErrParse, err)
	}
	for i, b := range boxes {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("%w: box %d: %v", ErrParse, i, err)
		}
	}
	if boxes == nil {
		boxes = []DetectionBox{}
	}
	return boxes, nil
}

// MarkTargets returns a copy of boxes with IsTarget set on every box
// whose label names the same object as target.
func MarkTargets(boxes []DetectionBox, target string) []DetectionBox {
	out := make([]DetectionBox, len(boxes))
	want := NormalizeLabel(target)
	for i, b := range boxes {
		b.IsTarget = want != "" && NormalizeLabel(b.Label) == want
		out[i] = b
	}
	return out
}
