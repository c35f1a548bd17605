// Package overlay maps detector-space boxes onto a letterboxed display.
//
// The video keeps its aspect ratio inside the display container, so it is
// either pillar-boxed (bars left and right) or letter-boxed (bars top and
// bottom). Geometry captures that transform; Map applies it.
package overlay

import (
	"fmt"
	"image"
	"math"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// Geometry is the letterbox transform between source and display space.
// The zero value is invalid and maps nothing.
type Geometry struct {
	SourceWidth, SourceHeight   float64
	DisplayWidth, DisplayHeight float64

	ScaleX, ScaleY   float64
	OffsetX, OffsetY float64
}

// NewGeometry derives the transform for a source frame shown inside a
// display container. All four sizes must be positive.
func NewGeometry(sourceWidth, sourceHeight, displayWidth, displayHeight float64) (Geometry, error) {
	for _, v := range []float64{sourceWidth, sourceHeight, displayWidth, displayHeight} {
		if !(v > 0) || math.IsInf(v, 0) {
			return Geometry{}, fmt.Errorf("invalid geometry %gx%g in %gx%g",
				sourceWidth, sourceHeight, displayWidth, displayHeight)
		}
	}

	g := Geometry{
		SourceWidth:   sourceWidth,
		SourceHeight:  sourceHeight,
		DisplayWidth:  displayWidth,
		DisplayHeight: displayHeight,
	}

	videoAspect := sourceWidth / sourceHeight
	containerAspect := displayWidth / displayHeight

	if containerAspect > videoAspect {
		// Container is wider: fill height, bars left and right.
		renderedWidth := displayHeight * videoAspect
		g.ScaleY = displayHeight / sourceHeight
		g.ScaleX = renderedWidth / sourceWidth
		g.OffsetX = (displayWidth - renderedWidth) / 2
	} else {
		// Container is taller: fill width, bars top and bottom.
		renderedHeight := displayWidth / videoAspect
		g.ScaleX = displayWidth / sourceWidth
		g.ScaleY = renderedHeight / sourceHeight
		g.OffsetY = (displayHeight - renderedHeight) / 2
	}
	return g, nil
}

// Valid reports whether g was built from positive sizes.
func (g Geometry) Valid() bool {
	return g.ScaleX > 0 && g.ScaleY > 0
}

// Video returns the display-space rectangle covered by the video.
func (g Geometry) Video() DisplayBox {
	return Map(rover.DetectionBox{X2: g.SourceWidth, Y2: g.SourceHeight}, g)
}

// DisplayBox is a detection in display coordinates.
type DisplayBox struct {
	X1, Y1, X2, Y2 float64
	Confidence     float64
	Label          string
	IsTarget       bool
}

// Width returns the horizontal extent.
func (b DisplayBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent.
func (b DisplayBox) Height() float64 { return b.Y2 - b.Y1 }

// Rect rounds each corner to the nearest integer coordinate.
func (b DisplayBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.X1)), int(math.Round(b.Y1)),
		int(math.Round(b.X2)), int(math.Round(b.Y2)),
	)
}

// Map converts box to display space. Both corners are transformed
// independently.
func Map(box rover.DetectionBox, g Geometry) DisplayBox {
	return DisplayBox{
		X1:         box.X1*g.ScaleX + g.OffsetX,
		Y1:         box.Y1*g.ScaleY + g.OffsetY,
		X2:         box.X2*g.ScaleX + g.OffsetX,
		Y2:         box.Y2*g.ScaleY + g.OffsetY,
		Confidence: box.Confidence,
		Label:      box.Label,
		IsTarget:   box.IsTarget,
	}
}

// MapAll maps a whole box set. An invalid geometry yields no boxes:
// drawing with a transform that does not match the frame would misplace
// every box.
func MapAll(boxes []rover.DetectionBox, g Geometry) []DisplayBox {
	if !g.Valid() {
		return nil
	}
	out := make([]DisplayBox, len(boxes))
	for i, b := range boxes {
		out[i] = Map(b, g)
	}
	return out
}
