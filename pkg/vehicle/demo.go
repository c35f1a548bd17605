package vehicle

import (
	"context"
	"math"
	"time"

	"github.com/gwillem/rcteleop/pkg/rover"
)

var demoLines = []string{
	"go find the red cup",
	"avoid the chair on the left",
	"is anyone there",
}

// RunDemo publishes a synthetic detection sweeping across a 640x480 frame
// and a transcript line every few seconds until ctx is cancelled.
func RunDemo(ctx context.Context, s *Server, hz int) error {
	if hz <= 0 {
		hz = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	var tick int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if tick%(hz*3) == 0 {
			s.PublishTranscript(demoLines[(tick/(hz*3))%len(demoLines)])
		}
		if err := s.PublishBoxes(demoBoxes(tick, hz)); err != nil {
			return err
		}
		tick++
	}
}

func demoBoxes(tick, hz int) []rover.DetectionBox {
	phase := float64(tick) / float64(hz*4) * 2 * math.Pi
	cx := 320 + 220*math.Sin(phase)
	return []rover.DetectionBox{
		{X1: cx - 60, Y1: 180, X2: cx + 60, Y2: 320, Confidence: 0.87, Label: "cup"},
		{X1: 40, Y1: 300, X2: 200, Y2: 470, Confidence: 0.64, Label: "chair"},
	}
}
