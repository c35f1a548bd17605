package main

import (
	"context"
	"fmt"
	"io"

	"github.com/gwillem/rcteleop/pkg/video"
)

var errEndOfLoop = fmt.Errorf("end of frames: %w", io.EOF)

// limitSource stops after a fixed number of frames.
type limitSource struct {
	video.Source
	left int
}

func (s *limitSource) Next(ctx context.Context) (video.Frame, error) {
	if s.left <= 0 {
		return video.Frame{}, errEndOfLoop
	}
	s.left--
	return s.Source.Next(ctx)
}
