// Package video supplies camera frames to the remote detector. Frames are
// JPEG-encoded and posted as multipart uploads, the same way the vehicle's
// camera client feeds the detector.
package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Frame is one JPEG-encoded image.
type Frame struct {
	JPEG   []byte
	Width  int
	Height int
}

// Source yields frames. Next blocks until a frame is available.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// DirSource replays the JPEG files of a directory in name order, looping
// forever.
type DirSource struct {
	files []string
	next  int
}

// NewDirSource lists *.jpg and *.jpeg files in dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no jpeg frames in %s", dir)
	}
	slices.Sort(files)
	return &DirSource{files: files}, nil
}

// Len returns the number of frames in one loop.
func (s *DirSource) Len() int { return len(s.files) }

// Next reads the next file.
func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, err
	}
	return DecodeFrame(data)
}

// DecodeFrame wraps JPEG bytes, reading the size from the header.
func DecodeFrame(data []byte) (Frame, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if format != "jpeg" {
		return Frame{}, fmt.Errorf("frame is %s, want jpeg", format)
	}
	return Frame{JPEG: data, Width: cfg.Width, Height: cfg.Height}, nil
}
