//go:build gocv

package video

import (
	"bytes"
	"context"
	"fmt"

	"gocv.io/x/gocv"
)

// CameraSource captures frames from a local camera.
type CameraSource struct {
	capture *gocv.VideoCapture
	img     gocv.Mat
	quality int
}

// OpenCamera opens camera device at the requested resolution. quality is
// the JPEG quality, 1 to 100.
func OpenCamera(device, width, height, quality int) (*CameraSource, error) {
	capture, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	capture.Set(gocv.VideoCaptureBufferSize, 1)
	if quality <= 0 || quality > 100 {
		quality = 50
	}
	return &CameraSource{capture: capture, img: gocv.NewMat(), quality: quality}, nil
}

// Next grabs and encodes one frame.
func (c *CameraSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if ok := c.capture.Read(&c.img); !ok || c.img.Empty() {
		return Frame{}, fmt.Errorf("camera read failed")
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.img, []int{gocv.IMWriteJpegQuality, c.quality})
	if err != nil {
		return Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	return Frame{
		JPEG:   bytes.Clone(buf.GetBytes()),
		Width:  c.img.Cols(),
		Height: c.img.Rows(),
	}, nil
}

// Close releases the camera.
func (c *CameraSource) Close() error {
	c.img.Close()
	return c.capture.Close()
}
