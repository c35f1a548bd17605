//go:build !gocv

package main

import (
	"errors"

	"github.com/gwillem/rcteleop/pkg/video"
)

func openCamera() (video.Source, func(), error) {
	return nil, nil, errors.New("camera capture needs a build with -tags gocv; use --dir to replay frames")
}
