//go:build gocv

package main

import "github.com/gwillem/rcteleop/pkg/video"

func openCamera() (video.Source, func(), error) {
	cam, err := video.OpenCamera(0, 640, 480, 50)
	if err != nil {
		return nil, nil, err
	}
	return cam, func() { cam.Close() }, nil
}
