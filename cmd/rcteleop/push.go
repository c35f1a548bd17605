package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gwillem/rcteleop/pkg/video"
)

type PushCommand struct {
	URL  string `long:"url" description:"Detector frame endpoint (overrides config)"`
	Dir  string `long:"dir" description:"Replay JPEG frames from a directory"`
	Hz   int    `long:"hz" description:"Frames per second (overrides config)"`
	Once bool   `long:"once" description:"Push one loop of the directory and exit"`
}

func (c *PushCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url := cfg.Video.PushURL
	if c.URL != "" {
		url = c.URL
	}
	if url == "" {
		return fmt.Errorf("no detector URL: set video.push_url or pass --url")
	}
	hz := cfg.Video.Hz
	if c.Hz > 0 {
		hz = c.Hz
	}
	logger := newLogger(slog.LevelInfo)

	source, closeSource, err := c.openSource()
	if err != nil {
		return err
	}
	defer closeSource()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if dir, ok := source.(*video.DirSource); ok && c.Once {
		source = &limitSource{Source: dir, left: dir.Len()}
	}

	pusher := video.NewPusher(source, video.PusherConfig{
		URL:    url,
		Hz:     hz,
		Logger: logger,
		OnSize: func(w, h int) {
			if w != cfg.Video.SourceWidth || h != cfg.Video.SourceHeight {
				logger.Warn("frame size differs from configured source size",
					"frame", fmt.Sprintf("%dx%d", w, h),
					"config", fmt.Sprintf("%dx%d", cfg.Video.SourceWidth, cfg.Video.SourceHeight))
			}
		},
	})
	fmt.Println(dimStyle.Render(fmt.Sprintf("Pushing frames to %s at %d Hz", url, hz)))
	err = pusher.Run(ctx)
	fmt.Printf("%d frames sent, %d failed\n", pusher.Sent(), pusher.Failed())
	if errors.Is(err, context.Canceled) || errors.Is(err, errEndOfLoop) {
		return nil
	}
	return err
}

// openSource picks the directory replay when --dir is given and the
// camera otherwise.
func (c *PushCommand) openSource() (video.Source, func(), error) {
	if c.Dir != "" {
		src, err := video.NewDirSource(c.Dir)
		return src, func() {}, err
	}
	return openCamera()
}
