package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// PusherConfig configures a Pusher.
type PusherConfig struct {
	URL    string
	Hz     int
	Client *http.Client
	Logger *slog.Logger
	// OnSize is called with the first frame's size and whenever it changes.
	OnSize func(width, height int)
}

// Pusher posts frames from a Source to the detector at a fixed rate.
type Pusher struct {
	source Source
	url    string
	hz     int
	client *http.Client
	logger *slog.Logger
	onSize func(int, int)

	width, height int
	sent          atomic.Int64
	failed        atomic.Int64
}

// NewPusher creates a pusher for source.
func NewPusher(source Source, cfg PusherConfig) *Pusher {
	if cfg.Hz <= 0 {
		cfg.Hz = 10
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pusher{
		source: source,
		url:    cfg.URL,
		hz:     cfg.Hz,
		client: cfg.Client,
		logger: cfg.Logger,
		onSize: cfg.OnSize,
	}
}

// Sent returns how many frames the detector accepted.
func (p *Pusher) Sent() int64 { return p.sent.Load() }

// Failed returns how many uploads failed.
func (p *Pusher) Failed() int64 { return p.failed.Load() }

// Run pushes one frame per tick until ctx is cancelled or the source is
// exhausted. Upload failures are logged and the next tick tries again.
func (p *Pusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(p.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, err := p.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return err
			}
			p.logger.Warn("frame source", "error", err)
			continue
		}
		p.noteSize(frame)
		if err := p.Push(ctx, frame); err != nil {
			p.failed.Add(1)
			p.logger.Warn("frame push failed", "error", err)
			continue
		}
		p.sent.Add(1)
	}
}

func (p *Pusher) noteSize(f Frame) {
	if f.Width == p.width && f.Height == p.height {
		return
	}
	p.width, p.height = f.Width, f.Height
	p.logger.Info("frame size", "width", f.Width, "height", f.Height)
	if p.onSize != nil {
		p.onSize(f.Width, f.Height)
	}
}

// Push uploads one frame as the multipart field "frame".
func (p *Pusher) Push(ctx context.Context, f Frame) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("frame", "frame.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(f.JPEG); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push frame: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
