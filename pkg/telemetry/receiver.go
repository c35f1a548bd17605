// Package telemetry subscribes to the vehicle's push feeds.
//
// Two feeds are independent: one carries speech transcript text, the
// other carries bounding-box sets in detector space. Each message
// replaces the previous value; nothing is buffered beyond the latest.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// EventKind tells transcript events from box events.
type EventKind int

const (
	Transcript EventKind = iota
	BoxSet
)

func (k EventKind) String() string {
	if k == BoxSet {
		return "boxes"
	}
	return "transcript"
}

// Event is one successfully parsed telemetry message.
type Event struct {
	Kind       EventKind
	Transcript string
	Boxes      []rover.DetectionBox
	Received   time.Time
}

// Snapshot is the latest value of each feed.
type Snapshot struct {
	Transcript   string
	TranscriptAt time.Time
	Boxes        []rover.DetectionBox
	BoxesAt      time.Time
	Dropped      int64

	TranscriptConnected bool
	BoxesConnected      bool
}

// Config configures a Receiver. An empty URL disables that feed.
type Config struct {
	TranscriptURL     string
	BoxesURL          string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Client            *http.Client
	Dialer            *websocket.Dialer
	Logger            *slog.Logger
}

// Receiver owns the transcript and box subscriptions.
type Receiver struct {
	transcript *Feed
	boxes      *Feed
	logger     *slog.Logger
	events     chan Event

	mu     sync.RWMutex
	latest Snapshot
}

// NewReceiver creates a receiver; call Run to subscribe.
func NewReceiver(cfg Config) (*Receiver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Receiver{
		logger: logger,
		events: make(chan Event, 16),
	}

	var err error
	if r.transcript, err = r.newFeed("transcript", cfg.TranscriptURL, cfg); err != nil {
		return nil, err
	}
	if r.boxes, err = r.newFeed("boxes", cfg.BoxesURL, cfg); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Receiver) newFeed(name, rawURL string, cfg Config) (*Feed, error) {
	if rawURL == "" {
		return nil, nil
	}
	source, err := NewSource(rawURL, cfg.Client, cfg.Dialer)
	if err != nil {
		return nil, fmt.Errorf("%s feed: %w", name, err)
	}
	return NewFeed(name, source, cfg.ReconnectDelay, cfg.MaxReconnectDelay, r.logger), nil
}

// Events returns typed events in arrival order per feed. When the
// consumer falls behind, the oldest undelivered event is dropped.
func (r *Receiver) Events() <-chan Event {
	return r.events
}

// Latest returns the most recent value of each feed.
func (r *Receiver) Latest() Snapshot {
	r.mu.RLock()
	s := r.latest
	r.mu.RUnlock()
	s.TranscriptConnected = r.transcript != nil && r.transcript.Connected()
	s.BoxesConnected = r.boxes != nil && r.boxes.Connected()
	return s
}

// Run subscribes to both feeds and blocks until ctx is cancelled, which
// tears both subscriptions down.
func (r *Receiver) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, f := range []struct {
		feed   *Feed
		handle func([]byte)
	}{
		{r.transcript, r.handleTranscript},
		{r.boxes, r.handleBoxes},
	} {
		if f.feed == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.feed.Run(ctx, f.handle)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Receiver) handleTranscript(data []byte) {
	now := time.Now()
	text := string(data)

	r.mu.Lock()
	r.latest.Transcript = text
	r.latest.TranscriptAt = now
	r.mu.Unlock()

	r.publish(Event{Kind: Transcript, Transcript: text, Received: now})
}

func (r *Receiver) handleBoxes(data []byte) {
	boxes, err := rover.ParseBoxes(data)
	if err != nil {
		r.mu.Lock()
		r.latest.Dropped++
		r.mu.Unlock()
		r.logger.Warn("dropping box message", "error", err, "payload", truncate(string(data), 120))
		return
	}
	now := time.Now()

	r.mu.Lock()
	r.latest.Boxes = boxes
	r.latest.BoxesAt = now
	r.mu.Unlock()

	r.publish(Event{Kind: BoxSet, Boxes: boxes, Received: now})
}

func (r *Receiver) publish(e Event) {
	select {
	case r.events <- e:
		return
	default:
	}
	// Full: drop the oldest event and retry once.
	select {
	case <-r.events:
	default:
	}
	select {
	case r.events <- e:
	default:
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
