package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Feed keeps one subscription alive. When the connection drops it waits
// and reconnects; messages sent while disconnected are lost.
type Feed struct {
	name     string
	source   Source
	delay    time.Duration
	maxDelay time.Duration
	logger   *slog.Logger

	connected   atomic.Bool
	reconnects  atomic.Int64
	lastMessage atomic.Int64
}

// NewFeed creates a feed. delay is the first reconnect wait; it doubles
// after each failed attempt up to maxDelay and resets once a connection
// opens.
func NewFeed(name string, source Source, delay, maxDelay time.Duration, logger *slog.Logger) *Feed {
	if delay <= 0 {
		delay = time.Second
	}
	if maxDelay < delay {
		maxDelay = delay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		name:     name,
		source:   source,
		delay:    delay,
		maxDelay: maxDelay,
		logger:   logger.With("feed", name),
	}
}

// Name returns the feed name.
func (f *Feed) Name() string { return f.name }

// Connected reports whether the subscription is currently open.
func (f *Feed) Connected() bool { return f.connected.Load() }

// Reconnects returns how many times the feed has reconnected.
func (f *Feed) Reconnects() int64 { return f.reconnects.Load() }

// Run subscribes and calls handle for every payload until ctx is done.
func (f *Feed) Run(ctx context.Context, handle func([]byte)) error {
	wait := f.delay
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			f.reconnects.Add(1)
		}
		err := f.source.Stream(ctx,
			func() {
				f.connected.Store(true)
				wait = f.delay
				f.logger.Info("feed connected")
			},
			func(data []byte) {
				f.lastMessage.Store(time.Now().UnixNano())
				handle(data)
			},
		)
		f.connected.Store(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected", "error", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, f.maxDelay)
	}
}
