// Package teleop runs a teleoperation session for an RC vehicle.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gwillem/rcteleop/pkg/command"
	"github.com/gwillem/rcteleop/pkg/mode"
	"github.com/gwillem/rcteleop/pkg/overlay"
	"github.com/gwillem/rcteleop/pkg/rover"
	"github.com/gwillem/rcteleop/pkg/task"
	"github.com/gwillem/rcteleop/pkg/telemetry"
)

// ErrNotHeld is returned by Send for a directional command. Motion only
// starts through Press, which guarantees the matching stop.
var ErrNotHeld = errors.New("directional command must be pressed and released")

// Frame is one overlay tick: boxes mapped with the geometry that was
// current when the tick ran, plus the session state to render next to it.
type Frame struct {
	Boxes      []overlay.DisplayBox
	Geometry   overlay.Geometry
	Transcript string
	Mode       mode.Status
	Task       rover.TaskResult
	HasTask    bool
	Held       []rover.Direction
	Feeds      FeedStatus
	Timestamp  time.Time
}

// FeedStatus reports which telemetry subscriptions are open.
type FeedStatus struct {
	Transcript bool
	Boxes      bool
	Dropped    int64
}

// Session owns everything a console needs for one vehicle.
type Session struct {
	relay       *command.Relay
	broadcaster *command.Broadcaster
	channel     *command.Channel
	guard       *command.Guard
	hold        *command.HoldTracker
	arbiter     *mode.Arbiter
	receiver    *telemetry.Receiver
	translator  *task.Translator
	hz          int
	logger      *slog.Logger

	mu          sync.RWMutex
	running     bool
	sourceW     float64
	sourceH     float64
	displayW    float64
	displayH    float64
	geometry    overlay.Geometry
	stateCh     chan Frame
	queue       chan rover.Command
	done        chan struct{}
	stopOnce    sync.Once
	sendTimeout time.Duration
	sizePoll    time.Duration
}

// Config holds configuration for the session.
type Config struct {
	RelayURL      string
	RelayTimeout  time.Duration
	BroadcastAddr string // empty disables the broadcast transport
	Telemetry     telemetry.Config
	Parser        task.Parser
	Vocabulary    *task.Vocabulary
	SourceWidth   int
	SourceHeight  int
	Hz            int
	// SizePoll is how often the vehicle is asked for its camera frame
	// size. Zero means every second, negative disables the poll.
	SizePoll time.Duration
	Logger   *slog.Logger
}

// NewSession wires the transports, arbiter, receiver and translator.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Hz <= 0 {
		cfg.Hz = 10
	}
	if cfg.RelayTimeout <= 0 {
		cfg.RelayTimeout = 2 * time.Second
	}
	if cfg.SizePoll == 0 {
		cfg.SizePoll = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	relay := command.NewRelay(command.RelayConfig{
		URL:     cfg.RelayURL,
		Timeout: cfg.RelayTimeout,
		Logger:  logger.With("component", "relay"),
	})

	var broadcaster *command.Broadcaster
	var broadcast command.Sender
	if cfg.BroadcastAddr != "" {
		b, err := command.NewBroadcaster(cfg.BroadcastAddr)
		if err != nil {
			return nil, fmt.Errorf("create broadcaster: %w", err)
		}
		broadcaster, broadcast = b, b
	}

	if cfg.Telemetry.Logger == nil {
		cfg.Telemetry.Logger = logger.With("component", "telemetry")
	}
	receiver, err := telemetry.NewReceiver(cfg.Telemetry)
	if err != nil {
		if broadcaster != nil {
			broadcaster.Close()
		}
		return nil, fmt.Errorf("create receiver: %w", err)
	}

	channel := command.NewChannel(relay, broadcast, logger.With("component", "channel"))
	arbiter := mode.NewArbiter(relay, logger.With("component", "mode"))

	s := &Session{
		relay:       relay,
		broadcaster: broadcaster,
		channel:     channel,
		guard:       command.NewGuard(arbiter),
		hold:        command.NewHoldTracker(),
		arbiter:     arbiter,
		receiver:    receiver,
		hz:          cfg.Hz,
		logger:      logger,
		stateCh:     make(chan Frame, 1),
		queue:       make(chan rover.Command, 64),
		done:        make(chan struct{}),
		sendTimeout: cfg.RelayTimeout,
		sizePoll:    cfg.SizePoll,
	}
	// A held key cannot outlive the mode that allowed it.
	arbiter.OnChange(func(m rover.ControlMode) {
		if !m.Manual {
			s.ReleaseAll()
		}
	})
	if cfg.Parser != nil {
		s.translator = task.NewTranslator(task.Config{
			Parser:     cfg.Parser,
			Sender:     channel,
			Prompts:    relay,
			Vocabulary: cfg.Vocabulary,
			Logger:     logger.With("component", "task"),
		})
	}
	s.SetSourceSize(cfg.SourceWidth, cfg.SourceHeight)
	return s, nil
}

// Close releases the broadcast socket.
func (s *Session) Close() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	var errs []error
	if s.broadcaster != nil {
		if err := s.broadcaster.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// States returns a channel that receives overlay frames.
func (s *Session) States() <-chan Frame {
	return s.stateCh
}

// Events returns parsed telemetry events in arrival order.
func (s *Session) Events() <-chan telemetry.Event {
	return s.receiver.Events()
}

// Hz returns the overlay tick frequency.
func (s *Session) Hz() int {
	return s.hz
}

// Mode returns the arbiter status.
func (s *Session) Mode() mode.Status {
	return s.arbiter.Status()
}

// Geometry returns the current letterbox transform.
func (s *Session) Geometry() overlay.Geometry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.geometry
}

// SetSourceSize records the detector frame size. It reports whether the
// size changed.
func (s *Session) SetSourceSize(width, height int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, h := float64(width), float64(height)
	if w == s.sourceW && h == s.sourceH {
		return false
	}
	s.sourceW, s.sourceH = w, h
	s.recomputeLocked()
	return true
}

// SetDisplaySize records the size of the surface the overlay is drawn on.
func (s *Session) SetDisplaySize(width, height int) {
	s.mu.Lock()
	s.displayW, s.displayH = float64(width), float64(height)
	s.recomputeLocked()
	s.mu.Unlock()
}

func (s *Session) recomputeLocked() {
	g, err := overlay.NewGeometry(s.sourceW, s.sourceH, s.displayW, s.displayH)
	if err != nil {
		s.geometry = overlay.Geometry{}
		return
	}
	s.geometry = g
}

// Press handles the press edge of a directional control.
func (s *Session) Press(d rover.Direction) error {
	cmd := rover.Move(d)
	if err := s.guard.Allow(cmd); err != nil {
		s.logger.Warn("command refused", "command", cmd.String(), "error", err)
		return err
	}
	if s.hold.Press(d) {
		s.enqueue(cmd)
	}
	return nil
}

// Release handles the release edge of a directional control.
func (s *Session) Release(d rover.Direction) {
	if s.hold.Release(d) {
		s.enqueue(rover.Stop)
	}
}

// Leave handles the pointer leaving a control while it is pressed.
func (s *Session) Leave(d rover.Direction) {
	if s.hold.Leave(d) {
		s.enqueue(rover.Stop)
	}
}

// ReleaseAll releases every held direction.
func (s *Session) ReleaseAll() {
	for range s.hold.ReleaseAll() {
		s.enqueue(rover.Stop)
	}
}

// Held reports whether d is pressed.
func (s *Session) Held(d rover.Direction) bool {
	return s.hold.Held(d)
}

// Send queues a stop or target command. Directional commands are
// refused with ErrNotHeld.
func (s *Session) Send(cmd rover.Command) error {
	if cmd.IsDirectional() {
		return fmt.Errorf("%w: %s", ErrNotHeld, cmd)
	}
	if err := s.guard.Allow(cmd); err != nil {
		return err
	}
	s.enqueue(cmd)
	return nil
}

// RequestManual asks the vehicle to toggle manual control.
func (s *Session) RequestManual(ctx context.Context, enabled bool) (rover.ControlMode, error) {
	return s.arbiter.RequestManual(ctx, enabled)
}

// RequestAutonomous asks the vehicle to toggle autonomous driving.
func (s *Session) RequestAutonomous(ctx context.Context, enabled bool) (rover.ControlMode, error) {
	return s.arbiter.RequestAutonomous(ctx, enabled)
}

// Toggle flips one side of the confirmed mode.
func (s *Session) Toggle(ctx context.Context, side mode.Side) (rover.ControlMode, error) {
	return s.arbiter.Toggle(ctx, side)
}

// SubmitTask translates task text and forwards the target.
func (s *Session) SubmitTask(ctx context.Context, text string) (rover.TaskResult, error) {
	if s.translator == nil {
		return rover.TaskResult{}, fmt.Errorf("%w: no task parser configured", rover.ErrParse)
	}
	return s.translator.Submit(ctx, text)
}

// enqueue hands cmd to the dispatcher. Commands go out one at a time in
// queue order, so a stop never overtakes its press.
func (s *Session) enqueue(cmd rover.Command) {
	select {
	case s.queue <- cmd:
	case <-s.done:
		s.logger.Warn("session stopped, command not sent", "command", cmd.String())
	}
}

// Start runs the session until ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("session started", "hz", s.hz)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.receiver.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.dispatch(ctx)
	}()
	if s.sizePoll > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.watchSourceSize(ctx)
		}()
	}

	ticker := time.NewTicker(time.Second / time.Duration(s.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.shutdown()
			return ctx.Err()
		case <-ticker.C:
			s.step()
		}
	}
}

func (s *Session) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.queue:
			s.send(ctx, cmd)
		}
	}
}

func (s *Session) send(ctx context.Context, cmd rover.Command) {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	if err := s.channel.Send(ctx, cmd); err != nil {
		s.logger.Warn("command dropped", "command", cmd.String(), "error", err)
	}
}

// watchSourceSize follows the camera frame size the vehicle reports, so
// the overlay is never mapped with a stale source size.
func (s *Session) watchSourceSize(ctx context.Context) {
	ticker := time.NewTicker(s.sizePoll)
	defer ticker.Stop()

	failing := false
	for {
		reqCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		st, err := s.relay.Status(reqCtx)
		cancel()
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			if !failing {
				s.logger.Debug("vehicle status unavailable", "error", err)
			}
			failing = true
		case st.FrameWidth > 0 && st.FrameHeight > 0:
			failing = false
			if s.SetSourceSize(st.FrameWidth, st.FrameHeight) {
				s.logger.Info("source size changed", "width", st.FrameWidth, "height", st.FrameHeight)
			}
		default:
			failing = false
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) step() {
	s.sendState(s.Snapshot())
}

// Snapshot builds a frame from the latest telemetry and current geometry.
func (s *Session) Snapshot() Frame {
	snap := s.receiver.Latest()
	g := s.Geometry()

	var current rover.TaskResult
	var hasTask bool
	if s.translator != nil {
		current, hasTask = s.translator.Current()
	}

	var held []rover.Direction
	for _, d := range rover.AllDirections() {
		if s.hold.Held(d) {
			held = append(held, d)
		}
	}

	return Frame{
		Boxes:      overlay.MapAll(rover.MarkTargets(snap.Boxes, current.Target), g),
		Geometry:   g,
		Transcript: snap.Transcript,
		Mode:       s.arbiter.Status(),
		Task:       current,
		HasTask:    hasTask,
		Held:       held,
		Feeds: FeedStatus{
			Transcript: snap.TranscriptConnected,
			Boxes:      snap.BoxesConnected,
			Dropped:    snap.Dropped,
		},
		Timestamp: time.Now(),
	}
}

func (s *Session) sendState(f Frame) {
	select {
	case s.stateCh <- f:
	default:
		// Drop old frame if channel full, replace with new
		select {
		case <-s.stateCh:
		default:
		}
		s.stateCh <- f
	}
}

func (s *Session) shutdown() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.done) })

	// Anything still queued or held means the vehicle may be moving.
	pending := 0
drain:
	for {
		select {
		case <-s.queue:
			pending++
		default:
			break drain
		}
	}
	released := s.hold.ReleaseAll()

	if pending > 0 || len(released) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()
		if err := s.channel.Send(ctx, rover.Stop); err != nil {
			s.logger.Warn("final stop failed", "error", err)
		} else {
			s.logger.Info("stopped vehicle on shutdown", "held", len(released), "queued", pending)
		}
	}
	s.logger.Info("session stopped")
}
