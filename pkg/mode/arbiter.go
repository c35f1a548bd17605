// Package mode arbitrates between manual and autonomous driving.
//
// The vehicle is the only authority on the active mode. The Arbiter never
// flips a flag on its own: a toggle request is recorded as pending, and
// the confirmed mode changes only when the vehicle replies, at which point
// both flags are overwritten with the reply.
package mode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// Toggler sends mode toggles to the vehicle and returns its reply.
type Toggler interface {
	SetManual(ctx context.Context, enabled bool) (rover.ControlMode, error)
	SetAutonomous(ctx context.Context, enabled bool) (rover.ControlMode, error)
}

// Side names the flag a request targets.
type Side string

const (
	SideManual     Side = "manual"
	SideAutonomous Side = "autonomous"
)

// Request is a toggle awaiting the vehicle's reply.
type Request struct {
	Side    Side
	Enabled bool
	Since   time.Time
}

// Status is a snapshot of the arbiter.
type Status struct {
	Confirmed rover.ControlMode
	Pending   *Request
}

// Arbiter tracks the confirmed control mode.
type Arbiter struct {
	toggler Toggler
	logger  *slog.Logger

	mu        sync.RWMutex
	confirmed rover.ControlMode
	pending   *Request
	seq       uint64
	onChange  func(rover.ControlMode)
}

// NewArbiter creates an arbiter starting in Off.
func NewArbiter(toggler Toggler, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{toggler: toggler, logger: logger}
}

// OnChange registers fn to be called with every confirmed mode.
func (a *Arbiter) OnChange(fn func(rover.ControlMode)) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Status returns the confirmed mode and the pending request, if any.
func (a *Arbiter) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := Status{Confirmed: a.confirmed}
	if a.pending != nil {
		p := *a.pending
		s.Pending = &p
	}
	return s
}

// Mode returns the last confirmed mode.
func (a *Arbiter) Mode() rover.ControlMode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.confirmed
}

// Manual reports whether manual control is confirmed.
func (a *Arbiter) Manual() bool {
	return a.Mode().Manual
}

// RequestManual asks the vehicle to enable or disable manual control.
func (a *Arbiter) RequestManual(ctx context.Context, enabled bool) (rover.ControlMode, error) {
	return a.request(ctx, SideManual, enabled, a.toggler.SetManual)
}

// RequestAutonomous asks the vehicle to enable or disable autonomous driving.
func (a *Arbiter) RequestAutonomous(ctx context.Context, enabled bool) (rover.ControlMode, error) {
	return a.request(ctx, SideAutonomous, enabled, a.toggler.SetAutonomous)
}

// Toggle requests the opposite of the confirmed value of side.
func (a *Arbiter) Toggle(ctx context.Context, side Side) (rover.ControlMode, error) {
	current := a.Mode()
	if side == SideAutonomous {
		return a.RequestAutonomous(ctx, !current.Autonomous)
	}
	return a.RequestManual(ctx, !current.Manual)
}

func (a *Arbiter) request(
	ctx context.Context,
	side Side,
	enabled bool,
	send func(context.Context, bool) (rover.ControlMode, error),
) (rover.ControlMode, error) {
	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.pending = &Request{Side: side, Enabled: enabled, Since: time.Now()}
	a.mu.Unlock()

	reply, err := send(ctx, enabled)
	if err == nil && !reply.Valid() {
		err = fmt.Errorf("%w: vehicle reported manual and autonomous both on", rover.ErrParse)
	}

	a.mu.Lock()
	// Only the latest request owns the pending marker.
	if seq == a.seq {
		a.pending = nil
	}
	if err != nil {
		confirmed := a.confirmed
		a.mu.Unlock()
		a.logger.Warn("mode toggle failed", "side", side, "enabled", enabled, "error", err)
		return confirmed, fmt.Errorf("set %s=%v: %w", side, enabled, err)
	}
	// Last reply received wins, regardless of request order.
	a.confirmed = reply
	onChange := a.onChange
	a.mu.Unlock()

	a.logger.Info("mode confirmed", "mode", reply.State().String(), "manual", reply.Manual, "autonomous", reply.Autonomous)
	if onChange != nil {
		onChange(reply)
	}
	return reply, nil
}
