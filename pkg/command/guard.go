package command

import (
	"fmt"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// ModeReader reports whether manual control is confirmed by the vehicle.
type ModeReader interface {
	Manual() bool
}

// Guard refuses directional commands unless manual mode is confirmed.
// Keyboard input never passes through a disabled button, so the check
// has to live here rather than in the UI.
type Guard struct {
	mode ModeReader
}

// NewGuard creates a guard backed by mode.
func NewGuard(mode ModeReader) *Guard {
	return &Guard{mode: mode}
}

// Allow returns rover.ErrGuardViolation for a directional command while
// manual mode is off. Stop and target commands are always allowed.
func (g *Guard) Allow(cmd rover.Command) error {
	if !cmd.IsDirectional() {
		return nil
	}
	if g.mode == nil || !g.mode.Manual() {
		return fmt.Errorf("%w: %s while manual control is off", rover.ErrGuardViolation, cmd)
	}
	return nil
}
