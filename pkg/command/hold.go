package command

import (
	"sync"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// HoldTracker records press/release edges per direction so that every
// sent direction is followed by exactly one stop, and no stop is emitted
// without a matching press.
type HoldTracker struct {
	mu   sync.Mutex
	held map[rover.Direction]bool
}

// NewHoldTracker creates a tracker with nothing held.
func NewHoldTracker() *HoldTracker {
	return &HoldTracker{held: make(map[rover.Direction]bool)}
}

// Press records a press of d. It returns true on a press edge, meaning
// the directional command should be sent; repeated presses while held
// return false.
func (h *HoldTracker) Press(d rover.Direction) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held[d] {
		return false
	}
	h.held[d] = true
	return true
}

// Release records a release of d. It returns true on a release edge,
// meaning a stop should be sent.
func (h *HoldTracker) Release(d rover.Direction) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.held[d] {
		return false
	}
	delete(h.held, d)
	return true
}

// Leave handles the pointer leaving a control while pressed. It behaves
// like Release; a leave without a press is ignored.
func (h *HoldTracker) Leave(d rover.Direction) bool {
	return h.Release(d)
}

// Cancel forgets a press whose command never went out, so it will not
// produce a stop later.
func (h *HoldTracker) Cancel(d rover.Direction) {
	h.mu.Lock()
	delete(h.held, d)
	h.mu.Unlock()
}

// ReleaseAll releases every held direction and returns them.
func (h *HoldTracker) ReleaseAll() []rover.Direction {
	h.mu.Lock()
	defer h.mu.Unlock()
	var released []rover.Direction
	for _, d := range rover.AllDirections() {
		if h.held[d] {
			released = append(released, d)
			delete(h.held, d)
		}
	}
	return released
}

// Held reports whether d is currently pressed.
func (h *HoldTracker) Held(d rover.Direction) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.held[d]
}
