// Package vehicle is a reference implementation of the vehicle side of the
// teleoperation protocol. It serves the HTTP control endpoints, the two
// telemetry feeds and drives a motor, so the console can be exercised
// without the real car.
package vehicle

import (
	"sync"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// State is the vehicle's authoritative control mode and detector prompt.
type State struct {
	mu         sync.Mutex
	manual     bool
	autonomous bool
	prompt     rover.TaskResult
	promptText string
}

// SetManual applies a manual toggle. Enabling manual control disables
// autonomous driving; disabling it leaves autonomous as it was.
func (s *State) SetManual(enabled bool) rover.ControlMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		s.autonomous = false
	}
	s.manual = enabled
	return s.modeLocked()
}

// SetAutonomous applies an autonomous toggle, the mirror of SetManual.
func (s *State) SetAutonomous(enabled bool) rover.ControlMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		s.manual = false
	}
	s.autonomous = enabled
	return s.modeLocked()
}

// Mode returns the current control mode.
func (s *State) Mode() rover.ControlMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeLocked()
}

func (s *State) modeLocked() rover.ControlMode {
	return rover.ControlMode{Manual: s.manual, Autonomous: s.autonomous}
}

// SetPrompt records the detector prompt and task.
func (s *State) SetPrompt(text string, task rover.TaskResult) {
	s.mu.Lock()
	s.promptText = text
	s.prompt = task
	s.mu.Unlock()
}

// Prompt returns the last prompt text and task.
func (s *State) Prompt() (string, rover.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptText, s.prompt
}
