package rover

import (
	"fmt"
	"strings"
)

// targetPrefix marks a target-setting command on the wire.
const targetPrefix = "target:"

// Command is a single instruction for the vehicle. The zero value is not
// a valid command; use Move, Stop or Target.
type Command struct {
	direction Direction
	stop      bool
	target    string
}

// Stop halts the vehicle.
var Stop = Command{stop: true}

// Move returns the command for a motion primitive.
func Move(d Direction) Command {
	return Command{direction: d}
}

// Target returns a target-setting command for label.
func Target(label string) Command {
	return Command{target: label}
}

// Direction returns the motion primitive, or "" for stop and target commands.
func (c Command) Direction() Direction { return c.direction }

// Label returns the target label, or "" for motion commands.
func (c Command) Label() string { return c.target }

// IsStop reports whether c is the stop command.
func (c Command) IsStop() bool { return c.stop }

// IsTarget reports whether c sets a target.
func (c Command) IsTarget() bool { return c.target != "" }

// IsDirectional reports whether c moves the vehicle. Only directional
// commands are subject to the manual-mode guard.
func (c Command) IsDirectional() bool { return c.direction != "" }

// String returns the wire encoding shared by the relay and the broadcast.
func (c Command) String() string {
	switch {
	case c.stop:
		return "stop"
	case c.target != "":
		return targetPrefix + c.target
	default:
		return string(c.direction)
	}
}

// ParseCommand decodes the wire encoding produced by Command.String.
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	if s == "stop" {
		return Stop, nil
	}
	if label, ok := strings.CutPrefix(s, targetPrefix); ok {
		label = strings.TrimSpace(label)
		if label == "" {
			return Command{}, fmt.Errorf("%w: empty target label", ErrParse)
		}
		return Target(label), nil
	}
	if d := Direction(s); d.Valid() {
		return Move(d), nil
	}
	return Command{}, fmt.Errorf("%w: unknown command %q", ErrParse, s)
}
