package rover

// ModeState is the arbitration state derived from a ControlMode.
type ModeState int

const (
	Off ModeState = iota
	Manual
	Autonomous
)

func (s ModeState) String() string {
	switch s {
	case Manual:
		return "manual"
	case Autonomous:
		return "autonomous"
	default:
		return "off"
	}
}

// ControlMode is the manual/autonomous pair as reported by the vehicle.
// The JSON names follow the vehicle's replies.
type ControlMode struct {
	Manual     bool `json:"motor"`
	Autonomous bool `json:"autonomous"`
}

// Valid reports whether at most one of the two flags is set.
func (m ControlMode) Valid() bool {
	return !(m.Manual && m.Autonomous)
}

// State collapses the flags into a single state. An invalid mode reads as Off.
func (m ControlMode) State() ModeState {
	switch {
	case !m.Valid():
		return Off
	case m.Manual:
		return Manual
	case m.Autonomous:
		return Autonomous
	}
	return Off
}
