package rover

import "errors"

// Failure classes. Every error returned by this module wraps exactly one
// of them, so callers can branch with errors.Is.
var (
	// ErrTransport is a network failure on the relay, the broadcast
	// socket or a telemetry subscription.
	ErrTransport = errors.New("transport error")

	// ErrParse is a malformed payload or an invalid structured result.
	ErrParse = errors.New("parse error")

	// ErrGuardViolation is a directional command attempted while manual
	// control is not confirmed.
	ErrGuardViolation = errors.New("guard violation")
)
