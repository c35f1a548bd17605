package vehicle

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// Motor executes movement commands on the drive hardware.
type Motor interface {
	Drive(cmd rover.Command) error
	Close() error
}

// Wire bytes understood by the drive board.
const (
	codeForward  byte = 'F'
	codeBackward byte = 'B'
	codeLeft     byte = 'L'
	codeRight    byte = 'R'
	codeStop     byte = 'S'
)

// DefaultMinInterval spaces consecutive writes so the board is not flooded.
const DefaultMinInterval = 100 * time.Millisecond

// ByteMotor writes single-byte commands to w. A command equal to the last
// one written is suppressed, and reversing along an axis writes a stop
// before the new direction.
type ByteMotor struct {
	w           io.Writer
	swap        bool
	minInterval time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	last    byte
	lastAt  time.Time
	written []byte // retained for Written
}

// NewByteMotor creates a motor writing to w. swap exchanges the left and
// right bytes for boards whose steering is wired mirrored.
func NewByteMotor(w io.Writer, swap bool, logger *slog.Logger) *ByteMotor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ByteMotor{w: w, swap: swap, minInterval: DefaultMinInterval, logger: logger}
}

// SetMinInterval changes the spacing between writes. Zero disables it.
func (m *ByteMotor) SetMinInterval(d time.Duration) {
	m.mu.Lock()
	m.minInterval = d
	m.mu.Unlock()
}

// Drive writes the byte for cmd. Target commands carry no motion and are
// ignored.
func (m *ByteMotor) Drive(cmd rover.Command) error {
	code, ok := m.code(cmd)
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if code == m.last {
		return nil
	}
	if opposing(code, m.last) {
		if err := m.writeLocked(codeStop); err != nil {
			return err
		}
	}
	return m.writeLocked(code)
}

// Written returns every byte written so far.
func (m *ByteMotor) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written...)
}

// Close is a no-op; the writer belongs to the caller.
func (m *ByteMotor) Close() error { return nil }

func (m *ByteMotor) code(cmd rover.Command) (byte, bool) {
	if cmd.IsStop() {
		return codeStop, true
	}
	switch cmd.Direction() {
	case rover.Forward:
		return codeForward, true
	case rover.Backward:
		return codeBackward, true
	case rover.Left:
		if m.swap {
			return codeRight, true
		}
		return codeLeft, true
	case rover.Right:
		if m.swap {
			return codeLeft, true
		}
		return codeRight, true
	}
	return 0, false
}

func (m *ByteMotor) writeLocked(code byte) error {
	if wait := m.minInterval - time.Since(m.lastAt); wait > 0 {
		time.Sleep(wait)
	}
	if _, err := m.w.Write([]byte{code}); err != nil {
		return fmt.Errorf("write motor command %q: %w", code, err)
	}
	m.last = code
	m.lastAt = time.Now()
	m.written = append(m.written, code)
	m.logger.Debug("motor", "code", string(code))
	return nil
}

func opposing(a, b byte) bool {
	switch {
	case a == codeForward && b == codeBackward, a == codeBackward && b == codeForward:
		return true
	case a == codeLeft && b == codeRight, a == codeRight && b == codeLeft:
		return true
	}
	return false
}

// SerialMotor drives the board over a serial port.
type SerialMotor struct {
	*ByteMotor
	port serial.Port
}

// OpenSerialMotor opens portName at baud and returns a motor writing to it.
func OpenSerialMotor(portName string, baud int, swap bool, logger *slog.Logger) (*SerialMotor, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	return &SerialMotor{ByteMotor: NewByteMotor(port, swap, logger), port: port}, nil
}

// Close stops the vehicle and closes the port.
func (m *SerialMotor) Close() error {
	if err := m.Drive(rover.Stop); err != nil {
		m.logger.Warn("stop on close failed", "error", err)
	}
	return m.port.Close()
}

// LogMotor only logs commands, for running without hardware.
type LogMotor struct {
	logger *slog.Logger
}

// NewLogMotor creates a motor that logs at info level.
func NewLogMotor(logger *slog.Logger) *LogMotor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMotor{logger: logger}
}

// Drive logs cmd.
func (m *LogMotor) Drive(cmd rover.Command) error {
	m.logger.Info("drive", "command", cmd.String())
	return nil
}

// Close is a no-op.
func (m *LogMotor) Close() error { return nil }
