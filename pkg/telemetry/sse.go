package telemetry

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is one server-sent event.
type SSEEvent struct {
	// Type comes from the "event:" field; empty means "message".
	Type string
	// Data joins the event's "data:" lines with newlines.
	Data string
}

// SSEScanner reads server-sent events from a text/event-stream body.
// Events end at a blank line; comment lines (":...") and unknown fields
// are skipped.
//
//	scanner := NewSSEScanner(body)
//	for scanner.Next() {
//	    handle(scanner.Event())
//	}
//	err := scanner.Err()
type SSEScanner struct {
	reader  *bufio.Reader
	current SSEEvent
	err     error
}

// NewSSEScanner creates a scanner over r.
func NewSSEScanner(r io.Reader) *SSEScanner {
	return &SSEScanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event. It returns false at end of stream or
// on error; Err tells them apart.
func (s *SSEScanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = SSEEvent{}

	var data []string
	var eventType string
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && hasData {
				s.current = SSEEvent{Type: eventType, Data: strings.Join(data, "\n")}
				return true
			}
			return false
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				s.current = SSEEvent{Type: eventType, Data: strings.Join(data, "\n")}
				return true
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if !found {
			field, value = line, ""
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			eventType = value
		}
	}
}

// Event returns the event parsed by the last successful Next.
func (s *SSEScanner) Event() SSEEvent {
	return s.current
}

// Err returns the error that stopped the scanner, or nil on clean EOF.
func (s *SSEScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
