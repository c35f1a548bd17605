package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
)

// logMsg carries one log record into the console's log box.
type logMsg struct {
	Level slog.Level
	Text  string
}

// tuiLogHandler routes slog records into a running bubbletea program.
// Records logged before SetProgram are dropped. Derived handlers share
// the program pointer.
type tuiLogHandler struct {
	level   slog.Level
	program *atomic.Pointer[tea.Program]
	attrs   []slog.Attr
	group   string
}

func newTUILogHandler(level slog.Level) *tuiLogHandler {
	return &tuiLogHandler{level: level, program: &atomic.Pointer[tea.Program]{}}
}

func (h *tuiLogHandler) SetProgram(p *tea.Program) {
	h.program.Store(p)
}

func (h *tuiLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *tuiLogHandler) Handle(_ context.Context, r slog.Record) error {
	p := h.program.Load()
	if p == nil {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(r.Message)
	write := func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&sb, " %s=%v", key, a.Value)
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)

	// Records are also logged from inside Update, where a synchronous
	// Send would deadlock the event loop.
	go p.Send(logMsg{Level: r.Level, Text: sb.String()})
	return nil
}

func (h *tuiLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &tuiLogHandler{
		level:   h.level,
		program: h.program,
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
		group:   h.group,
	}
}

func (h *tuiLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &tuiLogHandler{level: h.level, program: h.program, attrs: h.attrs, group: group}
}
