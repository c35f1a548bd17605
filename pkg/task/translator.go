// Package task turns free-text operator tasks into a target and a list
// of obstacles, and forwards the target to the vehicle.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gwillem/rcteleop/pkg/command"
	"github.com/gwillem/rcteleop/pkg/rover"
)

// ErrSuperseded is returned for a result that completed after a newer
// submission had already been applied.
var ErrSuperseded = errors.New("superseded by a newer task")

// Parser turns task text into a structured result. vocab is nil when no
// closed vocabulary is enforced.
type Parser interface {
	Parse(ctx context.Context, text string, vocab *Vocabulary) (rover.TaskResult, error)
}

// PromptUpdater receives the full target/obstacle list.
type PromptUpdater interface {
	UpdatePrompt(ctx context.Context, result rover.TaskResult) error
}

// Config configures a Translator.
type Config struct {
	Parser     Parser
	Sender     command.Sender
	Prompts    PromptUpdater
	Vocabulary *Vocabulary
	Logger     *slog.Logger
}

// Translator submits task text and keeps the last applied result.
type Translator struct {
	parser  Parser
	sender  command.Sender
	prompts PromptUpdater
	vocab   *Vocabulary
	logger  *slog.Logger

	mu        sync.Mutex
	submitted uint64
	applied   uint64
	current   rover.TaskResult

	forwardMu sync.Mutex
}

// NewTranslator creates a translator.
func NewTranslator(cfg Config) *Translator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Translator{
		parser:  cfg.Parser,
		sender:  cfg.Sender,
		prompts: cfg.Prompts,
		vocab:   cfg.Vocabulary,
		logger:  cfg.Logger,
	}
}

// Current returns the last applied result and whether there is one.
func (t *Translator) Current() (rover.TaskResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.applied > 0
}

// Submit parses text and, if no newer submission has been applied in the
// meantime, stores the result and forwards it to the vehicle. On any
// error the previous result stays in place.
func (t *Translator) Submit(ctx context.Context, text string) (rover.TaskResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return rover.TaskResult{}, fmt.Errorf("%w: empty task", rover.ErrParse)
	}

	t.mu.Lock()
	t.submitted++
	seq := t.submitted
	t.mu.Unlock()

	result, err := t.parser.Parse(ctx, text, t.vocab)
	if err == nil && t.vocab != nil {
		err = t.vocab.Validate(result)
	}
	if err != nil {
		t.logger.Warn("task rejected", "task", text, "error", err)
		return rover.TaskResult{}, fmt.Errorf("task %q: %w", text, err)
	}

	t.mu.Lock()
	if seq < t.applied {
		t.mu.Unlock()
		t.logger.Info("discarding stale task result", "task", text, "seq", seq)
		return result, ErrSuperseded
	}
	t.applied = seq
	t.current = result
	t.mu.Unlock()

	t.logger.Info("task applied", "target", result.Target, "obstacles", strings.Join(result.Obstacles, ", "))
	t.forward(ctx, seq, result)
	return result, nil
}

func (t *Translator) forward(ctx context.Context, seq uint64, result rover.TaskResult) {
	t.forwardMu.Lock()
	defer t.forwardMu.Unlock()

	t.mu.Lock()
	stale := seq != t.applied
	t.mu.Unlock()
	if stale {
		return
	}

	if t.sender != nil {
		if err := t.sender.Send(ctx, rover.Target(result.Target)); err != nil {
			t.logger.Warn("target command failed", "target", result.Target, "error", err)
		}
	}
	if t.prompts != nil {
		if err := t.prompts.UpdatePrompt(ctx, result); err != nil {
			t.logger.Warn("prompt update failed", "error", err)
		}
	}
}
