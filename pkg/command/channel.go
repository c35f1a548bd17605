package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// Channel sends one logical command over every configured transport.
type Channel struct {
	transports []namedSender
	logger     *slog.Logger
}

type namedSender struct {
	name string
	Sender
}

// NewChannel creates a channel over the given transports. Either may be
// nil; a channel with no transports fails every send.
func NewChannel(relay, broadcast Sender, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{logger: logger}
	if relay != nil {
		c.transports = append(c.transports, namedSender{"relay", relay})
	}
	if broadcast != nil {
		c.transports = append(c.transports, namedSender{"broadcast", broadcast})
	}
	return c
}

// Send delivers cmd on every transport. The broadcast leg is attempted
// even when the relay fails. Failures are joined and wrapped with
// rover.ErrTransport; the command is never resent.
func (c *Channel) Send(ctx context.Context, cmd rover.Command) error {
	if len(c.transports) == 0 {
		return fmt.Errorf("%w: no transport configured", rover.ErrTransport)
	}

	var errs []error
	for _, t := range c.transports {
		if err := t.Send(ctx, cmd); err != nil {
			c.logger.Warn("command send failed", "transport", t.name, "command", cmd.String(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		if !errors.Is(err, rover.ErrTransport) {
			err = fmt.Errorf("%w: %w", rover.ErrTransport, err)
		}
		return err
	}
	c.logger.Debug("command sent", "command", cmd.String())
	return nil
}
