package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gwillem/rcteleop/pkg/command"
	"github.com/gwillem/rcteleop/pkg/mode"
	"github.com/gwillem/rcteleop/pkg/rover"
)

type SendCommand struct {
	Manual bool          `long:"manual" description:"Enable manual control before sending"`
	Force  bool          `long:"force" description:"Skip the manual-mode check for directional commands"`
	For    time.Duration `long:"for" default:"500ms" description:"How long a directional command is held before the stop"`
	Args   struct {
		Command []string `positional-arg-name:"command" required:"1" description:"forward, backward, left, right, stop or target:<label>"`
	} `positional-args:"yes"`
}

func (c *SendCommand) Execute(args []string) error {
	cmd, err := rover.ParseCommand(strings.Join(c.Args.Command, " "))
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(slog.LevelWarn)

	relay := command.NewRelay(command.RelayConfig{
		URL:     cfg.Relay.URL,
		Timeout: cfg.Relay.Timeout,
		Logger:  logger,
	})
	var broadcast command.Sender
	if cfg.Broadcast.Enabled {
		b, err := command.NewBroadcaster(cfg.BroadcastAddr())
		if err != nil {
			return err
		}
		defer b.Close()
		broadcast = b
	}
	channel := command.NewChannel(relay, broadcast, logger)

	if cmd.IsDirectional() && c.For <= 0 {
		return errors.New("--for must be positive for a directional command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*cfg.Relay.Timeout+c.For+time.Second)
	defer cancel()

	// The vehicle has no read-only mode query, so the only confirmed mode
	// available here is the reply to an explicit manual request.
	if cmd.IsDirectional() && !c.Force {
		arbiter := mode.NewArbiter(relay, logger)
		if c.Manual {
			m, err := arbiter.RequestManual(ctx, true)
			if err != nil {
				return fmt.Errorf("enable manual control: %w", err)
			}
			fmt.Println(dimStyle.Render("vehicle mode: " + m.State().String()))
		}
		if err := command.NewGuard(arbiter).Allow(cmd); err != nil {
			return fmt.Errorf("%w (use --manual to enable it, or --force)", err)
		}
	}

	if err := hold(ctx, channel, cmd, c.For, cfg.Relay.Timeout); err != nil {
		return err
	}
	if cmd.IsDirectional() {
		fmt.Println(successStyle.Render(fmt.Sprintf("sent %s for %s, then stop", cmd, c.For)))
	} else {
		fmt.Println(successStyle.Render("sent " + cmd.String()))
	}
	return nil
}

// hold sends cmd and, for a directional command, a stop once d has
// passed or ctx is done. The stop goes out on its own context so an
// interrupted hold still ends with the vehicle stopped.
func hold(ctx context.Context, s command.Sender, cmd rover.Command, d, stopTimeout time.Duration) error {
	err := s.Send(ctx, cmd)
	if !cmd.IsDirectional() {
		return err
	}
	if err == nil {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if stopErr := s.Send(stopCtx, rover.Stop); stopErr != nil {
		err = errors.Join(err, fmt.Errorf("stop: %w", stopErr))
	}
	return err
}
