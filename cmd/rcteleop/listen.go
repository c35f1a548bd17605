package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gwillem/rcteleop/pkg/rover"
	"github.com/gwillem/rcteleop/pkg/vehicle"
)

type ListenCommand struct {
	Port int `long:"port" description:"UDP port (overrides config)"`
}

func (c *ListenCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	port := cfg.Broadcast.Port
	if c.Port > 0 {
		port = c.Port
	}

	listener, err := vehicle.ListenBroadcast(net.JoinHostPort("", strconv.Itoa(port)), newLogger(slog.LevelWarn))
	if err != nil {
		return err
	}
	defer listener.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println(dimStyle.Render(fmt.Sprintf("Listening on %s, Ctrl-C to stop", listener.Addr())))
	err = listener.Serve(ctx, func(cmd rover.Command, from net.Addr) {
		fmt.Printf("%s  %-16s %s\n", time.Now().Format("15:04:05.000"), from, cmd)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
