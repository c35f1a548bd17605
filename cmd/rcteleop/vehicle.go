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
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/gwillem/rcteleop/pkg/rover"
	"github.com/gwillem/rcteleop/pkg/vehicle"
)

type VehicleCommand struct {
	Listen      string `long:"listen" description:"HTTP listen address (overrides config)"`
	Port        string `long:"port" description:"Motor serial port (overrides config)"`
	Demo        bool   `long:"demo" description:"Publish synthetic detections and transcripts"`
	NoBroadcast bool   `long:"no-broadcast" description:"Do not listen for UDP broadcast commands"`
}

func (c *VehicleCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.Vehicle.Listen = c.Listen
	}
	if c.Port != "" {
		cfg.Vehicle.SerialPort = c.Port
	}
	logger := newLogger(slog.LevelInfo)
	gin.SetMode(gin.ReleaseMode)

	var motor vehicle.Motor
	if cfg.Vehicle.SerialPort != "" {
		m, err := vehicle.OpenSerialMotor(cfg.Vehicle.SerialPort, cfg.Vehicle.BaudRate, cfg.Vehicle.SwapSteering, logger)
		if err != nil {
			return err
		}
		logger.Info("motor on serial port", "port", cfg.Vehicle.SerialPort, "baud", cfg.Vehicle.BaudRate)
		motor = m
	} else {
		logger.Info("no serial port configured, logging motor commands")
		motor = vehicle.NewLogMotor(logger)
	}
	defer motor.Close()

	server := vehicle.NewServer(vehicle.Config{Motor: motor, Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	if !c.NoBroadcast {
		addr := net.JoinHostPort("", strconv.Itoa(cfg.Vehicle.BroadcastPort))
		listener, err := vehicle.ListenBroadcast(addr, logger)
		if err != nil {
			return err
		}
		defer listener.Close()
		logger.Info("listening for broadcast commands", "addr", listener.Addr().String())

		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- listener.Serve(ctx, func(cmd rover.Command, from net.Addr) {
				if err := server.Execute(cmd); err != nil {
					logger.Warn("broadcast command rejected", "command", cmd.String(), "from", from.String(), "error", err)
				}
			})
		}()
	}

	if c.Demo {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- vehicle.RunDemo(ctx, server, cfg.Video.Hz)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop()
		errCh <- server.Run(ctx, cfg.Vehicle.Listen)
	}()

	fmt.Printf("Vehicle running on %s, Ctrl-C to stop\n", cfg.Vehicle.Listen)
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
