package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/rcteleop/pkg/rover"
)

type Options struct {
	Config  string `short:"c" long:"config" default:"rcteleop.yaml" description:"Configuration file"`
	EnvFile string `long:"env-file" default:".env" description:"Environment file with API keys"`
	Verbose []bool `short:"v" long:"verbose" description:"Log more (repeat for debug)"`

	Console ConsoleCommand `command:"console" alias:"ui" description:"Drive the vehicle from the terminal"`
	Setup   SetupCommand   `command:"setup" description:"Write a configuration file"`
	Vehicle VehicleCommand `command:"vehicle" description:"Run the reference vehicle server"`
	Listen  ListenCommand  `command:"listen" description:"Print broadcast commands received on the UDP port"`
	Send    SendCommand    `command:"send" description:"Send a single command to the vehicle"`
	Push    PushCommand    `command:"push" description:"Stream camera frames to the detector"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "rcteleop - teleoperation console for RC vehicles"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, falling back to defaults when
// it does not exist, and loads the env file for API keys.
func loadConfig() (*rover.Config, error) {
	if err := rover.LoadEnv(opts.EnvFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
	}
	cfg, err := rover.LoadConfigFrom(opts.Config)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "No configuration at %s, using defaults. Run 'rcteleop setup' to create one.\n", opts.Config)
		return rover.DefaultConfig(), nil
	}
	return cfg, err
}

func logLevel() slog.Level {
	switch len(opts.Verbose) {
	case 0:
		return slog.LevelWarn
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// newLogger logs to stderr for the non-interactive commands.
func newLogger(minLevel slog.Level) *slog.Logger {
	level := logLevel()
	if level > minLevel {
		level = minLevel
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
