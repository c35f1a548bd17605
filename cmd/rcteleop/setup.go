package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.bug.st/serial"

	"github.com/gwillem/rcteleop/pkg/rover"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const noSerialPort = ""

type SetupCommand struct{}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("rcteleop Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := rover.LoadConfigFrom(opts.Config)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = rover.DefaultConfig()
	case err != nil:
		return err
	default:
		fmt.Printf("Editing %s\n\n", opts.Config)
	}

	broadcastPort := strconv.Itoa(cfg.Broadcast.Port)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Vehicle URL").
				Description("Where the vehicle serves /control and /motor-control").
				Value(&cfg.Relay.URL).
				Validate(validateURL("http", "https")),
			huh.NewConfirm().
				Title("Also broadcast commands over UDP?").
				Value(&cfg.Broadcast.Enabled),
			huh.NewInput().
				Title("Broadcast address").
				Value(&cfg.Broadcast.Address),
			huh.NewInput().
				Title("Broadcast port").
				Value(&broadcastPort).
				Validate(validatePort),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Transcript feed").
				Description("SSE (http) or websocket (ws) URL").
				Value(&cfg.Telemetry.TranscriptURL).
				Validate(validateURL("http", "https", "ws", "wss")),
			huh.NewInput().
				Title("Bounding box feed").
				Value(&cfg.Telemetry.BoxesURL).
				Validate(validateURL("http", "https", "ws", "wss")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Task parser model").
				Value(&cfg.Task.Model),
			huh.NewInput().
				Title("API key environment variable").
				Description("Read from the environment or .env, never stored here").
				Value(&cfg.Task.APIKeyEnv),
			huh.NewConfirm().
				Title("Restrict targets to the detector's labels?").
				Value(&cfg.Task.Enforce),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}
	cfg.Broadcast.Port, _ = strconv.Atoi(broadcastPort)

	if err := selectSerialPort(cfg); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}

	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Configuration ━━━"))
	fmt.Println(renderConfigTable(cfg))

	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	if cfg.APIKey() == "" {
		fmt.Printf("Set %s to enable task input.\n", cfg.Task.APIKeyEnv)
	}
	fmt.Println()
	fmt.Println("Start the console with: " + headerStyle.Render("rcteleop console"))
	return nil
}

// selectSerialPort asks which port drives the motors when this machine
// runs the vehicle side.
func selectSerialPort(cfg *rover.Config) error {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Println(dimStyle.Render(fmt.Sprintf("Cannot list serial ports: %v", err)))
	}

	options := []huh.Option[string]{huh.NewOption("None (log commands only)", noSerialPort)}
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		options = append(options, huh.NewOption(port, port))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Motor serial port").
				Description("Only used by 'rcteleop vehicle'").
				Options(options...).
				Value(&cfg.Vehicle.SerialPort),
			huh.NewConfirm().
				Title("Swap left and right?").
				Description("For drive boards wired mirrored").
				Value(&cfg.Vehicle.SwapSteering),
		),
	).Run()
}

func renderConfigTable(cfg *rover.Config) string {
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableKeyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)

	broadcast := "off"
	if cfg.Broadcast.Enabled {
		broadcast = cfg.BroadcastAddr()
	}
	serialPort := cfg.Vehicle.SerialPort
	if serialPort == noSerialPort {
		serialPort = "none"
	}
	key := "missing"
	if cfg.APIKey() != "" {
		key = "set"
	}

	rows := [][]string{
		{"Vehicle", cfg.Relay.URL},
		{"Broadcast", broadcast},
		{"Transcript feed", cfg.Telemetry.TranscriptURL},
		{"Box feed", cfg.Telemetry.BoxesURL},
		{"Task model", cfg.Task.Model},
		{"API key", fmt.Sprintf("%s (%s)", cfg.Task.APIKeyEnv, key)},
		{"Motor port", serialPort},
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Setting", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 0 {
				return tableKeyStyle
			}
			return tableCellStyle
		})
	return t.Render()
}

func validateURL(schemes ...string) func(string) error {
	return func(s string) error {
		if s == "" {
			return nil
		}
		u, err := url.Parse(s)
		if err != nil {
			return err
		}
		for _, scheme := range schemes {
			if u.Scheme == scheme && u.Host != "" {
				return nil
			}
		}
		return fmt.Errorf("want a %s URL", strings.Join(schemes, "/"))
	}
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be 1-65535")
	}
	return nil
}
