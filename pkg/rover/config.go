package rover

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "rcteleop.yaml"

// Config holds the console configuration
type Config struct {
	Relay     RelayConfig     `yaml:"relay"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Video     VideoConfig     `yaml:"video"`
	Task      TaskConfig      `yaml:"task"`
	Console   ConsoleConfig   `yaml:"console"`
	Vehicle   VehicleConfig   `yaml:"vehicle"`
}

// RelayConfig points at the vehicle-side request/response endpoint
type RelayConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// BroadcastConfig controls the best-effort UDP transport
type BroadcastConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// TelemetryConfig holds the two push feeds
type TelemetryConfig struct {
	TranscriptURL     string        `yaml:"transcript_url"`
	BoxesURL          string        `yaml:"boxes_url"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
}

// VideoConfig describes the detector-space frame and the optional frame push
type VideoConfig struct {
	SourceWidth  int    `yaml:"source_width"`
	SourceHeight int    `yaml:"source_height"`
	PushURL      string `yaml:"push_url,omitempty"`
	Hz           int    `yaml:"hz"`
	// SizePoll is how often the console asks the vehicle for the real
	// frame size; negative turns it off.
	SizePoll time.Duration `yaml:"size_poll,omitempty"`
}

// TaskConfig configures the LLM task parser
type TaskConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Model      string        `yaml:"model"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Timeout    time.Duration `yaml:"timeout"`
	Vocabulary []string      `yaml:"vocabulary,omitempty"`
	Enforce    bool          `yaml:"enforce_vocabulary"`
}

// ConsoleConfig tunes the interactive console
type ConsoleConfig struct {
	Hz           int           `yaml:"hz"`
	ReleaseAfter time.Duration `yaml:"release_after"`
}

// VehicleConfig is used by the reference vehicle server
type VehicleConfig struct {
	Listen        string `yaml:"listen"`
	BroadcastPort int    `yaml:"broadcast_port"`
	SerialPort    string `yaml:"serial_port,omitempty"`
	BaudRate      int    `yaml:"baud_rate"`
	// SwapSteering exchanges the L and R bytes for boards wired mirrored.
	SwapSteering bool `yaml:"swap_steering,omitempty"`
}

// DefaultConfig returns a configuration for a vehicle on localhost
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Relay.URL == "" {
		c.Relay.URL = "http://localhost:7860"
	}
	if c.Relay.Timeout <= 0 {
		c.Relay.Timeout = 2 * time.Second
	}
	if c.Broadcast.Address == "" {
		c.Broadcast.Address = "255.255.255.255"
	}
	if c.Broadcast.Port == 0 {
		c.Broadcast.Port = 8888
	}
	if c.Telemetry.TranscriptURL == "" {
		c.Telemetry.TranscriptURL = "http://127.0.0.1:5000/speech_stream"
	}
	if c.Telemetry.BoxesURL == "" {
		c.Telemetry.BoxesURL = "http://127.0.0.1:5000/bbox_stream"
	}
	if c.Telemetry.ReconnectDelay <= 0 {
		c.Telemetry.ReconnectDelay = time.Second
	}
	if c.Telemetry.MaxReconnectDelay < c.Telemetry.ReconnectDelay {
		c.Telemetry.MaxReconnectDelay = 10 * c.Telemetry.ReconnectDelay
	}
	if c.Video.SourceWidth <= 0 || c.Video.SourceHeight <= 0 {
		c.Video.SourceWidth, c.Video.SourceHeight = 640, 480
	}
	if c.Video.Hz <= 0 {
		c.Video.Hz = 10
	}
	if c.Task.Endpoint == "" {
		c.Task.Endpoint = "https://api.openai.com/v1/chat/completions"
	}
	if c.Task.Model == "" {
		c.Task.Model = "gpt-3.5-turbo"
	}
	if c.Task.APIKeyEnv == "" {
		c.Task.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Task.Timeout <= 0 {
		c.Task.Timeout = 15 * time.Second
	}
	if c.Console.Hz <= 0 {
		c.Console.Hz = 10
	}
	if c.Console.ReleaseAfter <= 0 {
		c.Console.ReleaseAfter = 500 * time.Millisecond
	}
	if c.Vehicle.Listen == "" {
		c.Vehicle.Listen = ":7860"
	}
	if c.Vehicle.BroadcastPort == 0 {
		c.Vehicle.BroadcastPort = c.Broadcast.Port
	}
	if c.Vehicle.BaudRate <= 0 {
		c.Vehicle.BaudRate = 115200
	}
}

// BroadcastAddr returns host:port for the broadcast transport
func (c *Config) BroadcastAddr() string {
	return net.JoinHostPort(c.Broadcast.Address, strconv.Itoa(c.Broadcast.Port))
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file and fills in defaults
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// LoadEnv reads KEY=value pairs from .env files into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// APIKey returns the task parser key from the configured environment variable
func (c *Config) APIKey() string {
	return os.Getenv(c.Task.APIKeyEnv)
}
