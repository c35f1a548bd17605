// Package command delivers commands to the vehicle.
//
// A logical command may travel over two transports: the Relay, a
// request/response HTTP endpoint on the vehicle, and the Broadcaster, a
// best-effort UDP datagram to the local segment. Channel fans a command
// out to both. Nothing here retries: a failed command is superseded by
// the operator's next action.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// Sender delivers a single command.
type Sender interface {
	Send(ctx context.Context, cmd rover.Command) error
}

// Relay talks to the vehicle-side HTTP endpoints.
type Relay struct {
	base   string
	client *http.Client
	logger *slog.Logger
}

// RelayConfig configures a Relay.
type RelayConfig struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// NewRelay creates a relay for the vehicle at cfg.URL.
func NewRelay(cfg RelayConfig) *Relay {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		base:   strings.TrimRight(cfg.URL, "/"),
		client: client,
		logger: logger,
	}
}

// Send posts {"direction": cmd} to /control.
func (r *Relay) Send(ctx context.Context, cmd rover.Command) error {
	_, err := r.post(ctx, "/control", map[string]string{"direction": cmd.String()})
	return err
}

// SetManual toggles manual motor control and returns the mode the
// vehicle reports afterwards.
func (r *Relay) SetManual(ctx context.Context, enabled bool) (rover.ControlMode, error) {
	return r.toggle(ctx, "/motor-control", enabled)
}

// SetAutonomous toggles autonomous driving and returns the mode the
// vehicle reports afterwards.
func (r *Relay) SetAutonomous(ctx context.Context, enabled bool) (rover.ControlMode, error) {
	return r.toggle(ctx, "/autonomous-control", enabled)
}

// UpdatePrompt tells the vehicle's detector which objects to look for.
func (r *Relay) UpdatePrompt(ctx context.Context, result rover.TaskResult) error {
	obstacles := result.Obstacles
	if obstacles == nil {
		obstacles = []string{}
	}
	_, err := r.post(ctx, "/update-prompt", map[string]any{
		"prompt":    result.Prompt(),
		"target":    result.Target,
		"obstacles": obstacles,
	})
	return err
}

func (r *Relay) toggle(ctx context.Context, path string, enabled bool) (rover.ControlMode, error) {
	body, err := r.post(ctx, path, map[string]bool{"enabled": enabled})
	if err != nil {
		return rover.ControlMode{}, err
	}
	var reply struct {
		Motor      *bool `json:"motor"`
		Autonomous *bool `json:"autonomous"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return rover.ControlMode{}, fmt.Errorf("%w: %s reply: %v", rover.ErrParse, path, err)
	}
	if reply.Motor == nil || reply.Autonomous == nil {
		return rover.ControlMode{}, fmt.Errorf("%w: %s reply missing motor/autonomous: %s", rover.ErrParse, path, body)
	}
	return rover.ControlMode{Manual: *reply.Motor, Autonomous: *reply.Autonomous}, nil
}

// VehicleStatus is the vehicle's own view of its state and camera.
type VehicleStatus struct {
	Mode        rover.ControlMode
	Frames      int64
	FrameWidth  int
	FrameHeight int
}

// Status reads /status. The frame size is zero until the vehicle has
// seen a camera frame.
func (r *Relay) Status(ctx context.Context) (VehicleStatus, error) {
	body, err := r.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return VehicleStatus{}, err
	}
	var reply struct {
		Motor       bool  `json:"motor"`
		Autonomous  bool  `json:"autonomous"`
		Frames      int64 `json:"frames"`
		FrameWidth  int   `json:"frame_width"`
		FrameHeight int   `json:"frame_height"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return VehicleStatus{}, fmt.Errorf("%w: /status reply: %v", rover.ErrParse, err)
	}
	return VehicleStatus{
		Mode:        rover.ControlMode{Manual: reply.Motor, Autonomous: reply.Autonomous},
		Frames:      reply.Frames,
		FrameWidth:  reply.FrameWidth,
		FrameHeight: reply.FrameHeight,
	}, nil
}

// post sends a JSON body and returns the response body of a 2xx reply.
func (r *Relay) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", path, err)
	}
	return r.do(ctx, http.MethodPost, path, data)
}

func (r *Relay) do(ctx context.Context, method, path string, data []byte) ([]byte, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rover.ErrTransport, path, err)
	}
	requestID := uuid.New().String()
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", requestID)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rover.ErrTransport, path, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read reply: %v", rover.ErrTransport, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: status %d: %s",
			rover.ErrTransport, path, resp.StatusCode, strings.TrimSpace(string(reply)))
	}

	r.logger.Debug("relay request", "method", method, "path", path, "request_id", requestID, "status", resp.StatusCode)
	return reply, nil
}
