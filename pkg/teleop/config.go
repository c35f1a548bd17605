package teleop

import (
	"log/slog"

	"github.com/gwillem/rcteleop/pkg/rover"
	"github.com/gwillem/rcteleop/pkg/task"
	"github.com/gwillem/rcteleop/pkg/telemetry"
)

// ConfigFrom builds a session configuration from the console config file.
func ConfigFrom(c *rover.Config, logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Config{
		RelayURL:     c.Relay.URL,
		RelayTimeout: c.Relay.Timeout,
		Telemetry: telemetry.Config{
			TranscriptURL:     c.Telemetry.TranscriptURL,
			BoxesURL:          c.Telemetry.BoxesURL,
			ReconnectDelay:    c.Telemetry.ReconnectDelay,
			MaxReconnectDelay: c.Telemetry.MaxReconnectDelay,
		},
		SourceWidth:  c.Video.SourceWidth,
		SourceHeight: c.Video.SourceHeight,
		Hz:           c.Console.Hz,
		SizePoll:     c.Video.SizePoll,
		Logger:       logger,
	}
	if c.Broadcast.Enabled {
		cfg.BroadcastAddr = c.BroadcastAddr()
	}

	if key := c.APIKey(); key != "" {
		cfg.Parser = task.NewOpenAI(task.OpenAIConfig{
			Endpoint: c.Task.Endpoint,
			Model:    c.Task.Model,
			APIKey:   key,
			Timeout:  c.Task.Timeout,
			Logger:   logger.With("component", "parser"),
		})
	} else {
		logger.Warn("no task parser key, task input disabled", "env", c.Task.APIKeyEnv)
	}
	if c.Task.Enforce {
		if len(c.Task.Vocabulary) > 0 {
			cfg.Vocabulary = task.NewVocabulary(c.Task.Vocabulary)
		} else {
			cfg.Vocabulary = task.COCO()
		}
	}
	return cfg
}
