package task

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

	"github.com/gwillem/rcteleop/pkg/rover"
)

const systemPrompt = `You are a helper that identifies target objects and potential obstacles from user tasks.
Return a JSON object with two fields:
1. "target": The main object to track
2. "obstacles": Array of objects to avoid
Keep descriptions simple and clear. No adjectives, add articles of objects (e.g. "a cup").

Example: {"target": "a cup", "obstacles": ["a chair", "a laptop"]}`

// OpenAI parses task text with a chat-completions model.
type OpenAI struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// OpenAIConfig configures the parser.
type OpenAIConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// NewOpenAI creates a parser for an OpenAI-compatible endpoint.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if cfg.Client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		cfg.Client = &http.Client{Timeout: timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Parse sends text to the model. With a vocabulary the prompt lists the
// allowed labels and the model may answer "none".
func (p *OpenAI) Parse(ctx context.Context, text string, vocab *Vocabulary) (rover.TaskResult, error) {
	prompt := systemPrompt
	if vocab != nil {
		prompt += "\n\nOnly use these labels: " + strings.Join(vocab.Labels(), ", ") +
			`. If no label matches the target, answer {"target": "none", "obstacles": []}.`
	}

	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		MaxTokens:   100,
	})
	if err != nil {
		return rover.TaskResult{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return rover.TaskResult{}, fmt.Errorf("%w: %v", rover.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return rover.TaskResult{}, fmt.Errorf("%w: task parser: %v", rover.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return rover.TaskResult{}, fmt.Errorf("%w: task parser: read: %v", rover.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return rover.TaskResult{}, fmt.Errorf("%w: task parser: status %d: %s",
			rover.ErrTransport, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var chat chatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return rover.TaskResult{}, fmt.Errorf("%w: task parser reply: %v", rover.ErrParse, err)
	}
	if len(chat.Choices) == 0 {
		return rover.TaskResult{}, fmt.Errorf("%w: task parser returned no choices", rover.ErrParse)
	}

	p.logger.Debug("task parsed", "model", p.model, "elapsed", time.Since(start))
	return decodeResult(chat.Choices[0].Message.Content)
}

// decodeResult reads the model's JSON answer, tolerating a fenced code block.
func decodeResult(content string) (rover.TaskResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw struct {
		Target    *string  `json:"target"`
		Obstacles []string `json:"obstacles"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return rover.TaskResult{}, fmt.Errorf("%w: task result %q: %v", rover.ErrParse, content, err)
	}
	if raw.Target == nil || strings.TrimSpace(*raw.Target) == "" {
		return rover.TaskResult{}, fmt.Errorf("%w: task result has no target", rover.ErrParse)
	}
	result := rover.TaskResult{Target: strings.TrimSpace(*raw.Target), Obstacles: []string{}}
	for _, o := range raw.Obstacles {
		if o = strings.TrimSpace(o); o != "" {
			result.Obstacles = append(result.Obstacles, o)
		}
	}
	return result, nil
}
