package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// Source is one push connection. Stream calls onOpen once the connection
// is established and onMessage for every payload, and returns when the
// connection ends. A returned error always wraps rover.ErrTransport
// unless ctx was cancelled.
type Source interface {
	Stream(ctx context.Context, onOpen func(), onMessage func([]byte)) error
}

// NewSource picks the transport from the URL scheme: http and https
// subscribe to a server-sent event stream, ws and wss open a websocket
// where each message is one payload.
func NewSource(rawURL string, client *http.Client, dialer *websocket.Dialer) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		if client == nil {
			client = &http.Client{}
		}
		return &sseSource{url: rawURL, client: client}, nil
	case "ws", "wss":
		if dialer == nil {
			dialer = websocket.DefaultDialer
		}
		return &wsSource{url: rawURL, dialer: dialer}, nil
	}
	return nil, fmt.Errorf("unsupported feed scheme %q in %s", u.Scheme, rawURL)
}

type sseSource struct {
	url    string
	client *http.Client
}

func (s *sseSource) Stream(ctx context.Context, onOpen func(), onMessage func([]byte)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", rover.ErrTransport, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", rover.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d", rover.ErrTransport, s.url, resp.StatusCode)
	}
	onOpen()

	scanner := NewSSEScanner(resp.Body)
	for scanner.Next() {
		onMessage([]byte(scanner.Event().Data))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", rover.ErrTransport, s.url, err)
	}
	return fmt.Errorf("%w: %s: stream closed", rover.ErrTransport, s.url)
}

type wsSource struct {
	url    string
	dialer *websocket.Dialer
}

func (s *wsSource) Stream(ctx context.Context, onOpen func(), onMessage func([]byte)) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", rover.ErrTransport, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()
	onOpen()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("%w: %s: closed by server", rover.ErrTransport, s.url)
			}
			return fmt.Errorf("%w: %s: %v", rover.ErrTransport, s.url, err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			onMessage(data)
		}
	}
}
