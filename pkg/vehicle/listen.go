package vehicle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// BroadcastListener receives commands sent by the broadcast transport.
type BroadcastListener struct {
	conn   net.PacketConn
	logger *slog.Logger
}

// ListenBroadcast binds a UDP socket on addr, e.g. ":8888".
func ListenBroadcast(addr string, logger *slog.Logger) (*BroadcastListener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &BroadcastListener{conn: conn, logger: logger}, nil
}

// Addr returns the bound address.
func (l *BroadcastListener) Addr() net.Addr { return l.conn.LocalAddr() }

// Serve calls handle for every well-formed datagram until ctx is
// cancelled. Malformed datagrams are logged and skipped.
func (l *BroadcastListener) Serve(ctx context.Context, handle func(cmd rover.Command, from net.Addr)) error {
	stop := context.AfterFunc(ctx, func() { l.conn.Close() })
	defer stop()

	buf := make([]byte, 512)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("read broadcast: %w", err)
		}
		cmd, err := rover.ParseCommand(string(buf[:n]))
		if err != nil {
			l.logger.Warn("ignoring datagram", "from", from.String(), "error", err)
			continue
		}
		handle(cmd, from)
	}
}

// Close closes the socket.
func (l *BroadcastListener) Close() error {
	return l.conn.Close()
}
