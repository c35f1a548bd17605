package command

import (
	"context"
	"fmt"
	"net"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// Broadcaster sends the raw command string as a single UDP datagram.
// There is no acknowledgment; a listening vehicle acts on whatever
// arrives.
type Broadcaster struct {
	conn *net.UDPConn
	addr string
}

// NewBroadcaster opens a UDP socket aimed at addr (host:port). On Linux
// Go sockets already carry SO_BROADCAST, so 255.255.255.255 works.
func NewBroadcaster(addr string) (*Broadcaster, error) {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast address %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("open broadcast socket: %w", err)
	}
	return &Broadcaster{conn: conn, addr: addr}, nil
}

// Send writes one datagram. The context deadline, if any, bounds the write.
func (b *Broadcaster) Send(ctx context.Context, cmd rover.Command) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = b.conn.SetWriteDeadline(deadline)
	}
	if _, err := b.conn.Write([]byte(cmd.String())); err != nil {
		return fmt.Errorf("%w: broadcast to %s: %v", rover.ErrTransport, b.addr, err)
	}
	return nil
}

// Addr returns the destination address.
func (b *Broadcaster) Addr() string { return b.addr }

// Close closes the socket.
func (b *Broadcaster) Close() error {
	return b.conn.Close()
}
