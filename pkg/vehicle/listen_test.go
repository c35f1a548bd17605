package vehicle

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gwillem/rcteleop/pkg/rover"
)

func TestBroadcastListener(t *testing.T) {
	l, err := ListenBroadcast("127.0.0.1:0", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan rover.Command, 4)
	done := make(chan error, 1)
	go func() {
		done <- l.Serve(ctx, func(cmd rover.Command, _ net.Addr) { got <- cmd })
	}()

	conn, err := net.Dial("udp4", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.Write([]byte("garbage"))
	conn.Write([]byte("backward"))

	select {
	case cmd := <-got:
		if cmd != rover.Move(rover.Backward) {
			t.Errorf("got %v, want backward", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no command received")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
