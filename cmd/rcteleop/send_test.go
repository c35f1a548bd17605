package main

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gwillem/rcteleop/pkg/rover"
)

type sentLog struct {
	mu   sync.Mutex
	cmds []rover.Command
	fail map[string]error
}

func (s *sentLog) Send(ctx context.Context, cmd rover.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return s.fail[cmd.String()]
}

func TestHold(t *testing.T) {
	tests := []struct {
		name string
		cmd  rover.Command
		fail map[string]error
		want []rover.Command
		err  bool
	}{
		{"directional then stop", rover.Move(rover.Forward), nil,
			[]rover.Command{rover.Move(rover.Forward), rover.Stop}, false},
		{"stop alone", rover.Stop, nil, []rover.Command{rover.Stop}, false},
		{"target alone", rover.Target("a cup"), nil, []rover.Command{rover.Target("a cup")}, false},
		{"failed move still stops", rover.Move(rover.Left), map[string]error{"left": errors.New("relay down")},
			[]rover.Command{rover.Move(rover.Left), rover.Stop}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &sentLog{fail: tt.fail}
			err := hold(context.Background(), s, tt.cmd, 10*time.Millisecond, time.Second)
			if (err != nil) != tt.err {
				t.Errorf("hold() error = %v, want error %v", err, tt.err)
			}
			if !slices.Equal(s.cmds, tt.want) {
				t.Errorf("sent = %v, want %v", s.cmds, tt.want)
			}
		})
	}
}

func TestHold_StopsWhenInterrupted(t *testing.T) {
	s := &sentLog{}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	if err := hold(ctx, s, rover.Move(rover.Backward), time.Minute, time.Second); err != nil {
		t.Fatalf("hold() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("hold ran for %s after cancel", elapsed)
	}
	want := []rover.Command{rover.Move(rover.Backward), rover.Stop}
	if !slices.Equal(s.cmds, want) {
		t.Errorf("sent = %v, want %v", s.cmds, want)
	}
}
