package teleop

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"math"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gwillem/rcteleop/pkg/rover"
	"github.com/gwillem/rcteleop/pkg/task"
	"github.com/gwillem/rcteleop/pkg/telemetry"
	"github.com/gwillem/rcteleop/pkg/vehicle"
	"github.com/gwillem/rcteleop/pkg/video"
)

type motorLog struct {
	mu   sync.Mutex
	cmds []rover.Command
}

func (m *motorLog) Drive(cmd rover.Command) error {
	m.mu.Lock()
	m.cmds = append(m.cmds, cmd)
	m.mu.Unlock()
	return nil
}

func (m *motorLog) Close() error { return nil }

func (m *motorLog) snapshot() []rover.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.cmds)
}

type fixedParser struct {
	result rover.TaskResult
}

func (p fixedParser) Parse(context.Context, string, *task.Vocabulary) (rover.TaskResult, error) {
	return p.result, nil
}

type harness struct {
	url     string
	session *Session
	vehicle *vehicle.Server
	motor   *motorLog
	cancel  context.CancelFunc
	done    chan error
}

func newHarness(t *testing.T, parser task.Parser) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	motor := &motorLog{}
	v := vehicle.NewServer(vehicle.Config{Motor: motor})
	server := httptest.NewServer(v.Handler())
	t.Cleanup(server.Close)

	s, err := NewSession(Config{
		RelayURL:     server.URL,
		RelayTimeout: time.Second,
		Telemetry: telemetry.Config{
			TranscriptURL:     server.URL + "/speech_stream",
			BoxesURL:          server.URL + "/bbox_stream",
			ReconnectDelay:    20 * time.Millisecond,
			MaxReconnectDelay: 100 * time.Millisecond,
		},
		Parser:       parser,
		SourceWidth:  640,
		SourceHeight: 480,
		Hz:           50,
		SizePoll:     20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	h := &harness{url: server.URL, session: s, vehicle: v, motor: motor}
	t.Cleanup(func() {
		h.stop(t)
		s.Close()
	})
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.session.Start(ctx) }()
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestSession_PressRefusedWithoutManual(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	err := h.session.Press(rover.Forward)
	if !errors.Is(err, rover.ErrGuardViolation) {
		t.Fatalf("Press error = %v, want ErrGuardViolation", err)
	}
	if h.session.Held(rover.Forward) {
		t.Error("refused press was recorded as held")
	}
	if err := h.session.Send(rover.Stop); err != nil {
		t.Errorf("stop refused: %v", err)
	}
}

func TestSession_PressThenRelease(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	m, err := h.session.RequestManual(context.Background(), true)
	if err != nil {
		t.Fatalf("RequestManual: %v", err)
	}
	if !m.Manual {
		t.Fatalf("mode = %+v, want manual", m)
	}

	if err := h.session.Press(rover.Forward); err != nil {
		t.Fatalf("Press: %v", err)
	}
	// Repeated press edges while held are absorbed.
	h.session.Press(rover.Forward)
	h.session.Release(rover.Forward)
	h.session.Release(rover.Forward)

	want := []rover.Command{rover.Move(rover.Forward), rover.Stop}
	waitFor(t, "forward then stop", func() bool { return len(h.motor.snapshot()) >= len(want) })
	time.Sleep(50 * time.Millisecond)
	if got := h.motor.snapshot(); !slices.Equal(got, want) {
		t.Errorf("motor = %v, want %v", got, want)
	}
}

func TestSession_SendRefusesMotion(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	if _, err := h.session.RequestManual(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	if err := h.session.Send(rover.Move(rover.Left)); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("Send(left) error = %v, want ErrNotHeld", err)
	}
	h.session.Release(rover.Left)
	if err := h.session.Send(rover.Target("a cup")); err != nil {
		t.Fatalf("Send(target) error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	h.stop(t)

	for _, cmd := range h.motor.snapshot() {
		if cmd.IsDirectional() {
			t.Errorf("motor = %v, vehicle was left moving", h.motor.snapshot())
		}
	}
}

func TestSession_LeaveStops(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	if _, err := h.session.RequestManual(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	h.session.Press(rover.Left)
	h.session.Leave(rover.Left)
	h.session.Release(rover.Left)

	want := []rover.Command{rover.Move(rover.Left), rover.Stop}
	waitFor(t, "left then stop", func() bool { return len(h.motor.snapshot()) >= len(want) })
	time.Sleep(50 * time.Millisecond)
	if got := h.motor.snapshot(); !slices.Equal(got, want) {
		t.Errorf("motor = %v, want %v", got, want)
	}
}

func TestSession_ModeLossReleasesHeld(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	ctx := context.Background()
	if _, err := h.session.RequestManual(ctx, true); err != nil {
		t.Fatal(err)
	}
	h.session.Press(rover.Backward)
	waitFor(t, "backward", func() bool { return len(h.motor.snapshot()) > 0 })

	m, err := h.session.RequestAutonomous(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if m.Manual || !m.Autonomous {
		t.Fatalf("mode = %+v, want autonomous only", m)
	}
	if h.session.Held(rover.Backward) {
		t.Error("backward still held after manual was lost")
	}
	if err := h.session.Press(rover.Backward); !errors.Is(err, rover.ErrGuardViolation) {
		t.Errorf("Press after mode loss = %v, want ErrGuardViolation", err)
	}
	waitFor(t, "stop", func() bool {
		cmds := h.motor.snapshot()
		return len(cmds) > 1 && cmds[len(cmds)-1].IsStop()
	})
}

func TestSession_StopOnShutdown(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	if _, err := h.session.RequestManual(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	h.session.Press(rover.Right)
	waitFor(t, "right", func() bool { return len(h.motor.snapshot()) == 1 })

	h.stop(t)

	cmds := h.motor.snapshot()
	if len(cmds) != 2 || !cmds[1].IsStop() {
		t.Errorf("motor = %v, want [right stop]", cmds)
	}
	if h.session.Held(rover.Right) {
		t.Error("direction still held after shutdown")
	}
}

func TestSession_OverlayFrame(t *testing.T) {
	h := newHarness(t, nil)
	h.session.SetDisplaySize(900, 600)
	h.start()

	waitFor(t, "box feed", func() bool { return h.session.Snapshot().Feeds.Boxes })
	err := h.vehicle.PublishBoxes([]rover.DetectionBox{
		{X1: 100, Y1: 100, X2: 200, Y2: 200, Confidence: 0.9, Label: "cup"},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.vehicle.PublishTranscript("find the cup")

	var frame Frame
	deadline := time.After(3 * time.Second)
	for len(frame.Boxes) == 0 || frame.Transcript == "" {
		select {
		case frame = <-h.session.States():
		case <-deadline:
			t.Fatalf("no frame with boxes and transcript, last = %+v", frame)
		}
	}

	g := frame.Geometry
	if !near(g.OffsetX, 50) || !near(g.OffsetY, 0) || !near(g.ScaleX, 1.25) || !near(g.ScaleY, 1.25) {
		t.Errorf("geometry = %+v", g)
	}
	b := frame.Boxes[0]
	if !near(b.X1, 175) || !near(b.Y1, 125) || !near(b.X2, 300) || !near(b.Y2, 250) {
		t.Errorf("box = %+v, want (175,125)-(300,250)", b)
	}
	if b.IsTarget {
		t.Error("box highlighted without a task")
	}
	if frame.Transcript != "find the cup" {
		t.Errorf("transcript = %q", frame.Transcript)
	}
}

func TestSession_TaskHighlightsTarget(t *testing.T) {
	h := newHarness(t, fixedParser{result: rover.TaskResult{Target: "cup", Obstacles: []string{"chair"}}})
	h.session.SetDisplaySize(640, 480)
	h.start()

	if _, err := h.session.SubmitTask(context.Background(), "go to the cup"); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if _, current := h.vehicle.State().Prompt(); current.Target != "cup" {
		t.Errorf("vehicle target = %q, want cup", current.Target)
	}

	h.vehicle.PublishBoxes([]rover.DetectionBox{
		{X1: 10, Y1: 10, X2: 50, Y2: 50, Confidence: 0.8, Label: "a cup"},
		{X1: 60, Y1: 60, X2: 90, Y2: 90, Confidence: 0.7, Label: "chair"},
	})
	waitFor(t, "boxes", func() bool { return len(h.session.Snapshot().Boxes) == 2 })

	f := h.session.Snapshot()
	if !f.HasTask || f.Task.Target != "cup" {
		t.Errorf("task = %+v (has %v)", f.Task, f.HasTask)
	}
	if !f.Boxes[0].IsTarget || f.Boxes[1].IsTarget {
		t.Errorf("targets = %v,%v, want true,false", f.Boxes[0].IsTarget, f.Boxes[1].IsTarget)
	}
}

func TestSession_SubmitWithoutParser(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.session.SubmitTask(context.Background(), "find a cup"); !errors.Is(err, rover.ErrParse) {
		t.Errorf("SubmitTask error = %v, want ErrParse", err)
	}
}

func TestSession_LearnsSourceSize(t *testing.T) {
	h := newHarness(t, nil)
	h.session.SetDisplaySize(900, 600)
	h.start()

	var img bytes.Buffer
	if err := jpeg.Encode(&img, image.NewGray(image.Rect(0, 0, 1280, 720)), nil); err != nil {
		t.Fatal(err)
	}
	pusher := video.NewPusher(nil, video.PusherConfig{URL: h.url + "/video_feed"})
	if err := pusher.Push(context.Background(), video.Frame{JPEG: img.Bytes(), Width: 1280, Height: 720}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	waitFor(t, "1280x720 source", func() bool {
		g := h.session.Geometry()
		return g.SourceWidth == 1280 && g.SourceHeight == 720
	})

	// 900x600 is taller than 16:9, so the bars go above and below.
	g := h.session.Geometry()
	if !near(g.ScaleX, 900.0/1280) || !near(g.OffsetX, 0) || !near(g.OffsetY, (600-720*900.0/1280)/2) {
		t.Errorf("geometry = %+v", g)
	}
}

func TestSession_GeometryInvalidUntilSized(t *testing.T) {
	h := newHarness(t, nil)
	if h.session.Geometry().Valid() {
		t.Error("geometry valid before display size is known")
	}
	h.session.SetDisplaySize(640, 480)
	if !h.session.Geometry().Valid() {
		t.Error("geometry invalid after sizing")
	}
	h.session.SetSourceSize(0, 0)
	if h.session.Geometry().Valid() {
		t.Error("geometry valid with zero source")
	}
}

func TestConfigFrom(t *testing.T) {
	t.Setenv("RCTELEOP_TEST_KEY", "sk-test")
	c := rover.DefaultConfig()
	c.Task.APIKeyEnv = "RCTELEOP_TEST_KEY"
	c.Task.Enforce = true
	c.Broadcast.Enabled = true

	cfg := ConfigFrom(c, nil)
	if cfg.RelayURL != "http://localhost:7860" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.BroadcastAddr != "255.255.255.255:8888" {
		t.Errorf("BroadcastAddr = %q", cfg.BroadcastAddr)
	}
	if cfg.Parser == nil {
		t.Error("no parser with key set")
	}
	if cfg.Vocabulary == nil || !cfg.Vocabulary.Contains("cup") {
		t.Error("enforced vocabulary should default to COCO")
	}

	c.Task.APIKeyEnv = "RCTELEOP_TEST_UNSET"
	if ConfigFrom(c, nil).Parser != nil {
		t.Error("parser configured without a key")
	}
}
