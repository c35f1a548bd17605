package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"

	"github.com/gwillem/rcteleop/pkg/overlay"
	"github.com/gwillem/rcteleop/pkg/rover"
	"github.com/gwillem/rcteleop/pkg/teleop"
	"github.com/gwillem/rcteleop/pkg/telemetry"
	"github.com/gwillem/rcteleop/pkg/vehicle"
)

func newTestModel(t *testing.T) (consoleModel, *teleop.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	server := httptest.NewServer(vehicle.NewServer(vehicle.Config{}).Handler())
	t.Cleanup(server.Close)

	s, err := teleop.NewSession(teleop.Config{
		RelayURL:     server.URL,
		Telemetry:    telemetry.Config{TranscriptURL: server.URL + "/speech_stream"},
		SourceWidth:  640,
		SourceHeight: 480,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	m := newConsoleModel(context.Background(), s, time.Second)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(consoleModel), s
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestConsole_ResizeSetsGeometry(t *testing.T) {
	m, s := newTestModel(t)
	g := s.Geometry()
	if !g.Valid() {
		t.Fatal("geometry invalid after resize")
	}
	if g.DisplayWidth != float64(m.ow) || g.DisplayHeight != float64(m.oh*2) {
		t.Errorf("display = %gx%g, want %dx%d", g.DisplayWidth, g.DisplayHeight, m.ow, m.oh*2)
	}
}

func TestConsole_ResizeRefreshesFrame(t *testing.T) {
	m, _ := newTestModel(t)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 160, Height: 50})
	m = updated.(consoleModel)

	g := m.frame.Geometry
	if g.DisplayWidth != float64(m.ow) || g.DisplayHeight != float64(m.oh*2) {
		t.Errorf("frame display = %gx%g, want %dx%d", g.DisplayWidth, g.DisplayHeight, m.ow, m.oh*2)
	}
}

func TestConsole_KeyNeedsManual(t *testing.T) {
	m, s := newTestModel(t)
	updated, cmd := m.Update(key("up"))
	m = updated.(consoleModel)
	if cmd != nil {
		t.Error("refused key press scheduled a release")
	}
	if s.Held(rover.Forward) {
		t.Error("forward held without manual control")
	}
	if !strings.Contains(m.status, "manual") {
		t.Errorf("status = %q", m.status)
	}
}

func TestConsole_KeyHoldAndRelease(t *testing.T) {
	m, s := newTestModel(t)
	if _, err := s.RequestManual(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	updated, cmd := m.Update(key("w"))
	m = updated.(consoleModel)
	if cmd == nil || !s.Held(rover.Forward) {
		t.Fatal("w did not hold forward")
	}
	first := m.keyGen[rover.Forward]

	// Auto-repeat extends the hold; the first release tick goes stale.
	updated, _ = m.Update(key("up"))
	m = updated.(consoleModel)
	updated, _ = m.Update(keyReleaseMsg{dir: rover.Forward, gen: first})
	m = updated.(consoleModel)
	if !s.Held(rover.Forward) {
		t.Fatal("stale release tick released the key")
	}

	updated, _ = m.Update(keyReleaseMsg{dir: rover.Forward, gen: m.keyGen[rover.Forward]})
	m = updated.(consoleModel)
	if s.Held(rover.Forward) {
		t.Error("forward still held after release tick")
	}
}

func TestConsole_SpaceStops(t *testing.T) {
	m, s := newTestModel(t)
	s.RequestManual(context.Background(), true)

	updated, _ := m.Update(key("a"))
	m = updated.(consoleModel)
	updated, _ = m.Update(key("d"))
	m = updated.(consoleModel)
	if !s.Held(rover.Left) || !s.Held(rover.Right) {
		t.Fatal("left/right not held")
	}
	updated, _ = m.Update(key(" "))
	m = updated.(consoleModel)
	if s.Held(rover.Left) || s.Held(rover.Right) || len(m.keyGen) != 0 {
		t.Error("space did not release everything")
	}
}

func TestConsole_MousePad(t *testing.T) {
	m, s := newTestModel(t)
	s.RequestManual(context.Background(), true)

	px, py := m.padOrigin()
	fx, fy := px+btnW+btnW/2, py+1 // centre of the forward button

	updated, _ := m.Update(tea.MouseMsg{X: fx, Y: fy, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	m = updated.(consoleModel)
	if !s.Held(rover.Forward) {
		t.Fatal("press on forward button did not hold")
	}

	// Moving within the button keeps the hold.
	updated, _ = m.Update(tea.MouseMsg{X: fx + 1, Y: fy, Action: tea.MouseActionMotion, Button: tea.MouseButtonLeft})
	m = updated.(consoleModel)
	if !s.Held(rover.Forward) {
		t.Fatal("motion inside the button released it")
	}

	// Leaving the button while pressed stops.
	updated, _ = m.Update(tea.MouseMsg{X: 0, Y: 0, Action: tea.MouseActionMotion, Button: tea.MouseButtonLeft})
	m = updated.(consoleModel)
	if s.Held(rover.Forward) {
		t.Error("leaving the button did not release it")
	}

	// Release after leaving is a no-op.
	updated, _ = m.Update(tea.MouseMsg{X: 0, Y: 0, Action: tea.MouseActionRelease})
	m = updated.(consoleModel)
	if m.pointer != "" {
		t.Errorf("pointer = %q after release", m.pointer)
	}
}

func TestConsole_MousePressReleasesStalePointer(t *testing.T) {
	m, s := newTestModel(t)
	s.RequestManual(context.Background(), true)

	px, py := m.padOrigin()
	forward := tea.MouseMsg{X: px + btnW + 1, Y: py + 1, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft}
	left := tea.MouseMsg{X: px + 1, Y: py + btnH + 1, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft}

	updated, _ := m.Update(forward)
	m = updated.(consoleModel)
	// The release for forward never arrives.
	updated, _ = m.Update(left)
	m = updated.(consoleModel)

	if s.Held(rover.Forward) {
		t.Error("forward still held after pressing another cell")
	}
	if !s.Held(rover.Left) || m.pointer != rover.Left {
		t.Errorf("pointer = %q, left held = %v", m.pointer, s.Held(rover.Left))
	}

	// A press outside the pad drops the stale hold too.
	updated, _ = m.Update(tea.MouseMsg{X: 0, Y: 0, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	m = updated.(consoleModel)
	if s.Held(rover.Left) || m.pointer != "" {
		t.Error("press outside the pad kept the stale hold")
	}
}

func TestConsole_PadHit(t *testing.T) {
	m, _ := newTestModel(t)
	px, py := m.padOrigin()
	tests := []struct {
		x, y int
		want padCell
		ok   bool
	}{
		{px + btnW, py, padCell{dir: rover.Forward}, true},
		{px, py + btnH, padCell{dir: rover.Left}, true},
		{px + btnW, py + btnH, padCell{stop: true}, true},
		{px + 2*btnW, py + btnH + 2, padCell{dir: rover.Right}, true},
		{px + btnW, py + 2*btnH, padCell{dir: rover.Backward}, true},
		{px, py, padCell{}, false},
		{px + 3*btnW, py, padCell{}, false},
		{px - 1, py + btnH, padCell{}, false},
	}
	for _, tt := range tests {
		got, ok := m.padHit(tt.x, tt.y)
		if ok != tt.ok || got != tt.want {
			t.Errorf("padHit(%d,%d) = %+v,%v want %+v,%v", tt.x, tt.y, got, ok, tt.want, tt.ok)
		}
	}
}

func TestConsole_FrameRendersBoxes(t *testing.T) {
	m, s := newTestModel(t)
	g := s.Geometry()
	box := overlay.Map(rover.DetectionBox{X1: 100, Y1: 100, X2: 400, Y2: 300, Confidence: 0.9, Label: "cup"}, g)
	box.IsTarget = true

	updated, _ := m.Update(frameMsg(teleop.Frame{
		Boxes:    []overlay.DisplayBox{box},
		Geometry: g,
		HasTask:  true,
		Task:     rover.TaskResult{Target: "cup"},
	}))
	m = updated.(consoleModel)

	view := m.View()
	if !strings.Contains(view, "cup 90%") {
		t.Error("box label missing from view")
	}
	if !strings.Contains(view, "target") {
		t.Error("task missing from side panel")
	}
}

func TestConsole_TranscriptEvent(t *testing.T) {
	m, _ := newTestModel(t)
	updated, _ := m.Update(eventMsg(telemetry.Event{
		Kind:       telemetry.Transcript,
		Transcript: "turn left at the door",
		Received:   time.Now(),
	}))
	m = updated.(consoleModel)
	if !strings.Contains(m.transcript.View(), "turn left at the door") {
		t.Error("transcript line not shown")
	}
}

func TestConsole_Quit(t *testing.T) {
	m, s := newTestModel(t)
	s.RequestManual(context.Background(), true)
	updated, _ := m.Update(key("s"))
	m = updated.(consoleModel)

	updated, cmd := m.Update(key("q"))
	m = updated.(consoleModel)
	if !m.quitting || cmd == nil {
		t.Fatal("q did not quit")
	}
	if s.Held(rover.Backward) {
		t.Error("quit left a direction held")
	}
}
