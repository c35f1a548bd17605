package vehicle

import (
	"bufio"
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/gwillem/rcteleop/pkg/rover"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordMotor struct {
	cmds []rover.Command
}

func (m *recordMotor) Drive(cmd rover.Command) error {
	m.cmds = append(m.cmds, cmd)
	return nil
}

func (m *recordMotor) Close() error { return nil }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestControlRequiresManual(t *testing.T) {
	motor := &recordMotor{}
	s := NewServer(Config{Motor: motor})
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/control", `{"direction":"forward"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := w.Body.String(); got != "Motor control is disabled" {
		t.Errorf("body = %q", got)
	}
	if len(motor.cmds) != 0 {
		t.Errorf("motor drove %v while manual was off", motor.cmds)
	}

	// Target commands carry no motion and pass regardless of mode.
	if w := do(t, h, http.MethodPost, "/control", `{"direction":"target:cup"}`); w.Code != http.StatusOK {
		t.Errorf("target status = %d, want 200", w.Code)
	}

	do(t, h, http.MethodPost, "/motor-control", `{"enabled":true}`)
	w = do(t, h, http.MethodPost, "/control", `{"direction":"forward"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}
	if len(motor.cmds) != 1 || motor.cmds[0] != rover.Move(rover.Forward) {
		t.Errorf("motor = %v, want [forward]", motor.cmds)
	}
}

func TestControlBadRequests(t *testing.T) {
	h := NewServer(Config{Motor: &recordMotor{}}).Handler()
	tests := []struct {
		name string
		body string
	}{
		{"not json", `forward`},
		{"missing direction", `{}`},
		{"unknown direction", `{"direction":"sideways"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, http.MethodPost, "/control", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestModeToggles(t *testing.T) {
	h := NewServer(Config{Motor: &recordMotor{}}).Handler()

	steps := []struct {
		path    string
		enabled bool
		want    rover.ControlMode
	}{
		{"/motor-control", true, rover.ControlMode{Manual: true}},
		{"/autonomous-control", true, rover.ControlMode{Autonomous: true}},
		{"/motor-control", false, rover.ControlMode{Autonomous: true}},
		{"/motor-control", true, rover.ControlMode{Manual: true}},
		{"/autonomous-control", false, rover.ControlMode{Manual: true}},
		{"/motor-control", false, rover.ControlMode{}},
	}
	for i, step := range steps {
		body, _ := json.Marshal(map[string]bool{"enabled": step.enabled})
		w := do(t, h, http.MethodPost, step.path, string(body))
		if w.Code != http.StatusOK {
			t.Fatalf("step %d: status = %d", i, w.Code)
		}
		var got rover.ControlMode
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("step %d: decode: %v", i, err)
		}
		if got != step.want {
			t.Errorf("step %d %s(%v) = %+v, want %+v", i, step.path, step.enabled, got, step.want)
		}
	}
}

func TestDisablingManualStopsMotor(t *testing.T) {
	motor := &recordMotor{}
	h := NewServer(Config{Motor: motor}).Handler()

	do(t, h, http.MethodPost, "/motor-control", `{"enabled":true}`)
	do(t, h, http.MethodPost, "/control", `{"direction":"left"}`)
	do(t, h, http.MethodPost, "/autonomous-control", `{"enabled":true}`)

	if n := len(motor.cmds); n != 2 || !motor.cmds[1].IsStop() {
		t.Errorf("motor = %v, want [left stop]", motor.cmds)
	}
}

func TestUpdatePrompt(t *testing.T) {
	s := NewServer(Config{Motor: &recordMotor{}})
	h := s.Handler()

	if w := do(t, h, http.MethodPost, "/update-prompt", `{"target":"cup"}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty prompt status = %d, want 400", w.Code)
	}

	w := do(t, h, http.MethodPost, "/update-prompt",
		`{"prompt":"[a cup, a chair]","target":"cup","obstacles":["chair"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	prompt, task := s.State().Prompt()
	if prompt != "[a cup, a chair]" || task.Target != "cup" || len(task.Obstacles) != 1 {
		t.Errorf("state = %q %+v", prompt, task)
	}
}

func TestVideoFeed(t *testing.T) {
	var gotW, gotH int
	s := NewServer(Config{
		Motor:   &recordMotor{},
		OnFrame: func(_ []byte, w, h int) { gotW, gotH = w, h },
	})

	var img bytes.Buffer
	if err := jpeg.Encode(&img, image.NewGray(image.Rect(0, 0, 32, 24)), nil); err != nil {
		t.Fatal(err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("frame", "frame.jpg")
	fw.Write(img.Bytes())
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/video_feed", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if gotW != 32 || gotH != 24 {
		t.Errorf("OnFrame size = %dx%d, want 32x24", gotW, gotH)
	}
	if _, _, frames := s.FrameSize(); frames != 1 {
		t.Errorf("frames = %d, want 1", frames)
	}

	if w := do(t, s.Handler(), http.MethodPost, "/video_feed", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing frame status = %d, want 400", w.Code)
	}
}

func TestSSEStream(t *testing.T) {
	s := NewServer(Config{Motor: &recordMotor{}})
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/speech_stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	waitSubscribers(t, s, 1, 0)
	s.PublishTranscript("hello\nworld")

	lines := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	want := []string{"data: hello", "data: world", ""}
	for _, w := range want {
		select {
		case got := <-lines:
			if got != w {
				t.Fatalf("line = %q, want %q", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}
}

func TestWebSocketStream(t *testing.T) {
	s := NewServer(Config{Motor: &recordMotor{}})
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	// Published before anyone subscribed: delivered on connect.
	if err := s.PublishBoxes([]rover.DetectionBox{{X1: 1, Y1: 2, X2: 3, Y2: 4, Confidence: 0.5}}); err != nil {
		t.Fatal(err)
	}

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/bbox_stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	boxes, err := rover.ParseBoxes(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 1 || boxes[0].X2 != 3 {
		t.Errorf("boxes = %+v", boxes)
	}
}

func TestStatus(t *testing.T) {
	s := NewServer(Config{Motor: &recordMotor{}})
	s.State().SetManual(true)

	w := do(t, s.Handler(), http.MethodGet, "/status", "")
	body, _ := io.ReadAll(w.Body)
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got["motor"] != true || got["autonomous"] != false {
		t.Errorf("status = %v", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func waitSubscribers(t *testing.T, s *Server, transcripts, boxes int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tr, bx := s.Subscribers()
		if tr >= transcripts && bx >= boxes {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscribers never reached %d/%d", transcripts, boxes)
}
