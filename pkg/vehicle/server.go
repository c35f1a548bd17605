package vehicle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// ErrMotorDisabled is returned for motion commands while manual control
// is off.
var ErrMotorDisabled = errors.New("motor control is disabled")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const keepAlive = 15 * time.Second

// Config configures a Server.
type Config struct {
	Motor  Motor
	Logger *slog.Logger
	// OnFrame is called for every frame posted to /video_feed.
	OnFrame func(jpeg []byte, width, height int)
}

// Server serves the vehicle endpoints.
type Server struct {
	state       *State
	motor       Motor
	transcripts *hub
	boxes       *hub
	onFrame     func([]byte, int, int)
	logger      *slog.Logger
	engine      *gin.Engine

	mu          sync.Mutex
	frames      int64
	frameWidth  int
	frameHeight int
}

// NewServer builds the router. The server does not listen until Run.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	motor := cfg.Motor
	if motor == nil {
		motor = NewLogMotor(logger)
	}
	s := &Server{
		state:       &State{},
		motor:       motor,
		transcripts: newHub(),
		boxes:       newHub(),
		onFrame:     cfg.OnFrame,
		logger:      logger,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors)

	r.POST("/control", s.handleControl)
	r.POST("/motor-control", s.handleMotorControl)
	r.POST("/autonomous-control", s.handleAutonomousControl)
	r.POST("/update-prompt", s.handleUpdatePrompt)
	r.POST("/video_feed", s.handleVideoFeed)
	r.GET("/status", s.handleStatus)

	r.GET("/speech_stream", s.streamSSE(s.transcripts))
	r.GET("/bbox_stream", s.streamSSE(s.boxes))
	ws := r.Group("/ws")
	{
		ws.GET("/speech_stream", s.streamWS(s.transcripts))
		ws.GET("/bbox_stream", s.streamWS(s.boxes))
	}

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// State returns the vehicle's control state.
func (s *Server) State() *State { return s.state }

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("vehicle listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.motor.Drive(rover.Stop)
}

// Execute applies cmd as the control endpoint would. Motion requires
// manual control; a stop always reaches the motor.
func (s *Server) Execute(cmd rover.Command) error {
	if cmd.IsTarget() {
		s.logger.Info("target command received", "target", cmd.Label())
		return nil
	}
	if cmd.IsDirectional() && !s.state.Mode().Manual {
		return ErrMotorDisabled
	}
	s.logger.Info("control command received", "command", cmd.String())
	return s.motor.Drive(cmd)
}

// PublishTranscript sends a transcript line to every feed subscriber.
func (s *Server) PublishTranscript(text string) {
	s.transcripts.publish([]byte(text))
}

// PublishBoxes sends a detection set to every feed subscriber.
func (s *Server) PublishBoxes(boxes []rover.DetectionBox) error {
	if boxes == nil {
		boxes = []rover.DetectionBox{}
	}
	data, err := json.Marshal(boxes)
	if err != nil {
		return fmt.Errorf("marshal boxes: %w", err)
	}
	s.boxes.publish(data)
	return nil
}

// Subscribers returns the number of open transcript and box streams.
func (s *Server) Subscribers() (transcripts, boxes int) {
	return s.transcripts.count(), s.boxes.count()
}

// FrameSize returns the size of the last frame posted to /video_feed and
// how many frames arrived.
func (s *Server) FrameSize() (width, height int, frames int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameWidth, s.frameHeight, s.frames
}

type controlRequest struct {
	Direction string `json:"direction"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

type promptRequest struct {
	Prompt    string   `json:"prompt"`
	Target    string   `json:"target"`
	Obstacles []string `json:"obstacles"`
}

func (s *Server) handleControl(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	if req.Direction == "" {
		c.String(http.StatusBadRequest, "Direction is required in the request body")
		return
	}
	cmd, err := rover.ParseCommand(req.Direction)
	if err != nil {
		c.String(http.StatusBadRequest, "Unknown direction: %s", req.Direction)
		return
	}
	if err := s.Execute(cmd); err != nil {
		if errors.Is(err, ErrMotorDisabled) {
			c.String(http.StatusBadRequest, "Motor control is disabled")
			return
		}
		c.String(http.StatusInternalServerError, "Error processing control command: %v", err)
		return
	}
	c.String(http.StatusOK, "Control command received: %s", req.Direction)
}

func (s *Server) handleMotorControl(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	mode := s.state.SetManual(req.Enabled)
	s.logger.Info("motor control", "enabled", req.Enabled, "mode", mode.State().String())
	if !mode.Manual {
		s.stopMotor()
	}
	c.JSON(http.StatusOK, gin.H{"motor": mode.Manual, "autonomous": mode.Autonomous})
}

func (s *Server) handleAutonomousControl(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	mode := s.state.SetAutonomous(req.Enabled)
	s.logger.Info("autonomous control", "enabled", req.Enabled, "mode", mode.State().String())
	if !mode.Manual {
		s.stopMotor()
	}
	c.JSON(http.StatusOK, gin.H{"motor": mode.Manual, "autonomous": mode.Autonomous})
}

func (s *Server) stopMotor() {
	if err := s.motor.Drive(rover.Stop); err != nil {
		s.logger.Warn("stop failed", "error", err)
	}
}

func (s *Server) handleUpdatePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.String(http.StatusBadRequest, "Prompt is required in the request body")
		return
	}
	s.state.SetPrompt(req.Prompt, rover.TaskResult{Target: req.Target, Obstacles: req.Obstacles})
	s.logger.Info("prompt updated", "prompt", req.Prompt, "target", req.Target, "obstacles", req.Obstacles)
	c.String(http.StatusOK, "Prompt updated successfully: %s", req.Prompt)
}

func (s *Server) handleVideoFeed(c *gin.Context) {
	fh, err := c.FormFile("frame")
	if err != nil {
		c.String(http.StatusBadRequest, "No frame received")
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.String(http.StatusInternalServerError, "Error reading frame: %v", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.String(http.StatusInternalServerError, "Error reading frame: %v", err)
		return
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid frame: %v", err)
		return
	}

	s.mu.Lock()
	s.frames++
	s.frameWidth, s.frameHeight = cfg.Width, cfg.Height
	s.mu.Unlock()

	if s.onFrame != nil {
		s.onFrame(data, cfg.Width, cfg.Height)
	}
	c.String(http.StatusOK, "Frame received")
}

func (s *Server) handleStatus(c *gin.Context) {
	mode := s.state.Mode()
	prompt, task := s.state.Prompt()
	transcripts, boxes := s.Subscribers()
	w, h, frames := s.FrameSize()
	c.JSON(http.StatusOK, gin.H{
		"motor":      mode.Manual,
		"autonomous": mode.Autonomous,
		"prompt":     prompt,
		"target":     task.Target,
		"obstacles":  task.Obstacles,
		"subscribers": gin.H{
			"speech": transcripts,
			"bbox":   boxes,
		},
		"frames":       frames,
		"frame_width":  w,
		"frame_height": h,
	})
}

func (s *Server) streamSSE(h *hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch := h.subscribe()
		defer h.unsubscribe(ch)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
		c.Writer.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
					return
				}
			case msg := <-ch:
				if err := writeSSE(c.Writer, msg); err != nil {
					return
				}
			}
			c.Writer.Flush()
		}
	}
}

// writeSSE frames msg as one event, one data line per line of msg.
func writeSSE(w io.Writer, msg []byte) error {
	var buf bytes.Buffer
	for _, line := range bytes.Split(msg, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimRight(line, "\r"))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func (s *Server) streamWS(h *hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ch := h.subscribe()
		defer h.unsubscribe(ch)

		// Reads only detect the client going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
					time.Now().Add(time.Second))
				return
			case <-gone:
				return
			case msg := <-ch:
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					s.logger.Debug("websocket write failed", "error", err)
					return
				}
			}
		}
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Header("X-Request-ID", id)
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"request_id", id,
			"duration", time.Since(start))
	}
}

func cors(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}
