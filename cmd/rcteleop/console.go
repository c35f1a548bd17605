package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas"
	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/rcteleop/pkg/mode"
	"github.com/gwillem/rcteleop/pkg/overlay"
	"github.com/gwillem/rcteleop/pkg/rover"
	"github.com/gwillem/rcteleop/pkg/task"
	"github.com/gwillem/rcteleop/pkg/telemetry"
	"github.com/gwillem/rcteleop/pkg/teleop"
)

type ConsoleCommand struct {
	Relay       string `long:"relay" description:"Vehicle URL (overrides config)"`
	Hz          int    `long:"hz" description:"Overlay refresh rate (overrides config)"`
	NoBroadcast bool   `long:"no-broadcast" description:"Do not send commands over UDP broadcast"`
}

const (
	headerHeight    = 2 // title + blank line
	transcriptLines = 3
	footerHeight    = 6 // log box height
	maxLogs         = 4 // number of log messages to show
	borderSize      = 2
	sideWidth       = 29
	btnW, btnH      = 9, 3
	maxTranscript   = 200
	chartMax        = 20
)

// padCell is one slot of the 3x3 direction pad.
type padCell struct {
	dir  rover.Direction
	stop bool
}

var padGrid = [3][3]padCell{
	{{}, {dir: rover.Forward}, {}},
	{{dir: rover.Left}, {stop: true}, {dir: rover.Right}},
	{{}, {dir: rover.Backward}, {}},
}

var padGlyph = map[rover.Direction]string{
	rover.Forward:  "▲",
	rover.Left:     "◀",
	rover.Right:    "▶",
	rover.Backward: "▼",
}

var keyDirections = map[string]rover.Direction{
	"up":    rover.Forward,
	"w":     rover.Forward,
	"down":  rover.Backward,
	"s":     rover.Backward,
	"left":  rover.Left,
	"a":     rover.Left,
	"right": rover.Right,
	"d":     rover.Right,
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	boxStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	targetStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)

	padStyle         = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Width(btnW - 2).Align(lipgloss.Center)
	padHeldStyle     = padStyle.BorderForeground(lipgloss.Color("10")).Foreground(lipgloss.Color("10")).Bold(true)
	padDisabledStyle = padStyle.BorderForeground(lipgloss.Color("238")).Foreground(lipgloss.Color("238"))
	padStopStyle     = padStyle.BorderForeground(lipgloss.Color("9")).Foreground(lipgloss.Color("9"))

	modeStyles = map[rover.ModeState]lipgloss.Style{
		rover.Off:        lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Bold(true),
		rover.Manual:     lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		rover.Autonomous: lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
	}
	upStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	downStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type consoleModel struct {
	session      *teleop.Session
	ctx          context.Context
	releaseAfter time.Duration

	overlay    canvas.Model
	chart      *streamlinechart.Model
	transcript viewport.Model
	input      textinput.Model
	spinner    spinner.Model

	frame   teleop.Frame
	lines   []string
	logs    []string // last N log messages
	status  string
	width   int // terminal width
	height  int // terminal height
	ow, oh  int // overlay canvas size in cells
	pointer rover.Direction
	keyGen  map[rover.Direction]int
	keySeq  int

	quitting bool
}

// Messages from the session
type frameMsg teleop.Frame
type eventMsg telemetry.Event

type modeMsg struct {
	side mode.Side
	mode rover.ControlMode
	err  error
}

type taskMsg struct {
	text   string
	result rover.TaskResult
	err    error
}

// keyReleaseMsg releases a keyboard hold unless the key repeated since.
type keyReleaseMsg struct {
	dir rover.Direction
	gen int
}

func waitForFrame(s *teleop.Session) tea.Cmd {
	return func() tea.Msg {
		return frameMsg(<-s.States())
	}
}

func waitForEvent(s *teleop.Session) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-s.Events())
	}
}

func newConsoleModel(ctx context.Context, s *teleop.Session, releaseAfter time.Duration) consoleModel {
	chart := streamlinechart.New(sideWidth-borderSize, 5,
		streamlinechart.WithYRange(0, chartMax),
	)
	chart.SetDataSetStyles("boxes", runes.ThinLineStyle, boxStyle)
	chart.SetDataSetStyles("targets", runes.ThinLineStyle, targetStyle)

	input := textinput.New()
	input.Prompt = "task> "
	input.Placeholder = "press t and describe what to look for"
	input.CharLimit = 200

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	if releaseAfter <= 0 {
		releaseAfter = 500 * time.Millisecond
	}
	m := consoleModel{
		session:      s,
		ctx:          ctx,
		releaseAfter: releaseAfter,
		chart:        &chart,
		transcript:   viewport.New(60, transcriptLines),
		input:        input,
		spinner:      sp,
		keyGen:       make(map[rover.Direction]int),
	}
	m.resize()
	return m
}

func (m *consoleModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// overlaySize calculates the overlay canvas size in cells
func (m *consoleModel) overlaySize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 60, 16 // default size before we know terminal size
	}
	width = m.width - sideWidth - borderSize - 1
	if width < 20 {
		width = 20
	}
	height = m.height - headerHeight - borderSize - (transcriptLines + borderSize) - 2 - footerHeight
	if height < 6 {
		height = 6
	}
	return width, height
}

func (m *consoleModel) resize() {
	m.ow, m.oh = m.overlaySize()
	m.overlay = canvas.New(m.ow, m.oh)

	chartHeight := m.oh + borderSize - 3*btnH - 5 - borderSize
	if chartHeight < 3 {
		chartHeight = 3
	}
	m.chart.Resize(sideWidth-borderSize, chartHeight)

	if m.width > 0 {
		m.transcript.Width = m.width - 4
		m.input.Width = m.width - 10
	}
	// A terminal cell is about twice as tall as it is wide, so the overlay
	// is laid out on a grid of half-rows.
	m.session.SetDisplaySize(m.ow, m.oh*2)
	m.frame = m.session.Snapshot()
	m.drawOverlay()
}

// padOrigin is the screen position of the pad's top-left cell.
func (m *consoleModel) padOrigin() (x, y int) {
	return m.ow + borderSize + 1, headerHeight
}

func (m *consoleModel) padHit(x, y int) (padCell, bool) {
	px, py := m.padOrigin()
	if x < px || y < py {
		return padCell{}, false
	}
	col, row := (x-px)/btnW, (y-py)/btnH
	if col > 2 || row > 2 {
		return padCell{}, false
	}
	c := padGrid[row][col]
	return c, c.dir != "" || c.stop
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(
		waitForFrame(m.session),
		waitForEvent(m.session),
		m.spinner.Tick,
	)
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		m.handleMouse(msg)
		return m, nil

	case keyReleaseMsg:
		if gen, ok := m.keyGen[msg.dir]; ok && gen == msg.gen {
			delete(m.keyGen, msg.dir)
			m.session.Release(msg.dir)
		}
		return m, nil

	case frameMsg:
		m.frame = teleop.Frame(msg)
		m.drawOverlay()
		m.pushChart()
		return m, waitForFrame(m.session)

	case eventMsg:
		if msg.Kind == telemetry.Transcript {
			m.addTranscript(msg.Received, msg.Transcript)
		}
		return m, waitForEvent(m.session)

	case modeMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s toggle failed: %v", msg.side, msg.err)
		} else {
			m.status = "vehicle mode: " + msg.mode.State().String()
		}
		return m, nil

	case taskMsg:
		switch {
		case errors.Is(msg.err, task.ErrSuperseded):
		case msg.err != nil:
			m.status = fmt.Sprintf("task not understood: %v", msg.err)
		default:
			m.status = fmt.Sprintf("target %s", msg.result.Target)
		}
		return m, nil

	case logMsg:
		line := msg.Text
		if msg.Level >= slog.LevelWarn {
			line = msg.Level.String() + " " + line
		}
		m.addLog(line)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m consoleModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.input.Focused() {
		switch msg.String() {
		case "ctrl+c":
			return m.quit()
		case "esc":
			m.input.Blur()
			return m, nil
		case "enter":
			text := m.input.Value()
			m.input.Reset()
			m.input.Blur()
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			m.status = "parsing task..."
			return m, m.submitTask(text)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch key := msg.String(); key {
	case "q", "ctrl+c":
		return m.quit()
	case " ":
		m.stopAll()
	case "m":
		return m, m.toggle(mode.SideManual)
	case "o":
		return m, m.toggle(mode.SideAutonomous)
	case "t":
		cmd := m.input.Focus()
		return m, cmd
	default:
		if d, ok := keyDirections[key]; ok {
			cmd := m.keyPress(d)
			return m, cmd
		}
	}
	return m, nil
}

func (m consoleModel) quit() (tea.Model, tea.Cmd) {
	m.stopAll()
	m.quitting = true
	return m, tea.Quit
}

// keyPress holds d until no repeat arrives for releaseAfter. Terminals
// report key presses only, so auto-repeat stands in for the key being down.
func (m *consoleModel) keyPress(d rover.Direction) tea.Cmd {
	if _, held := m.keyGen[d]; !held {
		if err := m.session.Press(d); err != nil {
			m.status = "manual control is off, press m"
			return nil
		}
	}
	m.keySeq++
	gen := m.keySeq
	m.keyGen[d] = gen
	return tea.Tick(m.releaseAfter, func(time.Time) tea.Msg {
		return keyReleaseMsg{dir: d, gen: gen}
	})
}

func (m *consoleModel) stopAll() {
	clear(m.keyGen)
	m.pointer = ""
	m.session.ReleaseAll()
}

func (m *consoleModel) handleMouse(msg tea.MouseMsg) {
	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return
		}
		cell, ok := m.padHit(msg.X, msg.Y)
		// A press while another cell is held means its release was lost.
		if m.pointer != "" && (!ok || cell.dir != m.pointer) {
			m.session.Release(m.pointer)
			m.pointer = ""
		}
		if !ok {
			return
		}
		if cell.stop {
			m.stopAll()
			return
		}
		if err := m.session.Press(cell.dir); err != nil {
			m.status = "manual control is off, press m"
			return
		}
		m.pointer = cell.dir
	case tea.MouseActionRelease:
		if m.pointer != "" {
			m.session.Release(m.pointer)
			m.pointer = ""
		}
	case tea.MouseActionMotion:
		if m.pointer == "" {
			return
		}
		if cell, ok := m.padHit(msg.X, msg.Y); !ok || cell.dir != m.pointer {
			m.session.Leave(m.pointer)
			m.pointer = ""
		}
	}
}

func (m consoleModel) toggle(side mode.Side) tea.Cmd {
	s, ctx := m.session, m.ctx
	return func() tea.Msg {
		md, err := s.Toggle(ctx, side)
		return modeMsg{side: side, mode: md, err: err}
	}
}

func (m consoleModel) submitTask(text string) tea.Cmd {
	s, ctx := m.session, m.ctx
	return func() tea.Msg {
		r, err := s.SubmitTask(ctx, text)
		return taskMsg{text: text, result: r, err: err}
	}
}

func (m *consoleModel) addTranscript(at time.Time, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	m.lines = append(m.lines, statusStyle.Render(at.Format("15:04:05"))+" "+text)
	if len(m.lines) > maxTranscript {
		m.lines = m.lines[len(m.lines)-maxTranscript:]
	}
	m.transcript.SetContent(strings.Join(m.lines, "\n"))
	m.transcript.GotoBottom()
}

func (m *consoleModel) pushChart() {
	var targets int
	for _, b := range m.frame.Boxes {
		if b.IsTarget {
			targets++
		}
	}
	m.chart.PushDataSet("boxes", float64(min(len(m.frame.Boxes), chartMax)))
	m.chart.PushDataSet("targets", float64(min(targets, chartMax)))
	m.chart.DrawAll()
}

// drawOverlay paints letterbox bars and detection boxes. Boxes arrive in
// display units where one unit is a column wide and half a row tall.
func (m *consoleModel) drawOverlay() {
	m.overlay = canvas.New(m.ow, m.oh)
	g := m.frame.Geometry
	if !g.Valid() {
		m.setString(1, 0, "waiting for video size", statusStyle)
		return
	}

	video := g.Video().Rect()
	for y := 0; y < m.oh; y++ {
		cy := y*2 + 1
		for x := 0; x < m.ow; x++ {
			if x < video.Min.X || x >= video.Max.X || cy < video.Min.Y || cy >= video.Max.Y {
				m.setRune(x, y, '░', barStyle)
			}
		}
	}

	// Targets last so they stay on top.
	for _, b := range m.frame.Boxes {
		if !b.IsTarget {
			m.drawBox(b, boxStyle)
		}
	}
	for _, b := range m.frame.Boxes {
		if b.IsTarget {
			m.drawBox(b, targetStyle)
		}
	}
}

func (m *consoleModel) drawBox(b overlay.DisplayBox, st lipgloss.Style) {
	r := b.Rect()
	x1, x2 := r.Min.X, r.Max.X-1
	y1, y2 := r.Min.Y/2, (r.Max.Y-1)/2
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}

	for x := x1 + 1; x < x2; x++ {
		m.setRune(x, y1, '─', st)
		m.setRune(x, y2, '─', st)
	}
	for y := y1 + 1; y < y2; y++ {
		m.setRune(x1, y, '│', st)
		m.setRune(x2, y, '│', st)
	}
	m.setRune(x1, y1, '┌', st)
	m.setRune(x2, y1, '┐', st)
	m.setRune(x1, y2, '└', st)
	m.setRune(x2, y2, '┘', st)

	label := b.Label
	if label == "" {
		label = "?"
	}
	m.setString(x1+1, y1, fmt.Sprintf("%s %.0f%%", label, b.Confidence*100), st)
}

func (m *consoleModel) setRune(x, y int, r rune, st lipgloss.Style) {
	if x < 0 || y < 0 || x >= m.ow || y >= m.oh {
		return
	}
	m.overlay.SetRuneWithStyle(canvas.Point{X: x, Y: y}, r, st)
}

func (m *consoleModel) setString(x, y int, s string, st lipgloss.Style) {
	for _, r := range s {
		m.setRune(x, y, r, st)
		x++
	}
}

func (m consoleModel) View() string {
	if m.quitting {
		return "Console stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("rcteleop"))
	sb.WriteString(fmt.Sprintf(" - %d Hz  ", m.session.Hz()))
	sb.WriteString(m.renderMode())
	if m.status != "" {
		sb.WriteString(statusStyle.Render("  " + m.status))
	}
	sb.WriteString("\n\n")

	// Overlay and side panel
	side := lipgloss.JoinVertical(lipgloss.Left,
		m.renderPad(),
		m.renderInfo(),
		chartStyle.Render(m.chart.View()),
	)
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		chartStyle.Render(m.overlay.View()), " ", side))
	sb.WriteString("\n")

	// Transcript and task input
	transcriptStyle := chartStyle.Width(max(m.width-2, 20))
	sb.WriteString(transcriptStyle.Render(m.transcript.View()))
	sb.WriteString("\n")
	sb.WriteString(m.input.View())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20)).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("arrows/wasd drive  space stop  m manual  o autonomous  t task  q quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m consoleModel) renderMode() string {
	st := m.frame.Mode.Confirmed.State()
	out := modeStyles[st].Render(strings.ToUpper(st.String()))
	if p := m.frame.Mode.Pending; p != nil {
		onOff := "off"
		if p.Enabled {
			onOff = "on"
		}
		out += " " + m.spinner.View() + statusStyle.Render(fmt.Sprintf(" %s %s?", p.Side, onOff))
	}
	return out
}

func (m consoleModel) renderPad() string {
	manual := m.frame.Mode.Confirmed.Manual
	rows := make([]string, 0, len(padGrid))
	for _, row := range padGrid {
		cells := make([]string, 0, len(row))
		for _, c := range row {
			var cell string
			switch {
			case c.stop:
				cell = padStopStyle.Render("■")
			case c.dir == "":
				cell = lipgloss.NewStyle().Width(btnW).Height(btnH).Render("")
			case m.session.Held(c.dir):
				cell = padHeldStyle.Render(padGlyph[c.dir])
			case !manual:
				cell = padDisabledStyle.Render(padGlyph[c.dir])
			default:
				cell = padStyle.Render(padGlyph[c.dir])
			}
			cells = append(cells, cell)
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m consoleModel) renderInfo() string {
	dot := func(up bool) string {
		if up {
			return upStyle.Render("●")
		}
		return downStyle.Render("●")
	}
	feeds := fmt.Sprintf("speech %s  boxes %s", dot(m.frame.Feeds.Transcript), dot(m.frame.Feeds.Boxes))
	if m.frame.Feeds.Dropped > 0 {
		feeds += statusStyle.Render(fmt.Sprintf("  %d bad", m.frame.Feeds.Dropped))
	}

	taskLine := statusStyle.Render("no task")
	if m.frame.HasTask {
		taskLine = "target " + targetStyle.Render(m.frame.Task.Target)
		if len(m.frame.Task.Obstacles) > 0 {
			taskLine += "\navoid " + boxStyle.Render(strings.Join(m.frame.Task.Obstacles, ", "))
		}
	}

	return lipgloss.NewStyle().Width(sideWidth).Height(5).Render(
		fmt.Sprintf("\n%s\n%d boxes\n%s", feeds, len(m.frame.Boxes), taskLine))
}

func (c *ConsoleCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.Relay != "" {
		cfg.Relay.URL = c.Relay
	}
	if c.Hz > 0 {
		cfg.Console.Hz = c.Hz
	}
	if c.NoBroadcast {
		cfg.Broadcast.Enabled = false
	}

	level := slog.LevelInfo
	if len(opts.Verbose) > 1 {
		level = slog.LevelDebug
	}
	handler := newTUILogHandler(level)
	logger := slog.New(handler)

	session, err := teleop.NewSession(teleop.ConfigFrom(cfg, logger))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	// Start session in background
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := session.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session error", "error", err)
		}
	}()

	p := tea.NewProgram(newConsoleModel(ctx, session, cfg.Console.ReleaseAfter),
		tea.WithAltScreen(), tea.WithMouseAllMotion())
	handler.SetProgram(p)
	_, err = p.Run()
	handler.SetProgram(nil)

	// Cancelling the session sends a final stop for anything still held.
	cancel()
	<-done
	return err
}
