// Package tui is the terminal front end: a bubbletea model that renders the
// assistant's state from hub events and turns key presses into operations.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/loqalabs/loqa-assist/internal/dispatch"
	"github.com/loqalabs/loqa-assist/internal/protocol"
	"github.com/loqalabs/loqa-assist/internal/sessions"
)

const (
	noticeTimeout       = 5 * time.Second
	sessionsPanelWidth  = 32
	defaultInteractions = 50
)

// Controller is the part of the assistant the terminal drives.
type Controller interface {
	Ask(ctx context.Context, text string) (dispatch.Answer, error)
	StartDictation() error
	StopDictation() error
	StopAndAsk() error
	ToggleSpeech() bool
	ClearInteractions()
	CreateSession(ctx context.Context, title string) (sessions.Session, error)
	ActivateSession(ctx context.Context, id int64) (sessions.Session, error)
	RenameSession(ctx context.Context, id int64, title string) (sessions.Session, error)
	DeleteSession(ctx context.Context, id int64) error
	RefreshSessions(ctx context.Context) error
	View() protocol.View
}

// Focus selects which panel receives key presses.
type Focus int

const (
	FocusInput Focus = iota
	FocusSessions
)

// InputMode is what Enter does with the input line.
type InputMode int

const (
	InputAsk InputMode = iota
	InputNewSession
	InputRename
)

// Model is the bubbletea model for the assistant.
type Model struct {
	ctx             context.Context
	ctrl            Controller
	events          <-chan protocol.Event
	maxInteractions int

	view protocol.View

	input     []rune
	inputMode InputMode
	samples   []string
	sample    int
	renameID  int64
	focus     Focus
	selected  int

	// pendingDelete is the session awaiting a second delete key press.
	pendingDelete int64

	notice    *protocol.Notice
	noticeSeq int
	asking    int

	width    int
	height   int
	quitting bool
}

// New creates a model bound to ctrl. events is a hub subscription owned by
// the caller.
func New(ctx context.Context, ctrl Controller, events <-chan protocol.Event, maxInteractions int) Model {
	if maxInteractions <= 0 {
		maxInteractions = defaultInteractions
	}
	return Model{
		ctx:             ctx,
		ctrl:            ctrl,
		events:          events,
		maxInteractions: maxInteractions,
		width:           100,
		height:          30,
	}
}

// WithSampleQuestions sets the canned questions KeySample cycles through.
// Blank entries are skipped.
func (m Model) WithSampleQuestions(questions []string) Model {
	m.samples = nil
	m.sample = 0
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			m.samples = append(m.samples, q)
		}
	}
	return m
}

// Init loads the current state and starts reading events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadViewCmd(), m.readEventCmd())
}

func (m Model) loadViewCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return ViewLoadedMsg{View: ctrl.View()}
	}
}

func (m Model) readEventCmd() tea.Cmd {
	events := m.events
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return EventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

func (m Model) opCmd(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return OpDoneMsg{Op: op, Err: fn(ctx)}
	}
}

func clearNoticeCmd(seq int) tea.Cmd {
	return tea.Tick(noticeTimeout, func(time.Time) tea.Msg {
		return ClearNoticeMsg{Seq: seq}
	})
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case ViewLoadedMsg:
		m.view = msg.View
		m.clampSelection()
		return m, nil

	case EventMsg:
		cmd := m.applyEvent(msg.Event)
		return m, tea.Batch(cmd, m.readEventCmd())

	case EventsClosedMsg:
		m.events = nil
		return m, nil

	case OpDoneMsg:
		if msg.Op == "ask" && m.asking > 0 {
			m.asking--
		}
		return m, nil

	case ClearNoticeMsg:
		if msg.Seq == m.noticeSeq {
			m.notice = nil
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) applyEvent(ev protocol.Event) tea.Cmd {
	switch ev.Kind {
	case protocol.KindDictation:
		if ev.Dictation != nil {
			m.view.Dictation = *ev.Dictation
		}
	case protocol.KindInteraction:
		// a view reloaded after a resync may already hold it
		if ev.Interaction != nil && (len(m.view.Interactions) == 0 || m.view.Interactions[0] != *ev.Interaction) {
			m.view.Interactions = append([]protocol.Interaction{*ev.Interaction}, m.view.Interactions...)
		}
	case protocol.KindInteractions:
		m.view.Interactions = ev.Interactions
	case protocol.KindSessionCurrent:
		m.view.Current = ev.Session
	case protocol.KindSessionList:
		m.view.Sessions = ev.Sessions
		m.clampSelection()
		if m.pendingDelete != 0 && m.sessionIndex(m.pendingDelete) < 0 {
			m.pendingDelete = 0
		}
	case protocol.KindSpeech:
		if ev.Speech != nil {
			m.view.Speech = *ev.Speech
		}
	case protocol.KindResync:
		return m.loadViewCmd()
	case protocol.KindNotice:
		if ev.Notice != nil {
			m.noticeSeq++
			n := *ev.Notice
			m.notice = &n
			return clearNoticeCmd(m.noticeSeq)
		}
	}
	if len(m.view.Interactions) > m.maxInteractions {
		m.view.Interactions = m.view.Interactions[:m.maxInteractions]
	}
	return nil
}

func (m *Model) clampSelection() {
	if m.selected >= len(m.view.Sessions) {
		m.selected = len(m.view.Sessions) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m Model) sessionIndex(id int64) int {
	for i, s := range m.view.Sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m Model) selectedSession() (protocol.Session, bool) {
	if m.selected < 0 || m.selected >= len(m.view.Sessions) {
		return protocol.Session{}, false
	}
	return m.view.Sessions[m.selected], true
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch key {
	case KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	case KeyTab:
		m.pendingDelete = 0
		if m.focus == FocusInput {
			m.focus = FocusSessions
		} else {
			m.focus = FocusInput
		}
		return m, nil
	case KeyDictate:
		ctrl := m.ctrl
		if isCapturing(m.view.Dictation.Phase) {
			return m, m.opCmd("dictation.stop", func(context.Context) error { return ctrl.StopDictation() })
		}
		return m, m.opCmd("dictation.start", func(context.Context) error { return ctrl.StartDictation() })
	case KeyStopAndAsk:
		ctrl := m.ctrl
		return m, m.opCmd("dictation.stop_ask", func(context.Context) error { return ctrl.StopAndAsk() })
	case KeySpeech:
		ctrl := m.ctrl
		return m, m.opCmd("speech.toggle", func(context.Context) error {
			ctrl.ToggleSpeech()
			return nil
		})
	case KeyClear:
		ctrl := m.ctrl
		return m, m.opCmd("interactions.clear", func(context.Context) error {
			ctrl.ClearInteractions()
			return nil
		})
	}

	if m.focus == FocusSessions {
		return m.handleSessionsKey(key)
	}
	return m.handleInputKey(msg)
}

func isCapturing(phase string) bool {
	return phase == "starting" || phase == "listening"
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeySample:
		if m.inputMode == InputAsk && len(m.samples) > 0 {
			m.input = []rune(m.samples[m.sample])
			m.sample = (m.sample + 1) % len(m.samples)
		}
		return m, nil
	case KeyClearInput:
		m.input = nil
		return m, nil
	}

	switch msg.Type {
	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
		return m, nil
	case tea.KeySpace:
		m.input = append(m.input, ' ')
		return m, nil
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	case tea.KeyEsc:
		m.input = nil
		m.inputMode = InputAsk
		m.renameID = 0
		return m, nil
	case tea.KeyEnter:
		return m.submitInput()
	}
	return m, nil
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	text := string(m.input)
	mode := m.inputMode
	id := m.renameID
	m.input = nil
	m.inputMode = InputAsk
	m.renameID = 0
	ctrl := m.ctrl

	switch mode {
	case InputNewSession:
		m.focus = FocusSessions
		return m, m.opCmd("session.create", func(ctx context.Context) error {
			_, err := ctrl.CreateSession(ctx, text)
			return err
		})
	case InputRename:
		m.focus = FocusSessions
		return m, m.opCmd("session.rename", func(ctx context.Context) error {
			_, err := ctrl.RenameSession(ctx, id, text)
			return err
		})
	}
	m.asking++
	return m, m.opCmd("ask", func(ctx context.Context) error {
		_, err := ctrl.Ask(ctx, text)
		return err
	})
}

func (m Model) handleSessionsKey(key string) (tea.Model, tea.Cmd) {
	if m.pendingDelete != 0 {
		id := m.pendingDelete
		m.pendingDelete = 0
		if key == KeyDelete || key == KeyConfirm {
			ctrl := m.ctrl
			return m, m.opCmd("session.delete", func(ctx context.Context) error {
				return ctrl.DeleteSession(ctx, id)
			})
		}
		return m, nil
	}

	ctrl := m.ctrl
	switch key {
	case KeyQuit:
		m.quitting = true
		return m, tea.Quit
	case KeyUp, KeyK:
		if m.selected > 0 {
			m.selected--
		}
	case KeyDown, KeyJ:
		if m.selected < len(m.view.Sessions)-1 {
			m.selected++
		}
	case KeyEnter:
		if s, ok := m.selectedSession(); ok {
			return m, m.opCmd("session.activate", func(ctx context.Context) error {
				_, err := ctrl.ActivateSession(ctx, s.ID)
				return err
			})
		}
	case KeyNewSession:
		m.focus = FocusInput
		m.inputMode = InputNewSession
		m.input = nil
	case KeyRename:
		if s, ok := m.selectedSession(); ok {
			m.focus = FocusInput
			m.inputMode = InputRename
			m.renameID = s.ID
			m.input = []rune(s.Title)
		}
	case KeyDelete:
		if s, ok := m.selectedSession(); ok {
			m.pendingDelete = s.ID
		}
	case KeyRefresh:
		return m, m.opCmd("session.refresh", ctrl.RefreshSessions)
	}
	return m, nil
}

// View renders the model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	width := m.width
	if width < 40 {
		width = 40
	}
	divider := dividerStyle.Render(strings.Repeat("─", width))

	sections := []string{
		m.renderHeader(width),
		m.renderDictation(width),
		divider,
		m.renderPanels(width),
		divider,
		m.renderNotice(width),
		m.renderInput(width),
		m.renderFooter(width),
	}
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader(width int) string {
	title := titleStyle.Render("LOQA ASSIST")
	session := dimStyle.Render("no session")
	if m.view.Current != nil {
		session = m.view.Current.Title
	}
	speech := dimStyle.Render("speech off")
	if m.view.Speech.Enabled {
		speech = speechOnStyle.Render("speech on")
		if m.view.Speech.Speaking {
			speech = speechOnStyle.Render("♪ speaking")
		}
	}
	left := title + "  " + session
	gap := width - lipgloss.Width(left) - lipgloss.Width(speech)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + speech
}

func (m Model) renderDictation(width int) string {
	d := m.view.Dictation
	var dot string
	switch d.Phase {
	case "listening":
		dot = listeningStyle.Render("●") + " "
	case "starting", "stopping":
		dot = busyStyle.Render("◌") + " "
	default:
		dot = dimStyle.Render("○") + " "
	}
	status := d.Status
	if m.asking > 0 {
		status = "Getting an answer..."
	}
	lines := []string{dot + truncateToWidth(status, width-2)}
	if d.Display != "" {
		for _, line := range wrapText(d.Display, width-2) {
			lines = append(lines, "  "+transcriptStyle.Render(line))
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) panelHeight() int {
	h := m.height - 9
	if h < 5 {
		h = 5
	}
	return h
}

func (m Model) renderPanels(width int) string {
	height := m.panelHeight()
	left := m.renderSessions(sessionsPanelWidth, height)
	right := m.renderInteractions(width-sessionsPanelWidth-1, height)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, dividerStyle.Render("│"), right)
}

func (m Model) renderSessions(width, height int) string {
	titleStyle := panelTitleStyle
	if m.focus == FocusSessions {
		titleStyle = panelTitleActiveStyle
	}
	lines := []string{titleStyle.Render(fmt.Sprintf("Sessions (%d)", len(m.view.Sessions)))}
	if len(m.view.Sessions) == 0 {
		lines = append(lines, dimStyle.Render("  press n to create"))
	}

	start := 0
	if visible := height - 1; m.selected >= visible {
		start = m.selected - visible + 1
	}
	for i := start; i < len(m.view.Sessions) && len(lines) < height; i++ {
		s := m.view.Sessions[i]
		mark := "  "
		if s.IsActive {
			mark = activeMarkStyle.Render("* ")
		}
		label := truncateToWidth(fmt.Sprintf("%s (%d)", s.Title, s.InteractionCount), width-4)
		switch {
		case s.ID == m.pendingDelete:
			label = confirmStyle.Render(truncateToWidth("delete "+s.Title+"? d/y", width-4))
		case i == m.selected && m.focus == FocusSessions:
			label = selectedStyle.Render("> " + label)
		default:
			label = "  " + label
		}
		lines = append(lines, mark+label)
	}
	return padBlock(lines, width, height)
}

func (m Model) renderInteractions(width, height int) string {
	lines := []string{panelTitleStyle.Render(fmt.Sprintf("Interactions (%d)", len(m.view.Interactions)))}
	if len(m.view.Interactions) == 0 {
		lines = append(lines, dimStyle.Render("No questions yet."))
	}
	for _, it := range m.view.Interactions {
		if len(lines) >= height {
			break
		}
		stamp := ""
		if !it.CreatedAt.IsZero() {
			stamp = timestampStyle.Render(it.CreatedAt.Local().Format("15:04")) + " "
		}
		lines = append(lines, stamp+questionStyle.Render(truncateToWidth("Q: "+it.Question, width-6)))
		for _, line := range wrapText(it.Answer, width-2) {
			if len(lines) >= height {
				break
			}
			lines = append(lines, "  "+line)
		}
	}
	return padBlock(lines, width, height)
}

func (m Model) renderNotice(width int) string {
	if m.notice == nil {
		return ""
	}
	style, ok := noticeStyles[string(m.notice.Level)]
	if !ok {
		style = dimStyle
	}
	return style.Render(truncateToWidth(m.notice.Message, width))
}

func (m Model) renderInput(width int) string {
	prompt := "ask> "
	switch m.inputMode {
	case InputNewSession:
		prompt = "new session> "
	case InputRename:
		prompt = "rename> "
	}
	cursor := ""
	if m.focus == FocusInput {
		cursor = "▌"
	} else {
		prompt = dimStyle.Render(prompt)
	}
	return clip(prompt+string(m.input)+cursor, width)
}

func (m Model) renderFooter(width int) string {
	var keys [][2]string
	if m.focus == FocusSessions {
		keys = [][2]string{{"↑↓", "select"}, {"enter", "load"}, {"n", "new"}, {"r", "rename"}, {"d", "delete"}, {"tab", "input"}, {"q", "quit"}}
	} else {
		keys = [][2]string{{"enter", "ask"}}
		if len(m.samples) > 0 {
			keys = append(keys, [2]string{"^p", "sample"})
		}
		keys = append(keys, [][2]string{{"^r", "dictate"}, {"^a", "stop+ask"}, {"^s", "speech"}, {"^l", "clear"}, {"^u", "clear input"}, {"tab", "sessions"}}...)
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, footerKeyStyle.Render(k[0])+" "+footerDescStyle.Render(k[1]))
	}
	return clip(strings.Join(parts, "  "), width)
}

// clip cuts styled text to width without splitting escape sequences.
func clip(s string, width int) string {
	return lipgloss.NewStyle().MaxWidth(width).Render(s)
}

func padBlock(lines []string, width, height int) string {
	for len(lines) < height {
		lines = append(lines, "")
	}
	for i, line := range lines {
		lines[i] = padRight(line, width)
	}
	return strings.Join(lines, "\n")
}

func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func truncateToWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes)) > width-1 {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := words[0]
		for _, word := range words[1:] {
			if lipgloss.Width(current)+1+lipgloss.Width(word) > width {
				lines = append(lines, current)
				current = word
				continue
			}
			current += " " + word
		}
		lines = append(lines, current)
	}
	return lines
}
