package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ledger-chat/internal/conn"
	"ledger-chat/internal/engine"
	"ledger-chat/internal/models"
	"ledger-chat/internal/outbound"
)

const (
	rosterWidth     = 28
	inputCharLimit  = 2000
	reservedLines   = 4
	minContentLines = 5
	requestTimeout  = 10 * time.Second
)

// Session is the part of the engine the chat screen drives.
type Session interface {
	Updates() <-chan engine.Update
	View(ctx context.Context) (engine.View, error)
	Open(ctx context.Context, id string) error
	Keystroke(text string)
	SendDraft(ctx context.Context) (outbound.PendingSend, error)
	Reconnect(ctx context.Context) error
	Search(ctx context.Context, query string) ([]models.Conversation, error)
	Friends(ctx context.Context) ([]models.Friend, error)
	CreateDirect(ctx context.Context, participantID string) (models.Conversation, error)
}

type (
	updateMsg     struct{ update engine.Update }
	sendDoneMsg   struct{ err error }
	noticeMsg     struct{ text string }
	errMsg        struct{ err error }
	updatesClosed struct{}
)

type viewMsg struct {
	view  engine.View
	shown []models.Conversation
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	session Session

	input    textinput.Model
	messages viewport.Model
	spin     spinner.Model

	view   engine.View
	shown  []models.Conversation
	filter string
	notice string

	restoreDraft bool
	width        int
	height       int
}

func New(session Session) Model {
	input := textinput.New()
	input.Placeholder = "Type a message, /dm <user>, /find <name>, /reconnect"
	input.Focus()
	input.CharLimit = inputCharLimit
	input.Prompt = "> "

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return Model{
		session:  session,
		input:    input,
		messages: viewport.New(80, 20),
		spin:     spin,
		width:    100,
		height:   30,
	}
}

// Run starts the program on the alternate screen and blocks until the user quits.
func Run(session Session) error {
	_, err := tea.NewProgram(New(session), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, waitForUpdate(m.session.Updates()), m.refresh())
}

func waitForUpdate(ch <-chan engine.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return updatesClosed{}
		}
		return updateMsg{update: u}
	}
}

func (m Model) refresh() tea.Cmd {
	session, filter := m.session, m.filter
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		v, err := session.View(ctx)
		if err != nil {
			return errMsg{err}
		}
		shown, err := session.Search(ctx, filter)
		if err != nil {
			return errMsg{err}
		}
		return viewMsg{view: v, shown: shown}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
		if after := m.input.Value(); after != before && !strings.HasPrefix(after, "/") {
			m.session.Keystroke(after)
		}
		return m, tea.Batch(cmds...)

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case updateMsg:
		if msg.update.Kind == engine.UpdateError && msg.update.Fatal {
			m.notice = errorStyle.Render("connection lost; /reconnect to retry")
		}
		cmds = append(cmds, waitForUpdate(m.session.Updates()), m.refresh())

	case updatesClosed:
		return m, tea.Quit

	case viewMsg:
		m.view = msg.view
		m.shown = msg.shown
		if m.restoreDraft {
			m.input.SetValue(msg.view.Draft)
			m.input.CursorEnd()
			m.restoreDraft = false
		}
		m.messages.SetContent(transcript(m.view))
		m.messages.GotoBottom()

	case sendDoneMsg:
		if msg.err != nil {
			m.notice = errorStyle.Render(sendErrorText(msg.err))
			m.restoreDraft = true
		}
		cmds = append(cmds, m.refresh())

	case noticeMsg:
		m.notice = msg.text
		cmds = append(cmds, m.refresh())

	case errMsg:
		m.notice = errorStyle.Render(msg.err.Error())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return tea.Quit, true
	case tea.KeyTab:
		return m.step(1), true
	case tea.KeyShiftTab:
		return m.step(-1), true
	case tea.KeyPgUp:
		m.messages.ViewUp()
		return nil, true
	case tea.KeyPgDown:
		m.messages.ViewDown()
		return nil, true
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return nil, true
		}
		m.notice = ""
		m.input.Reset()
		if strings.HasPrefix(text, "/") {
			return m.command(text), true
		}
		return m.send(), true
	}
	return nil, false
}

// step opens the conversation delta places away from the active one in the
// displayed list.
func (m *Model) step(delta int) tea.Cmd {
	if len(m.shown) == 0 {
		return nil
	}
	idx := -1
	for i, c := range m.shown {
		if c.ID == m.view.Active {
			idx = i
			break
		}
	}
	next := 0
	if idx >= 0 {
		next = (idx + delta + len(m.shown)) % len(m.shown)
	}
	id := m.shown[next].ID
	session := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := session.Open(ctx, id); err != nil && !errors.Is(err, conn.ErrNotConnected) {
			return errMsg{err}
		}
		return noticeMsg{}
	}
}

func (m *Model) send() tea.Cmd {
	session := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_, err := session.SendDraft(ctx)
		return sendDoneMsg{err: err}
	}
}

func sendErrorText(err error) string {
	var failure *outbound.SendFailure
	switch {
	case errors.Is(err, conn.ErrNotConnected):
		return "not connected; message kept in the input"
	case errors.As(err, &failure):
		return "failed to send: " + failure.Err.Error()
	default:
		return err.Error()
	}
}

// command runs a slash command typed into the input.
func (m *Model) command(text string) tea.Cmd {
	name, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	arg = strings.TrimSpace(arg)
	session := m.session

	switch name {
	case "quit", "q":
		return tea.Quit
	case "find":
		m.filter = arg
		return m.refresh()
	case "reconnect":
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			if err := session.Reconnect(ctx); err != nil {
				return errMsg{err}
			}
			return noticeMsg{text: "reconnecting"}
		}
	case "dm":
		if arg == "" {
			return func() tea.Msg { return errMsg{errors.New("usage: /dm <username>")} }
		}
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			friends, err := session.Friends(ctx)
			if err != nil {
				return errMsg{err}
			}
			friend, ok := findFriend(friends, arg)
			if !ok {
				return errMsg{fmt.Errorf("no user named %q", arg)}
			}
			if _, err := session.CreateDirect(ctx, friend.ID); err != nil && !errors.Is(err, conn.ErrNotConnected) {
				return errMsg{err}
			}
			return noticeMsg{}
		}
	default:
		return func() tea.Msg { return errMsg{fmt.Errorf("unknown command /%s", name)} }
	}
}

func findFriend(friends []models.Friend, name string) (models.Friend, bool) {
	for _, f := range friends {
		if strings.EqualFold(f.Username, name) {
			return f, true
		}
	}
	return models.Friend{}, false
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	lines := height - reservedLines
	if lines < minContentLines {
		lines = minContentLines
	}
	m.messages.Width = width - rosterWidth - 3
	m.messages.Height = lines - 1
	m.input.Width = width - 4
	m.messages.SetContent(transcript(m.view))
}

func (m Model) View() string {
	lines := m.messages.Height + 1

	roster := rosterLines(m.view, m.shown)
	if m.filter != "" {
		roster = append([]string{dimStyle.Render("filter: " + m.filter)}, roster...)
	}
	if len(roster) > lines {
		roster = roster[:lines]
	}
	left := rosterStyle.Width(rosterWidth).Height(lines).Render(strings.Join(roster, "\n"))
	right := lipgloss.JoinVertical(lipgloss.Left, header(m.view), m.messages.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)

	status := statusLine(m.view, m.notice)
	if m.view.State == conn.Connecting || m.view.State == conn.Reconnecting {
		status = m.spin.View() + " " + status
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, status, m.input.View())
}
