package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ledger-chat/internal/conn"
	"ledger-chat/internal/engine"
	"ledger-chat/internal/models"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	onlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	badgeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("63")).Padding(0, 1)

	rosterStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(lipgloss.Color("238")).
			PaddingRight(1)
)

const timeLayout = "15:04"

// rosterLines renders one line per conversation: active marker, presence dot,
// display name and unread badge.
func rosterLines(v engine.View, convs []models.Conversation) []string {
	lines := make([]string, 0, len(convs))
	for _, c := range convs {
		marker := "  "
		name := c.DisplayName(v.SelfID)
		if c.ID == v.Active {
			marker = accentStyle.Render("› ")
			name = boldStyle.Render(name)
		}

		dot := " "
		if other, ok := c.Other(v.SelfID); ok && c.Kind == models.ConversationDirect {
			if v.Statuses[other.UserID] == models.StatusOnline {
				dot = onlineStyle.Render("●")
			}
		}

		line := marker + dot + " " + name
		if c.UnreadCount > 0 {
			line += " " + badgeStyle.Render(fmt.Sprintf("%d", c.UnreadCount))
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, dimStyle.Render("no conversations"))
	}
	return lines
}

func senderLabel(v engine.View, conv models.Conversation, msg models.Message) string {
	if msg.SenderID == v.SelfID {
		return "You"
	}
	if p, ok := conv.Participant(msg.SenderID); ok {
		if n := p.User.DisplayName(); n != "" {
			return msg.SenderName(n)
		}
	}
	return msg.SenderName("Unknown")
}

// transcript renders the active conversation's messages followed by sends still
// waiting for their echo.
func transcript(v engine.View) string {
	conv, ok := v.Conversation()
	if !ok {
		return dimStyle.Render("Select a conversation with Tab.")
	}
	if !v.Loaded {
		return dimStyle.Render("Loading messages...")
	}

	var b strings.Builder
	for _, msg := range v.Messages {
		b.WriteString(dimStyle.Render(msg.CreatedAt.Local().Format(timeLayout)))
		b.WriteString(" ")
		b.WriteString(boldStyle.Render(senderLabel(v, conv, msg)))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	for _, p := range v.Pending {
		if p.ConversationID != conv.ID {
			continue
		}
		b.WriteString(dimStyle.Render(p.SentAt.Local().Format(timeLayout) + " You: " + p.Content + " (sending)"))
		b.WriteString("\n")
	}
	if len(v.Messages) == 0 && b.Len() == 0 {
		return dimStyle.Render("No messages yet. Say hello!")
	}
	return strings.TrimRight(b.String(), "\n")
}

func stateLabel(s conn.State) string {
	switch s {
	case conn.Connected:
		return onlineStyle.Render("connected")
	case conn.Disconnected:
		return errorStyle.Render("disconnected")
	default:
		return dimStyle.Render(s.String() + "...")
	}
}

// statusLine shows the connection state, the typing summary and the last error.
func statusLine(v engine.View, notice string) string {
	parts := []string{stateLabel(v.State)}
	if v.TotalUnread > 0 {
		parts = append(parts, fmt.Sprintf("%d unread", v.TotalUnread))
	}
	if v.Typing != "" {
		parts = append(parts, accentStyle.Render(v.Typing+"..."))
	}
	if notice != "" {
		parts = append(parts, notice)
	} else if v.LastError != nil {
		parts = append(parts, errorStyle.Render(v.LastError.Error()))
	}
	return strings.Join(parts, dimStyle.Render(" · "))
}

func header(v engine.View) string {
	conv, ok := v.Conversation()
	if !ok {
		return boldStyle.Render("ledgerchat")
	}
	title := boldStyle.Render(conv.DisplayName(v.SelfID))
	if conv.Kind == models.ConversationGroup {
		title += dimStyle.Render(fmt.Sprintf("  %d members", len(conv.Participants)))
	}
	return title
}
