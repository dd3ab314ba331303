package tui

import (
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// state represents the current phase of a command.
type state int

const (
	stateInit       state = iota
	stateLoggingIn        // login request in flight
	stateRefreshing       // refreshing the access token
	stateWorking          // backend call in flight
	stateSuccess          // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for blogctl's progress view.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	action  string
	summary string
	errMsg  string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles, defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── session messages ─────────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgSessionRestored:
		m.addStatus(statusOK, "Using stored session from "+msg.Source)
		return m, nil

	case MsgNoSession:
		m.addStatus(statusInfo, "Not logged in")
		return m, nil

	case MsgLoggingIn:
		m.state = stateLoggingIn
		m.action = "Logging in as " + msg.User
		return m, nil

	case MsgLoginOK:
		m.addStatus(statusOK, "Logged in as "+msg.User)
		return m, nil

	case MsgLoginFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Login failed: %v", msg.Err))
		return m, nil

	case MsgAccessTokenRejected:
		m.addStatus(statusWarn, "Access token rejected (401), refreshing...")
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		return m, nil

	case MsgRefreshOK:
		m.addStatus(statusOK, "Token refreshed successfully")
		if m.action != "" {
			m.state = stateWorking
		}
		return m, nil

	case MsgRefreshFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgLoggedOut:
		m.addStatus(statusWarn, "Session ended, run 'blogctl login' to sign in again")
		return m, nil

	case MsgTokenSaveFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Warning: failed to save tokens: %v", msg.Err))
		return m, nil

	case MsgWorking:
		m.state = stateWorking
		m.action = msg.Action
		return m, nil

	case MsgDone:
		m.summary = msg.Summary
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while a request is in flight.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  blogctl  "))
	b.WriteString("\n\n")

	b.WriteString(m.spinner.View())
	switch m.state {
	case stateRefreshing:
		b.WriteString(" Refreshing access token...\n")
	case stateLoggingIn, stateWorking:
		b.WriteString(" " + m.action + "...\n")
	default:
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	summary := m.summary
	if summary == "" {
		summary = "Done"
	}
	b.WriteString(styleOK.Render("  ✓ " + summary))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Command failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}
