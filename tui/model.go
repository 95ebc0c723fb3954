package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/go-authgate/oidc-cli/oidc"
)

// tickMsg is fired every second to update the expiry countdown.
type tickMsg time.Time

// state represents the current phase of the login flow.
type state int

const (
	stateStarting          state = iota
	stateWaitingForBrowser       // login URL issued, waiting for the redirect
	stateExchanging              // redirect received, exchanging the code
	stateLoggedIn                // tokens held, refresh armed
	stateError                   // fatal error
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

// maxStatusLines bounds the status log; a long running session would
// otherwise grow it by one line per refresh.
const maxStatusLines = 12

// Model is the BubbleTea model for the login TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int
	login   func()

	redirectURI string
	authURL     string

	tokens    oidc.TokenSet
	remaining time.Duration
	ticking   bool
	refreshes int
	userInfo  map[string]any

	errMsg string

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

	styleLinkBox = lipgloss.NewStyle().
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 1)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model. login is run off the UI loop when
// the user presses "l"; it may be nil when interactive login is unavailable.
func NewModel(login func()) Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateStarting,
		spinner: s,
		login:   login,
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

	case tickMsg:
		m.remaining = m.untilExpiry()
		if m.remaining > 0 {
			return m, tickAfterSecond()
		}
		m.ticking = false
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "l":
			if m.login == nil || m.state == stateExchanging || m.state == stateError {
				return m, nil
			}
			login := m.login
			return m, func() tea.Msg {
				login()
				return nil
			}
		}
		return m, nil

	// ── Login flow messages ──────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgListenerReady:
		m.redirectURI = msg.RedirectURI
		m.addStatus(statusInfo, "Listening on "+msg.RedirectURI)
		return m, nil

	case MsgLoginStarted:
		m.authURL = msg.AuthURL
		m.state = stateWaitingForBrowser
		m.addStatus(statusInfo, "Login started, waiting for the browser")
		return m, nil

	case MsgBrowserFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Could not open a browser: %v", msg.Err))
		return m, nil

	case MsgRedirectReceived:
		m.state = stateExchanging
		m.addStatus(statusInfo, "Redirect received, exchanging code...")
		return m, nil

	case MsgLoginRejected:
		if m.state == stateExchanging {
			m.state = m.idleState()
			if m.authURL != "" {
				m.state = stateWaitingForBrowser
			}
		}
		m.addStatus(statusWarn, fmt.Sprintf("Redirect rejected: %v", msg.Err))
		return m, nil

	case MsgLoginFailed:
		m.state = m.idleState()
		m.authURL = ""
		m.addStatus(statusWarn, fmt.Sprintf("Login failed: %v", msg.Err))
		return m, nil

	case MsgTokensUpdated:
		// Observer calls are not ordered; never step back to older tokens.
		if msg.Tokens.Generation < m.tokens.Generation {
			return m, nil
		}
		if m.state == stateLoggedIn {
			m.refreshes++
			m.addStatus(statusOK, "Tokens refreshed")
		} else {
			m.addStatus(statusOK, "Login successful")
		}
		m.tokens = msg.Tokens
		m.state = stateLoggedIn
		m.authURL = ""
		m.remaining = m.untilExpiry()
		if m.remaining > 0 && !m.ticking {
			m.ticking = true
			return m, tickAfterSecond()
		}
		return m, nil

	case MsgRefreshFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed, retrying on next tick: %v", msg.Err))
		return m, nil

	case MsgUserInfo:
		m.userInfo = msg.Claims
		m.addStatus(statusOK, "UserInfo received")
		return m, nil

	case MsgUserInfoFailed:
		m.addStatus(statusWarn, fmt.Sprintf("UserInfo failed: %v", msg.Err))
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// idleState is the state to fall back to after a failed login.
func (m Model) idleState() state {
	if m.tokens.AccessToken != "" {
		return stateLoggedIn
	}
	return stateStarting
}

func (m Model) untilExpiry() time.Duration {
	if m.tokens.Expiry.IsZero() {
		return 0
	}
	return max(time.Until(m.tokens.Expiry), 0)
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateLoggedIn:
		return tea.NewView(m.viewLoggedIn())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

func (m Model) header(b *strings.Builder) {
	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  OpenID Connect Login  "))
	b.WriteString("\n\n")
}

// viewMain is shown before the first login completes.
func (m Model) viewMain() string {
	var b strings.Builder
	m.header(&b)

	switch m.state {
	case stateWaitingForBrowser:
		b.WriteString(styleBold.Render("Log in with your browser:"))
		b.WriteString("\n")
		b.WriteString(styleLinkBox.Render(m.authURL))
		b.WriteString("\n\n")
		b.WriteString(m.spinner.View())
		b.WriteString(" Waiting for the redirect...\n")

	case stateExchanging:
		b.WriteString(m.spinner.View())
		b.WriteString(" Exchanging authorization code...\n")

	default:
		if m.redirectURI != "" {
			b.WriteString(styleDim.Render("Redirect URI: " + m.redirectURI))
			b.WriteString("\n")
		}
		if m.login != nil {
			b.WriteString("Press ")
			b.WriteString(styleBold.Render("l"))
			b.WriteString(" to log in, ")
			b.WriteString(styleBold.Render("q"))
			b.WriteString(" to quit.\n")
		} else {
			b.WriteString(m.spinner.View())
			b.WriteString(" Starting...\n")
		}
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewLoggedIn shows the current tokens and the refresh countdown.
func (m Model) viewLoggedIn() string {
	var b strings.Builder
	m.header(&b)

	b.WriteString(styleOK.Render("  ✓ Logged in"))
	b.WriteString(styleDim.Render(fmt.Sprintf("  (%s, %d refreshes)", m.tokens.Grant, m.refreshes)))
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("Access Token:  "))
	b.WriteString(preview(m.tokens.AccessToken, 40) + "\n")

	b.WriteString(styleBold.Render("Refresh Token: "))
	b.WriteString(preview(m.tokens.RefreshToken, 40) + "\n")

	if m.tokens.TokenType != "" {
		b.WriteString(styleBold.Render("Token Type:    "))
		b.WriteString(m.tokens.TokenType + "\n")
	}

	b.WriteString(styleBold.Render("Expires In:    "))
	if m.tokens.Expiry.IsZero() {
		b.WriteString("unknown, refresh not scheduled\n")
	} else {
		b.WriteString(formatDuration(m.remaining) + "\n")
	}

	if s := summarizeClaims(m.tokens.AccessToken); s != "" {
		b.WriteString(styleBold.Render("Claims:        "))
		b.WriteString(s + "\n")
	}

	if len(m.userInfo) > 0 {
		b.WriteString("\n")
		b.WriteString(styleBold.Render("UserInfo"))
		b.WriteString("\n")
		b.WriteString(formatClaims(m.userInfo))
	}

	if m.login != nil {
		b.WriteString("\n")
		b.WriteString(styleDim.Render("l: log in again · q: quit"))
		b.WriteString("\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Login failed"))
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

// addStatus appends a line to the status log, dropping the oldest line once
// the log is full.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
	if n := len(m.statusLines); n > maxStatusLines {
		m.statusLines = append([]statusLine(nil), m.statusLines[n-maxStatusLines:]...)
	}
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatClaims renders claims one per line in key order.
func formatClaims(claims map[string]any) string {
	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %v\n", k, claims[k])
	}
	return b.String()
}

// formatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
