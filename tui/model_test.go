package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/oidc-cli/oidc"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return nm, cmd
}

func TestModel_LoginFlow(t *testing.T) {
	m := NewModel(func() {})

	m, _ = update(t, m, MsgListenerReady{RedirectURI: "http://localhost:32323/oidc"})
	if m.state != stateStarting {
		t.Fatalf("state = %v, want stateStarting", m.state)
	}

	m, _ = update(t, m, MsgLoginStarted{AuthURL: "https://idp.example.com/auth?state=s"})
	if m.state != stateWaitingForBrowser {
		t.Fatalf("state = %v, want stateWaitingForBrowser", m.state)
	}
	if !strings.Contains(m.viewMain(), "https://idp.example.com/auth?state=s") {
		t.Error("waiting view should show the login URL")
	}

	m, _ = update(t, m, MsgRedirectReceived{})
	if m.state != stateExchanging {
		t.Fatalf("state = %v, want stateExchanging", m.state)
	}

	tokens := oidc.TokenSet{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
		Grant:        oidc.GrantAuthorizationCode,
		Generation:   1,
	}
	m, cmd := update(t, m, MsgTokensUpdated{Tokens: tokens})
	if m.state != stateLoggedIn {
		t.Fatalf("state = %v, want stateLoggedIn", m.state)
	}
	if cmd == nil {
		t.Error("expected countdown tick to start")
	}
	if m.refreshes != 0 {
		t.Errorf("refreshes = %d, want 0 after login", m.refreshes)
	}

	view := m.viewLoggedIn()
	for _, want := range []string{"access-token", "refresh-token", "Bearer"} {
		if !strings.Contains(view, want) {
			t.Errorf("logged in view missing %q", want)
		}
	}

	tokens.AccessToken = "access-token-2"
	tokens.Generation = 2
	m, cmd = update(t, m, MsgTokensUpdated{Tokens: tokens})
	if m.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", m.refreshes)
	}
	if cmd != nil {
		t.Error("countdown already running, no second tick expected")
	}
	if !strings.Contains(m.viewLoggedIn(), "access-token-2") {
		t.Error("view should show the refreshed token")
	}
}

func TestModel_RejectedRedirectKeepsWaiting(t *testing.T) {
	m := NewModel(func() {})
	m, _ = update(t, m, MsgLoginStarted{AuthURL: "https://idp.example.com/auth"})
	m, _ = update(t, m, MsgRedirectReceived{})
	m, _ = update(t, m, MsgLoginRejected{Err: oidc.ErrStateMismatch})

	if m.state != stateWaitingForBrowser {
		t.Errorf("state = %v, want stateWaitingForBrowser", m.state)
	}
	last := m.statusLines[len(m.statusLines)-1]
	if last.kind != statusWarn || !strings.Contains(last.text, "state mismatch") {
		t.Errorf("last status = %+v", last)
	}
}

func TestModel_LoginFailedKeepsSession(t *testing.T) {
	m := NewModel(func() {})
	m, _ = update(t, m, MsgTokensUpdated{Tokens: oidc.TokenSet{AccessToken: "A", Generation: 1}})
	m, _ = update(t, m, MsgLoginStarted{AuthURL: "https://idp.example.com/auth"})
	m, _ = update(t, m, MsgRedirectReceived{})
	m, _ = update(t, m, MsgLoginFailed{Err: errors.New("invalid_grant")})

	if m.state != stateLoggedIn {
		t.Errorf("state = %v, want stateLoggedIn", m.state)
	}
	if m.tokens.AccessToken != "A" {
		t.Errorf("tokens were dropped: %+v", m.tokens)
	}
}

func TestModel_RefreshFailedStaysLoggedIn(t *testing.T) {
	m := NewModel(nil)
	m, _ = update(t, m, MsgTokensUpdated{Tokens: oidc.TokenSet{AccessToken: "A", Generation: 1}})
	m, _ = update(t, m, MsgRefreshFailed{Err: errors.New("boom")})

	if m.state != stateLoggedIn {
		t.Errorf("state = %v, want stateLoggedIn", m.state)
	}
	if !strings.Contains(m.viewLoggedIn(), "refresh not scheduled") {
		t.Error("token without expiry should say refresh is not scheduled")
	}
}

func TestModel_Fatal(t *testing.T) {
	m := NewModel(nil)
	m, _ = update(t, m, MsgFatal{Err: errors.New("redirect port 32323 unavailable")})
	if m.state != stateError {
		t.Fatalf("state = %v, want stateError", m.state)
	}
	if !strings.Contains(m.viewError(), "redirect port 32323 unavailable") {
		t.Error("error view should show the error")
	}
}

func TestModel_UserInfo(t *testing.T) {
	m := NewModel(nil)
	m, _ = update(t, m, MsgTokensUpdated{Tokens: oidc.TokenSet{AccessToken: "A", Generation: 1}})
	m, _ = update(t, m, MsgUserInfo{Claims: map[string]any{"sub": "alice", "email": "a@example.com"}})

	view := m.viewLoggedIn()
	if !strings.Contains(view, "email: a@example.com") || !strings.Contains(view, "sub: alice") {
		t.Errorf("view missing userinfo claims:\n%s", view)
	}
}

func TestModel_LoginKey(t *testing.T) {
	called := make(chan struct{}, 1)
	m := NewModel(func() { called <- struct{}{} })

	_, cmd := update(t, m, tea.KeyPressMsg{Code: 'l', Text: "l"})
	if cmd == nil {
		t.Fatal("expected a login command")
	}
	if msg := cmd(); msg != nil {
		t.Errorf("login command returned %T, want nil", msg)
	}
	select {
	case <-called:
	default:
		t.Error("login func was not called")
	}

	m.state = stateExchanging
	if _, cmd := update(t, m, tea.KeyPressMsg{Code: 'l', Text: "l"}); cmd != nil {
		t.Error("no login while an exchange is running")
	}

	if _, cmd := update(t, NewModel(nil), tea.KeyPressMsg{Code: 'l', Text: "l"}); cmd != nil {
		t.Error("no login without a login func")
	}
}

func TestModel_StatusLogIsBounded(t *testing.T) {
	m := NewModel(nil)
	for range maxStatusLines + 5 {
		m, _ = update(t, m, MsgRefreshFailed{Err: errors.New("boom")})
	}
	if len(m.statusLines) != maxStatusLines {
		t.Errorf("status lines = %d, want %d", len(m.statusLines), maxStatusLines)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{time.Hour + 5*time.Minute, "1h 5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestModel_IgnoresOlderTokens(t *testing.T) {
	m := NewModel(nil)
	m, _ = update(t, m, MsgTokensUpdated{Tokens: oidc.TokenSet{AccessToken: "login", Generation: 3}})
	m, _ = update(t, m, MsgTokensUpdated{Tokens: oidc.TokenSet{AccessToken: "late-refresh", Generation: 2}})

	if m.tokens.AccessToken != "login" {
		t.Errorf("AccessToken = %q, want the newer login tokens", m.tokens.AccessToken)
	}
	if m.refreshes != 0 {
		t.Errorf("refreshes = %d, stale update must not count", m.refreshes)
	}
}
