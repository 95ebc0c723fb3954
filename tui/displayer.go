package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/oidc-cli/oidc"
)

// Displayer abstracts all output from the login flow. Methods are called from
// background goroutines (redirect handling, scheduled refresh), so every
// implementation must be safe for concurrent use.
type Displayer interface {
	oidc.Observer

	Banner()
	ListenerReady(redirectURI string)
	LoginStarted(authURL string)
	BrowserFailed(err error)
	RedirectReceived()
	LoginRejected(err error)
	LoginFailed(err error)
	UserInfo(claims map[string]any)
	UserInfoFailed(err error)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	mu      sync.Mutex
	w       io.Writer
	lastGen uint64
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *PlainDisplayer) Banner() {
	p.printf("=== OpenID Connect Login from a Native App ===\n\n")
}

func (p *PlainDisplayer) ListenerReady(redirectURI string) {
	p.printf("Listening for the login redirect on %s\n", redirectURI)
}

func (p *PlainDisplayer) LoginStarted(authURL string) {
	p.printf("----------------------------------------\n")
	p.printf("Please open this link to log in:\n%s\n", authURL)
	p.printf("----------------------------------------\n")
}

func (p *PlainDisplayer) BrowserFailed(err error) {
	p.printf("Could not open a browser (%v), please visit the link manually.\n", err)
}

func (p *PlainDisplayer) RedirectReceived() {
	p.printf("Redirect received, exchanging authorization code...\n")
}

func (p *PlainDisplayer) LoginRejected(err error) {
	p.printf("Login rejected: %v\n", err)
}

func (p *PlainDisplayer) LoginFailed(err error) {
	p.printf("Login failed: %v\n", err)
}

func (p *PlainDisplayer) TokensUpdated(t oidc.TokenSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.Generation < p.lastGen {
		return
	}
	p.lastGen = t.Generation
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintf(p.w, "Access Token: %s\n", preview(t.AccessToken, 50))
	fmt.Fprintf(p.w, "Refresh Token: %s\n", preview(t.RefreshToken, 50))
	if !t.Expiry.IsZero() {
		fmt.Fprintf(p.w, "Expires In: %s\n", time.Until(t.Expiry).Round(time.Second))
	}
	if s := summarizeClaims(t.AccessToken); s != "" {
		fmt.Fprintf(p.w, "Claims: %s\n", s)
	}
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	p.printf("Refresh failed, retrying on the next tick: %v\n", err)
}

func (p *PlainDisplayer) UserInfo(claims map[string]any) {
	data, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		p.printf("UserInfo: %v\n", claims)
		return
	}
	p.printf("UserInfo: %s\n", data)
}

func (p *PlainDisplayer) UserInfoFailed(err error) {
	p.printf("UserInfo request failed: %v\n", err)
}

func (p *PlainDisplayer) Fatal(err error) {
	p.printf("Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                       {}
func (NoopDisplayer) ListenerReady(_ string)        {}
func (NoopDisplayer) LoginStarted(_ string)         {}
func (NoopDisplayer) BrowserFailed(_ error)         {}
func (NoopDisplayer) RedirectReceived()             {}
func (NoopDisplayer) LoginRejected(_ error)         {}
func (NoopDisplayer) LoginFailed(_ error)           {}
func (NoopDisplayer) TokensUpdated(_ oidc.TokenSet) {}
func (NoopDisplayer) RefreshFailed(_ error)         {}
func (NoopDisplayer) UserInfo(_ map[string]any)     {}
func (NoopDisplayer) UserInfoFailed(_ error)        {}
func (NoopDisplayer) Fatal(_ error)                 {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
// tea.Program.Send is the hand-off onto the UI loop; the model is only ever
// mutated there.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) ListenerReady(redirectURI string) {
	t.p.Send(MsgListenerReady{RedirectURI: redirectURI})
}

func (t *ProgramDisplayer) LoginStarted(authURL string) {
	t.p.Send(MsgLoginStarted{AuthURL: authURL})
}

func (t *ProgramDisplayer) BrowserFailed(err error) {
	t.p.Send(MsgBrowserFailed{Err: err})
}

func (t *ProgramDisplayer) RedirectReceived() {
	t.p.Send(MsgRedirectReceived{})
}

func (t *ProgramDisplayer) LoginRejected(err error) {
	t.p.Send(MsgLoginRejected{Err: err})
}

func (t *ProgramDisplayer) LoginFailed(err error) {
	t.p.Send(MsgLoginFailed{Err: err})
}

func (t *ProgramDisplayer) TokensUpdated(tokens oidc.TokenSet) {
	t.p.Send(MsgTokensUpdated{Tokens: tokens})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) UserInfo(claims map[string]any) {
	t.p.Send(MsgUserInfo{Claims: claims})
}

func (t *ProgramDisplayer) UserInfoFailed(err error) {
	t.p.Send(MsgUserInfoFailed{Err: err})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
