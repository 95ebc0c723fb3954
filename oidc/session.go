package oidc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// LoginAttempt binds one browser login to the redirect that completes it.
type LoginAttempt struct {
	ExpectedState string
}

// ValidateRedirect reports whether receivedState belongs to attempt. The
// comparison is exact. A nil attempt or an empty received state never matches.
func ValidateRedirect(attempt *LoginAttempt, receivedState string) error {
	const op = "oidc.ValidateRedirect"
	if attempt == nil {
		return fmt.Errorf("%s: %w: no login attempt in flight", op, ErrStateMismatch)
	}
	if receivedState == "" {
		return fmt.Errorf("%s: %w: callback carried no state", op, ErrStateMismatch)
	}
	if receivedState != attempt.ExpectedState {
		return fmt.Errorf("%s: %w: callback state does not match the live login attempt", op, ErrStateMismatch)
	}
	return nil
}

// TokenSet is a consistent snapshot of the session tokens.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IDToken      string
	Expiry       time.Time
	Grant        GrantType // grant that established the session
	Generation   uint64    // bumped on every replace; zero means empty
}

// Valid reports whether an access token is present and not expired at now.
func (t TokenSet) Valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Before(t.Expiry)
}

// Session holds the live login attempt and the current token pair. Every
// token update is an atomic replace under one lock, so readers never see a
// half-updated pair.
type Session struct {
	mu         sync.RWMutex
	attempt    *LoginAttempt
	tokens     TokenSet
	generation uint64
	now        func() time.Time
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{now: time.Now}
}

// BeginLogin makes state the only valid state for the next redirect. Any
// previous attempt is invalidated.
func (s *Session) BeginLogin(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = &LoginAttempt{ExpectedState: state}
}

// ConsumeRedirect validates receivedState against the live attempt and, on
// success, retires the attempt so the same state cannot be replayed. A
// mismatch leaves the live attempt in place.
func (s *Session) ConsumeRedirect(receivedState string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ValidateRedirect(s.attempt, receivedState); err != nil {
		return err
	}
	s.attempt = nil
	return nil
}

// LoginInFlight reports whether a login attempt is waiting for its redirect.
func (s *Session) LoginInFlight() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempt != nil
}

// Replace installs the tokens from a fresh login, discarding whatever the
// session held before.
func (s *Session) Replace(tr *TokenResponse, grant GrantType) TokenSet {
	issuedAt := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.tokens = tokenSetFrom(tr, grant, issuedAt)
	s.tokens.Generation = s.generation
	return s.tokens
}

// ApplyRefresh installs refreshed tokens if the session is still at
// generation gen, i.e. no login replaced it while the refresh was in flight.
// When tr carries no refresh token the previous one is kept, as providers
// that do not rotate refresh tokens omit it.
func (s *Session) ApplyRefresh(gen uint64, tr *TokenResponse) (TokenSet, bool) {
	issuedAt := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return s.tokens, false
	}
	next := tokenSetFrom(tr, s.tokens.Grant, issuedAt)
	if next.RefreshToken == "" {
		next.RefreshToken = s.tokens.RefreshToken
	}
	s.generation++
	next.Generation = s.generation
	s.tokens = next
	return next, true
}

func tokenSetFrom(tr *TokenResponse, grant GrantType, issuedAt time.Time) TokenSet {
	t := TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		IDToken:      tr.IDToken,
		Grant:        grant,
	}
	if tr.ExpiresInSeconds > 0 {
		t.Expiry = issuedAt.Add(tr.ExpiresIn())
	}
	return t
}

// Snapshot returns the current tokens.
func (s *Session) Snapshot() TokenSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// Token implements oauth2.TokenSource over the current access token.
func (s *Session) Token() (*oauth2.Token, error) {
	t := s.Snapshot()
	if t.AccessToken == "" {
		return nil, errors.New("oidc: session has no access token")
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}, nil
}

var _ oauth2.TokenSource = (*Session)(nil)
