package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Observer receives session changes. Calls arrive on background goroutines
// (redirect handling, scheduled refresh); implementations that drive a UI
// must hand them off to the UI loop.
type Observer interface {
	TokensUpdated(t TokenSet)
	RefreshFailed(err error)
}

type noopObserver struct{}

func (noopObserver) TokensUpdated(TokenSet) {}
func (noopObserver) RefreshFailed(error)    {}

// Client drives the login, token exchange and refresh cycle for one
// ClientConfig.
type Client struct {
	cfg       ClientConfig
	endpoint  *TokenEndpoint
	session   *Session
	scheduler *Scheduler
	observer  Observer
	logger    hclog.Logger
	newState  func() string
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger     hclog.Logger
	observer   Observer
	clock      clockwork.Clock
	httpClient *http.Client
	timeout    time.Duration
	newState   func() string
}

// WithLogger sets the logger. Sub-components log under named children.
func WithLogger(l hclog.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers the session observer.
func WithObserver(obs Observer) Option {
	return func(o *clientOptions) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithSchedulerClock sets the clock driving scheduled refreshes.
func WithSchedulerClock(c clockwork.Clock) Option {
	return func(o *clientOptions) {
		o.clock = c
	}
}

// WithTokenHTTPClient sets the http.Client used for token requests.
func WithTokenHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithRequestTimeout bounds each token request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithStateGenerator replaces NewState.
func WithStateGenerator(fn func() string) Option {
	return func(o *clientOptions) {
		if fn != nil {
			o.newState = fn
		}
	}
}

// NewClient validates cfg and returns an idle Client.
func NewClient(cfg ClientConfig, opts ...Option) (*Client, error) {
	const op = "oidc.NewClient"

	o := clientOptions{
		logger:   hclog.NewNullLogger(),
		observer: noopObserver{},
		newState: NewState,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := NewClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	endpoint, err := NewTokenEndpoint(cfg,
		WithHTTPClient(o.httpClient),
		WithTimeout(o.timeout),
		WithEndpointLogger(o.logger.Named("endpoint")),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c := &Client{
		cfg:      cfg,
		endpoint: endpoint,
		session:  NewSession(),
		observer: o.observer,
		logger:   o.logger,
		newState: o.newState,
	}
	c.scheduler = NewScheduler(c.scheduledRefresh,
		WithClock(o.clock),
		WithSchedulerLogger(o.logger.Named("scheduler")),
	)
	return c, nil
}

// Config returns the validated client configuration.
func (c *Client) Config() ClientConfig { return c.cfg }

// Session returns the client's session. Callers should only read it.
func (c *Client) Session() *Session { return c.session }

// Scheduler returns the refresh scheduler.
func (c *Client) Scheduler() *Scheduler { return c.scheduler }

// InitiateLogin starts a new login attempt and returns the URL to open in
// the browser. Any earlier attempt stops being valid.
func (c *Client) InitiateLogin() string {
	state := c.newState()
	c.session.BeginLogin(state)
	c.logger.Info("login initiated")
	return BuildAuthURL(c.cfg, state)
}

// HandleRedirect completes a login from the redirect's code and state. On a
// state mismatch the code is discarded and no exchange is attempted.
func (c *Client) HandleRedirect(ctx context.Context, code, state string) (TokenSet, error) {
	const op = "oidc.(Client).HandleRedirect"

	if err := c.session.ConsumeRedirect(state); err != nil {
		c.logger.Warn("rejected redirect", "error", err)
		return TokenSet{}, err
	}

	body, err := BuildTokenRequestBody(c.cfg, GrantAuthorizationCode, code)
	if err != nil {
		return TokenSet{}, fmt.Errorf("%s: %w", op, err)
	}
	return c.login(ctx, op, GrantAuthorizationCode, body)
}

// LoginClientCredentials obtains tokens with the client credentials grant.
// The scheduler re-runs the grant when the token expires, since no refresh
// token is issued.
func (c *Client) LoginClientCredentials(ctx context.Context) (TokenSet, error) {
	const op = "oidc.(Client).LoginClientCredentials"

	body, err := BuildTokenRequestBody(c.cfg, GrantClientCredentials, "")
	if err != nil {
		return TokenSet{}, fmt.Errorf("%s: %w", op, err)
	}
	return c.login(ctx, op, GrantClientCredentials, body)
}

func (c *Client) login(ctx context.Context, op string, grant GrantType, body string) (TokenSet, error) {
	tr, err := c.endpoint.Exchange(ctx, body)
	if err != nil {
		c.logger.Error("token exchange failed", "grant", grant, "error", err)
		return TokenSet{}, fmt.Errorf("%s: %w", op, err)
	}

	ts := c.session.Replace(tr, grant)
	c.logger.Info("login complete",
		"grant", grant,
		"expires_in", tr.ExpiresIn(),
		"refresh_token", tr.RefreshToken != "",
	)
	c.arm(tr.ExpiresIn())
	c.observer.TokensUpdated(ts)
	return ts, nil
}

func (c *Client) arm(interval time.Duration) {
	if interval <= 0 {
		// A zero lifetime also ends the previous session's cycle.
		c.scheduler.Disarm()
		c.logger.Warn("token carries no lifetime, refresh not scheduled")
		return
	}
	if err := c.scheduler.Arm(interval); err != nil {
		c.logger.Warn("unable to arm refresh", "error", err)
	}
}

// Refresh renews the session tokens once, using the refresh token or, for a
// client credentials session, the client credentials grant again.
func (c *Client) Refresh(ctx context.Context) (TokenSet, error) {
	ts, _, err := c.refresh(ctx)
	return ts, err
}

func (c *Client) refresh(ctx context.Context) (TokenSet, time.Duration, error) {
	const op = "oidc.(Client).Refresh"

	current := c.session.Snapshot()

	var (
		body string
		err  error
	)
	switch {
	case current.RefreshToken != "":
		body, err = BuildTokenRequestBody(c.cfg, GrantRefreshToken, current.RefreshToken)
	case current.Grant == GrantClientCredentials && current.Generation > 0:
		body, err = BuildTokenRequestBody(c.cfg, GrantClientCredentials, "")
	default:
		err = ErrNoRefreshCredential
	}
	if err != nil {
		return current, 0, fmt.Errorf("%s: %w", op, err)
	}

	tr, err := c.endpoint.Exchange(ctx, body)
	if err != nil {
		return current, 0, fmt.Errorf("%s: %w", op, err)
	}

	next, applied := c.session.ApplyRefresh(current.Generation, tr)
	if !applied {
		c.logger.Info("discarding refresh result, session was replaced meanwhile")
		return next, 0, nil
	}
	c.logger.Info("tokens refreshed", "expires_in", tr.ExpiresIn())
	c.observer.TokensUpdated(next)
	return next, tr.ExpiresIn(), nil
}

func (c *Client) scheduledRefresh(ctx context.Context) (time.Duration, error) {
	_, lifetime, err := c.refresh(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.observer.RefreshFailed(err)
		}
		return 0, err
	}
	return lifetime, nil
}

// Close cancels the refresh scheduler. The client cannot be re-armed after.
func (c *Client) Close() {
	c.scheduler.Cancel()
}
