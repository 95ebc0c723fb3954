package oidc

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout bounds a whole token request, connect to last byte.
const DefaultHTTPTimeout = 10 * time.Second

// maxExpiresInSeconds is the largest lifetime a time.Duration can hold.
const maxExpiresInSeconds = math.MaxInt64 / int64(time.Second)

// TokenResponse is the parsed body of a successful token request.
type TokenResponse struct {
	AccessToken      string
	RefreshToken     string // empty when the provider did not issue one
	TokenType        string
	ExpiresInSeconds int64
	IDToken          string
	Scope            string
}

// ExpiresIn returns the access token lifetime.
func (r *TokenResponse) ExpiresIn() time.Duration {
	return time.Duration(r.ExpiresInSeconds) * time.Second
}

// Token converts r into an oauth2.Token that expires relative to issuedAt.
func (r *TokenResponse) Token(issuedAt time.Time) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}
	if r.ExpiresInSeconds > 0 {
		tok.Expiry = issuedAt.Add(r.ExpiresIn())
	}
	if r.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": r.IDToken})
	}
	return tok
}

// NewHTTPClient returns a pooled client with a TLS 1.2 floor and an overall
// request timeout. A non-positive timeout selects DefaultHTTPTimeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	transport := cleanhttp.DefaultPooledTransport()
	transport.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// TokenEndpoint performs token requests against one provider. It is the
// only component that talks to the network during login and refresh, and it
// never retries: retry policy belongs to its callers.
type TokenEndpoint struct {
	tokenURL string
	timeout  time.Duration
	client   *retry.Client
	logger   hclog.Logger
}

// EndpointOption configures a TokenEndpoint.
type EndpointOption func(*endpointOptions)

type endpointOptions struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     hclog.Logger
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) EndpointOption {
	return func(o *endpointOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithTimeout sets the per request deadline.
func WithTimeout(d time.Duration) EndpointOption {
	return func(o *endpointOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithEndpointLogger sets the logger.
func WithEndpointLogger(l hclog.Logger) EndpointOption {
	return func(o *endpointOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewTokenEndpoint builds a TokenEndpoint for cfg.TokenURL.
func NewTokenEndpoint(cfg ClientConfig, opts ...EndpointOption) (*TokenEndpoint, error) {
	const op = "oidc.NewTokenEndpoint"

	o := endpointOptions{
		timeout: DefaultHTTPTimeout,
		logger:  hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = NewHTTPClient(o.timeout)
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("%s: %w: token url is empty", op, ErrInvalidConfiguration)
	}

	// A retryable status would be drained and closed by the retry client
	// even with zero retries, losing the body of a 5xx or 429.
	client, err := retry.NewClient(
		retry.WithHTTPClient(o.httpClient),
		retry.WithMaxRetries(0),
		retry.WithRetryableChecker(neverRetry),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	return &TokenEndpoint{
		tokenURL: cfg.TokenURL,
		timeout:  o.timeout,
		client:   client,
		logger:   o.logger,
	}, nil
}

// Exchange POSTs body to the token endpoint and parses the JSON reply.
//
// Errors: *TransportError for network failures, *TokenEndpointError for a
// non-2xx status, ErrMalformedTokenResponse when access_token or expires_in
// is missing or has the wrong type.
func (t *TokenEndpoint) Exchange(ctx context.Context, body string) (*TokenResponse, error) {
	const op = "oidc.(TokenEndpoint).Exchange"

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		t.tokenURL,
		strings.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: unable to create request: %v", op, ErrInvalidConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := t.client.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	t.logger.Debug("token endpoint responded",
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newTokenEndpointError(resp.StatusCode, respBody)
	}

	tr, err := parseTokenResponse(respBody)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tr, nil
}

func neverRetry(error, *http.Response) bool { return false }

func newTokenEndpointError(status int, body []byte) *TokenEndpointError {
	e := &TokenEndpointError{StatusCode: status, Body: string(body)}
	var errResp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		e.Code = errResp.Error
		e.Description = errResp.ErrorDescription
	}
	return e
}

func parseTokenResponse(body []byte) (*TokenResponse, error) {
	var raw struct {
		AccessToken  *string      `json:"access_token"`
		RefreshToken *string      `json:"refresh_token"`
		TokenType    string       `json:"token_type"`
		ExpiresIn    *json.Number `json:"expires_in"`
		IDToken      string       `json:"id_token"`
		Scope        string       `json:"scope"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTokenResponse, err)
	}

	if raw.AccessToken == nil || *raw.AccessToken == "" {
		return nil, fmt.Errorf("%w: access_token is missing", ErrMalformedTokenResponse)
	}
	if raw.ExpiresIn == nil {
		return nil, fmt.Errorf("%w: expires_in is missing", ErrMalformedTokenResponse)
	}
	expiresIn, err := raw.ExpiresIn.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: expires_in is not an integer: %v", ErrMalformedTokenResponse, err)
	}
	if expiresIn < 0 {
		return nil, fmt.Errorf("%w: expires_in must not be negative, got: %d", ErrMalformedTokenResponse, expiresIn)
	}
	if expiresIn > maxExpiresInSeconds {
		return nil, fmt.Errorf("%w: expires_in is out of range, got: %d", ErrMalformedTokenResponse, expiresIn)
	}

	tr := &TokenResponse{
		AccessToken:      *raw.AccessToken,
		TokenType:        raw.TokenType,
		ExpiresInSeconds: expiresIn,
		IDToken:          raw.IDToken,
		Scope:            raw.Scope,
	}
	if raw.RefreshToken != nil {
		tr.RefreshToken = *raw.RefreshToken
	}
	return tr, nil
}
