package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"golang.org/x/oauth2"
)

// userInfoMaxRetries bounds the retries of one UserInfo request.
const userInfoMaxRetries = 3

// UserInfoFetcher reads the OIDC UserInfo endpoint with the session's access
// token. Unlike token requests, transient failures are retried.
type UserInfoFetcher struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	retryDelay time.Duration // zero keeps the retry client's default
}

// NewUserInfoFetcher returns a fetcher for userInfoURL. A nil httpClient
// selects NewHTTPClient(timeout).
func NewUserInfoFetcher(userInfoURL string, httpClient *http.Client, timeout time.Duration) (*UserInfoFetcher, error) {
	const op = "oidc.NewUserInfoFetcher"

	if err := ValidateURL(userInfoURL); err != nil {
		return nil, fmt.Errorf("%s: %w: userinfo url: %v", op, ErrInvalidConfiguration, err)
	}
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(timeout)
	}
	return &UserInfoFetcher{url: userInfoURL, timeout: timeout, httpClient: httpClient}, nil
}

// newRetryClient returns a client for a single request. The final attempt is
// never retryable, so its response reaches the caller with the body intact.
func (f *UserInfoFetcher) newRetryClient() (*retry.Client, error) {
	var attempts int
	opts := []retry.Option{
		retry.WithHTTPClient(f.httpClient),
		retry.WithMaxRetries(userInfoMaxRetries),
		retry.WithRetryableChecker(func(err error, resp *http.Response) bool {
			attempts++
			if attempts > userInfoMaxRetries {
				return false
			}
			return retry.DefaultRetryableChecker(err, resp)
		}),
	}
	if f.retryDelay > 0 {
		opts = append(opts, retry.WithInitialRetryDelay(f.retryDelay))
	}
	return retry.NewClient(opts...)
}

// Fetch returns the UserInfo claims for the token supplied by ts.
func (f *UserInfoFetcher) Fetch(ctx context.Context, ts oauth2.TokenSource) (map[string]any, error) {
	const op = "oidc.(UserInfoFetcher).Fetch"

	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	client, err := f.newRetryClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	resp, err := client.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: userinfo returned status %d: %s", op, resp.StatusCode, string(body))
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("%s: failed to parse userinfo response: %w", op, err)
	}
	return claims, nil
}
