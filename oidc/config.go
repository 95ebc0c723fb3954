package oidc

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ClientConfig is the immutable client registration used for every request.
// Build it with NewClientConfig so the required fields are checked once.
type ClientConfig struct {
	TokenURL     string
	AuthURL      string
	ClientID     string
	RedirectURI  string
	ClientSecret string // optional; empty means a public client
}

// NewClientConfig validates c and returns a copy of it. Every problem is
// reported at once, wrapped in ErrInvalidConfiguration.
func NewClientConfig(c ClientConfig) (ClientConfig, error) {
	const op = "oidc.NewClientConfig"

	var merr *multierror.Error
	for _, f := range []struct {
		name, value string
		isURL       bool
	}{
		{"token url", c.TokenURL, true},
		{"auth url", c.AuthURL, true},
		{"client id", c.ClientID, false},
		{"redirect uri", c.RedirectURI, false},
	} {
		if strings.TrimSpace(f.value) == "" {
			merr = multierror.Append(merr, fmt.Errorf("%s is empty", f.name))
			continue
		}
		if f.isURL {
			if err := ValidateURL(f.value); err != nil {
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", f.name, err))
			}
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return ClientConfig{}, fmt.Errorf("%s: %w: %v", op, ErrInvalidConfiguration, err)
	}
	return c, nil
}

// HasSecret reports whether the client is confidential.
func (c ClientConfig) HasSecret() bool { return c.ClientSecret != "" }

// ValidateURL checks that rawURL is an absolute http(s) URL with a host.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL must include a host")
	}
	return nil
}
