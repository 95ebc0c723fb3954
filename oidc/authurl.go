package oidc

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultScope is requested on every authorization request.
const DefaultScope = "openid profile"

// NewState returns a fresh, unpredictable CSRF state value.
func NewState() string {
	return uuid.NewString()
}

// BuildAuthURL returns the browser facing authorization request URL for
// state. It never fails: every dynamic segment is percent-encoded.
func BuildAuthURL(cfg ClientConfig, state string) string {
	var b formBuilder
	b.add("client_id", cfg.ClientID)
	b.add("state", state)
	b.add("redirect_uri", cfg.RedirectURI)
	b.add("response_type", "code")
	b.add("scope", DefaultScope)

	sep := "?"
	if strings.Contains(cfg.AuthURL, "?") {
		sep = "&"
	}
	return cfg.AuthURL + sep + b.String()
}
