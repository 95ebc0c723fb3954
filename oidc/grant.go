package oidc

import (
	"fmt"
	"net/url"
	"strings"
)

// GrantType selects the OAuth 2.0 flow used against the token endpoint.
type GrantType int

const (
	GrantAuthorizationCode GrantType = iota
	GrantRefreshToken
	GrantClientCredentials
	GrantImplicit // recognized, never sent to the token endpoint
)

func (g GrantType) String() string {
	switch g {
	case GrantAuthorizationCode:
		return "authorization_code"
	case GrantRefreshToken:
		return "refresh_token"
	case GrantClientCredentials:
		return "client_credentials"
	case GrantImplicit:
		return "implicit"
	default:
		return fmt.Sprintf("GrantType(%d)", int(g))
	}
}

// ParseGrantType maps a grant_type wire value to a GrantType.
func ParseGrantType(s string) (GrantType, error) {
	switch s {
	case "authorization_code":
		return GrantAuthorizationCode, nil
	case "refresh_token":
		return GrantRefreshToken, nil
	case "client_credentials":
		return GrantClientCredentials, nil
	case "implicit":
		return GrantImplicit, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedGrant, s)
}

// grantStrategy describes the grant specific head of a token request body.
type grantStrategy struct {
	credentialKey  string // form key of the caller supplied credential, if any
	requiresSecret bool
}

var grantStrategies = map[GrantType]grantStrategy{
	GrantAuthorizationCode: {credentialKey: "code"},
	GrantRefreshToken:      {credentialKey: "refresh_token"},
	GrantClientCredentials: {requiresSecret: true},
}

// BuildTokenRequestBody returns the application/x-www-form-urlencoded body for
// grant. Field order is fixed: grant_type, the grant credential, redirect_uri,
// client_id and client_secret when configured.
func BuildTokenRequestBody(cfg ClientConfig, grant GrantType, credential string) (string, error) {
	const op = "oidc.BuildTokenRequestBody"

	strategy, ok := grantStrategies[grant]
	if !ok {
		return "", fmt.Errorf("%s: %w: %s", op, ErrUnsupportedGrant, grant)
	}
	if strategy.requiresSecret && !cfg.HasSecret() {
		return "", fmt.Errorf("%s: %w: %s grant requires a client secret", op, ErrInvalidConfiguration, grant)
	}
	if strategy.credentialKey != "" && credential == "" {
		return "", fmt.Errorf("%s: %w: %s grant requires a non-empty %s", op, ErrInvalidArgument, grant, strategy.credentialKey)
	}

	var b formBuilder
	b.add("grant_type", grant.String())
	if strategy.credentialKey != "" {
		b.add(strategy.credentialKey, credential)
	}
	b.add("redirect_uri", cfg.RedirectURI)
	b.add("client_id", cfg.ClientID)
	if cfg.HasSecret() {
		b.add("client_secret", cfg.ClientSecret)
	}
	return b.String(), nil
}

// formBuilder writes key=value pairs in insertion order. url.Values sorts
// its keys, which would make the body order depend on the key names.
type formBuilder struct {
	sb strings.Builder
}

func (f *formBuilder) add(key, value string) {
	if f.sb.Len() > 0 {
		f.sb.WriteByte('&')
	}
	f.sb.WriteString(encode(key))
	f.sb.WriteByte('=')
	f.sb.WriteString(encode(value))
}

func (f *formBuilder) String() string { return f.sb.String() }

// encode percent-encodes s as UTF-8, spaces as %20.
func encode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
