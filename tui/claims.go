package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PeekClaims decodes a JWT access token without verifying it. The result is
// for display only; opaque tokens return ok == false.
func PeekClaims(token string) (jwt.MapClaims, bool) {
	if strings.Count(token, ".") != 2 {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// summarizeClaims renders the subject, issuer and expiry of a JWT access
// token on one line, or "" for opaque tokens.
func summarizeClaims(token string) string {
	claims, ok := PeekClaims(token)
	if !ok {
		return ""
	}

	var parts []string
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		parts = append(parts, "sub="+sub)
	}
	if iss, err := claims.GetIssuer(); err == nil && iss != "" {
		parts = append(parts, "iss="+iss)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		parts = append(parts, "exp="+exp.UTC().Format(time.RFC3339))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d claims", len(claims))
	}
	return strings.Join(parts, " ")
}

// preview shortens a token for display.
func preview(token string, n int) string {
	if token == "" {
		return "(none)"
	}
	if len(token) <= n {
		return token
	}
	return token[:n] + "..."
}
