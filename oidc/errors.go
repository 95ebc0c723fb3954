package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfiguration   = errors.New("invalid configuration")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrUnsupportedGrant       = errors.New("unsupported grant type")
	ErrStateMismatch          = errors.New("state mismatch")
	ErrTransport              = errors.New("transport error")
	ErrMalformedTokenResponse = errors.New("malformed token response")
	ErrSchedulerCancelled     = errors.New("refresh scheduler cancelled")
	ErrNoRefreshCredential    = errors.New("no refresh credential in session")
)

// TokenEndpointError is returned when the token endpoint answers with a
// non-2xx status. Body is kept verbatim; Code and Description are filled when
// the body is an RFC 6749 error object.
type TokenEndpointError struct {
	StatusCode  int
	Body        string
	Code        string
	Description string
}

func (e *TokenEndpointError) Error() string {
	if e.Code != "" {
		if e.Description != "" {
			return fmt.Sprintf("token endpoint returned %d: %s: %s", e.StatusCode, e.Code, e.Description)
		}
		return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Body)
}

// TransportError wraps network level failures (dial, TLS, timeout, I/O).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrTransport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) hold for every TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
