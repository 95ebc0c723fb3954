package tui

import (
	"github.com/go-authgate/oidc-cli/oidc"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgListenerReady signals that the redirect listener accepts callbacks.
type MsgListenerReady struct{ RedirectURI string }

// MsgLoginStarted signals that a new login attempt was initiated.
type MsgLoginStarted struct{ AuthURL string }

// MsgBrowserFailed signals that the browser could not be launched.
type MsgBrowserFailed struct{ Err error }

// MsgRedirectReceived signals that the redirect listener got a callback.
type MsgRedirectReceived struct{}

// MsgLoginRejected signals that a callback was rejected before any exchange.
type MsgLoginRejected struct{ Err error }

// MsgLoginFailed signals that the token exchange for a login failed.
type MsgLoginFailed struct{ Err error }

// MsgTokensUpdated carries the session tokens after a login or refresh.
type MsgTokensUpdated struct{ Tokens oidc.TokenSet }

// MsgRefreshFailed signals that a scheduled refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgUserInfo carries the UserInfo claims of the logged in user.
type MsgUserInfo struct{ Claims map[string]any }

// MsgUserInfoFailed signals that the UserInfo request failed.
type MsgUserInfoFailed struct{ Err error }

// MsgFatal signals a fatal error that should terminate the program.
type MsgFatal struct{ Err error }
