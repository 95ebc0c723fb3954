// Package oidc is the token-exchange core of a native OpenID Connect client.
//
// A login starts with Client.InitiateLogin, which records a fresh CSRF state
// as the only live login attempt and returns the authorization URL for the
// browser. The local redirect listener hands the callback's code and state to
// Client.HandleRedirect, which checks the state, exchanges the code at the
// token endpoint and arms a fixed-rate refresh Scheduler with the token's
// lifetime.
//
// The building blocks are usable on their own:
//
//	BuildAuthURL           authorization request URL
//	BuildTokenRequestBody  form body per GrantType
//	TokenEndpoint.Exchange token request and response parsing
//	ValidateRedirect       state check for a LoginAttempt
//	Scheduler              cancellable fixed-rate refresh loop
//
// Tokens are held in memory only.
package oidc
