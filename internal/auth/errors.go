// ABOUTME: Error taxonomy for the auth subsystem
// ABOUTME: Sentinel errors that map to the collapsed HTTP failure shapes

package auth

import "errors"

// Auth errors. At the HTTP boundary everything except ErrRateLimited
// collapses into a single 401 shape; the distinct values exist for
// server-side logging only.
var (
	// ErrInvalidCredential is returned when a presented secret does not
	// match the stored one. It never distinguishes "wrong" from "revoked".
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrRateLimited is returned when an identity has exceeded its login
	// attempt budget for the current window.
	ErrRateLimited = errors.New("rate limited")

	// ErrSessionExpiredOrUnknown is returned for session tokens that are
	// missing, malformed, or past their expiry. The cases are deliberately
	// indistinguishable.
	ErrSessionExpiredOrUnknown = errors.New("session expired or unknown")
)
