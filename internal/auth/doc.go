// Package auth implements authentication for the taskdeck control server.
//
// # Authentication Methods
//
// The server authenticates a single operator (or a small set of trusted
// local clients) against one shared secret:
//
//   - Session cookies: a successful login against the shared secret creates
//     a long-lived session token carried in an HTTP-only cookie.
//
//   - Static secret header: trusted local clients that cannot persist
//     cookies send the shared secret verbatim in a request header. The
//     header is verified with the same constant-time comparison as login.
//
//   - Realtime tokens: single-use, short-lived tokens that bridge an
//     authenticated HTTP session into the websocket event channel, where
//     the session cookie cannot be carried safely on every transport.
//
// # Components
//
// SecretStore owns the long-lived shared secret: generated on first boot,
// persisted to a restricted-permission file, overridable for the process
// lifetime, and rotatable.
//
// SessionManager keeps the in-memory session index, mirrored to a durable
// file that is rewritten atomically on every mutation. In-memory state is
// authoritative; a failed flush degrades durability but never validation.
//
// LoginService ties the rate limiter, secret comparison, and session
// creation together. The rate limiter is consulted before the secret is
// touched so that login cannot be used as a comparison-timing oracle.
//
// Gate is the request-level middleware. It admits requests on a fixed
// bootstrap allowlist, via the static secret header, or via a valid session
// cookie, and collapses every failure into a single 401 shape.
package auth
