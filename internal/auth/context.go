// ABOUTME: Identity context for tracking how a request was authenticated
// ABOUTME: Provides WithIdentity/IdentityFromContext for handler access

package auth

import "context"

// Method describes how a request was authenticated.
type Method string

const (
	// MethodSession means a valid session cookie was presented.
	MethodSession Method = "session"
	// MethodSecret means the static secret header was presented.
	MethodSecret Method = "secret"
)

// Identity holds the authentication result attached to a request by the
// gate. SessionToken is empty for the static-secret path.
type Identity struct {
	Method       Method
	SessionToken string
}

// identityKey is the context key type for Identity values.
type identityKey struct{}

// WithIdentity returns a new context with the identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the identity from the context, returning
// nil if the request did not pass through the gate (allowlisted paths).
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
