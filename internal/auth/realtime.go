// ABOUTME: RealtimeTokenIssuer mints single-use tokens for the event channel
// ABOUTME: Tokens expire after 5 minutes and are deleted on first redemption

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DefaultRealtimeTokenTTL is the maximum lifetime of a realtime token.
const DefaultRealtimeTokenTTL = 5 * time.Minute

// realtimeTokenBytes yields 48 hex characters per token.
const realtimeTokenBytes = 24

// RealtimeTokenIssuer issues short-lived, single-use tokens that gate the
// websocket event channel. The channel handshake cannot carry the
// long-lived session cookie safely on every transport, so a narrow-purpose,
// auto-expiring credential bridges the gap without widening the blast
// radius of a leak.
//
// Issue must only be reachable by already-authenticated callers; that is
// enforced by the HTTP gate, not here.
type RealtimeTokenIssuer struct {
	mu     sync.Mutex
	tokens map[string]time.Time // token -> issuedAt
	ttl    time.Duration

	now func() time.Time
}

// NewRealtimeTokenIssuer creates an issuer with the given token lifetime.
func NewRealtimeTokenIssuer(ttl time.Duration) *RealtimeTokenIssuer {
	if ttl <= 0 {
		ttl = DefaultRealtimeTokenTTL
	}
	return &RealtimeTokenIssuer{
		tokens: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue generates and stores a fresh token.
func (i *RealtimeTokenIssuer) Issue() (string, error) {
	buf := make([]byte, realtimeTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating realtime token: %w", err)
	}
	token := hex.EncodeToString(buf)

	i.mu.Lock()
	i.tokens[token] = i.now()
	i.mu.Unlock()
	return token, nil
}

// Redeem consumes a token exactly once. The first lookup deletes the token
// whether or not redemption succeeds, so a second attempt always fails even
// within the validity window. An expired-but-present token and a
// never-issued token are indistinguishable to the caller.
func (i *RealtimeTokenIssuer) Redeem(token string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	issuedAt, ok := i.tokens[token]
	if !ok {
		return false
	}
	delete(i.tokens, token)
	return i.now().Sub(issuedAt) <= i.ttl
}

// Sweep drops expired tokens that were never redeemed. Expiry is enforced
// at redemption time; sweeping only bounds memory growth from abandoned
// tokens.
func (i *RealtimeTokenIssuer) Sweep() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	removed := 0
	for token, issuedAt := range i.tokens {
		if now.Sub(issuedAt) > i.ttl {
			delete(i.tokens, token)
			removed++
		}
	}
	return removed
}
