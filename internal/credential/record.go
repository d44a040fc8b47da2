// ABOUTME: Credential record and auth mode types for execution backends
// ABOUTME: Mirrors the on-disk TOML shape of the credentials file

package credential

import "time"

// AuthMode selects how an execution backend is authenticated.
type AuthMode string

const (
	// ModeSubscriptionToken delegates auth to a subscription-style token
	// (operator-stored or CLI-issued). Direct API keys are forbidden.
	ModeSubscriptionToken AuthMode = "subscription-token"

	// ModeDirectKey authenticates with a bearer API key.
	ModeDirectKey AuthMode = "direct-key"
)

// Valid reports whether m is a known auth mode.
func (m AuthMode) Valid() bool {
	return m == ModeSubscriptionToken || m == ModeDirectKey
}

// Source declares where a record's API key is read from in direct-key mode.
type Source string

const (
	// SourceInline reads the key from the record itself.
	SourceInline Source = "inline"
	// SourceEnvironment reads the key from the env var the record names.
	SourceEnvironment Source = "environment"
	// SourceSharedStore reads the key from the shared credential store.
	SourceSharedStore Source = "shared-credential-store"
)

// Record holds the operator-stored credential material and endpoint
// overrides for one execution backend. All fields are optional; this
// subsystem reads records on every outbound call and never mutates them.
type Record struct {
	// ID identifies the record for settings CRUD; assigned on first load.
	ID string `toml:"id,omitempty"`

	// APIKeySource picks which of the key fields below is consulted in
	// direct-key mode. Empty means inline.
	APIKeySource Source `toml:"api_key_source,omitempty"`

	// APIKey is an inline bearer key.
	APIKey string `toml:"api_key,omitempty"`

	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `toml:"api_key_env,omitempty"`

	// APIKeyFromStore names an entry in the shared credential store.
	APIKeyFromStore string `toml:"api_key_from_store,omitempty"`

	// AuthToken is an operator-stored delegate token for
	// subscription-token mode.
	AuthToken string `toml:"auth_token,omitempty"`

	// BaseURL, when set, declares an alternate backend endpoint. Alternate
	// backends resolve self-contained: nothing is inherited from the
	// ambient environment beyond the fixed non-secret allowlist.
	BaseURL string `toml:"base_url,omitempty"`

	// TimeoutRaw is the per-call timeout as a duration string; Timeout is
	// the parsed value.
	TimeoutRaw string        `toml:"timeout,omitempty"`
	Timeout    time.Duration `toml:"-"`

	// ModelRemaps rewrites model names for backends exposing compatible
	// models under different identifiers.
	ModelRemaps map[string]string `toml:"model_remaps,omitempty"`
}
