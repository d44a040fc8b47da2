// ABOUTME: Pure credential resolution across the mode x source matrix
// ABOUTME: Subscription mode structurally cannot carry a direct API key

package credential

import (
	"maps"
	"time"
)

// Environment variable names involved in resolution. EnvAPIKey is the one
// that must never leak into subscription-token mode.
const (
	EnvAPIKey     = "ANTHROPIC_API_KEY"
	EnvAuthToken  = "ANTHROPIC_AUTH_TOKEN"
	EnvOAuthToken = "CLAUDE_CODE_OAUTH_TOKEN"
	EnvBaseURL    = "ANTHROPIC_BASE_URL"
)

// baseEnvAllowlist is the fixed set of non-secret system variables an
// alternate backend's subprocess environment inherits. Anything not listed
// here never reaches a self-contained resolution.
var baseEnvAllowlist = []string{
	"PATH", "HOME", "LANG", "LC_ALL", "TERM", "SHELL", "TMPDIR",
}

// Resolved is the exact, minimal credential set to forward downstream.
// Mode-specific constructors enforce field absence by construction: the
// subscription constructor has no way to populate APIKey.
type Resolved struct {
	BackendID string
	Mode      AuthMode

	// APIKey is only ever non-empty in direct-key mode.
	APIKey string

	// AuthToken is the delegate token for subscription-token mode.
	AuthToken string

	// OAuthToken is an ambient CLI-issued token passed through under its
	// own field, never remapped into APIKey or AuthToken.
	OAuthToken string

	// Endpoint overrides; zero values mean platform defaults.
	BaseURL     string
	Timeout     time.Duration
	ModelRemaps map[string]string
}

// HasCredential reports whether resolution found any credential. A false
// result is not an error: the downstream caller may have its own fallback,
// such as an already-authenticated local CLI session.
func (r Resolved) HasCredential() bool {
	return r.APIKey != "" || r.AuthToken != "" || r.OAuthToken != ""
}

// newSubscriptionResolved builds a subscription-token result. There is no
// APIKey parameter: the forbidden field is absent by construction.
func newSubscriptionResolved(backendID string, rec Record, authToken, oauthToken string) Resolved {
	return Resolved{
		BackendID:   backendID,
		Mode:        ModeSubscriptionToken,
		AuthToken:   authToken,
		OAuthToken:  oauthToken,
		BaseURL:     rec.BaseURL,
		Timeout:     rec.Timeout,
		ModelRemaps: rec.ModelRemaps,
	}
}

// newDirectKeyResolved builds a direct-key result.
func newDirectKeyResolved(backendID string, rec Record, apiKey string) Resolved {
	return Resolved{
		BackendID:   backendID,
		Mode:        ModeDirectKey,
		APIKey:      apiKey,
		BaseURL:     rec.BaseURL,
		Timeout:     rec.Timeout,
		ModelRemaps: rec.ModelRemaps,
	}
}

// strategy is one step of a first-match-wins resolution chain. Modeling the
// chain as data keeps it unit-testable independent of the HTTP layer.
type strategy func() string

// firstMatch evaluates strategies in order and returns the first non-empty
// value.
func firstMatch(chain ...strategy) string {
	for _, s := range chain {
		if v := s(); v != "" {
			return v
		}
	}
	return ""
}

// Resolve determines the credential set to forward for one outbound call.
// shared is a snapshot of the shared credential store; env is a snapshot of
// the process environment. Resolve never reads globals and never mutates
// its inputs.
//
// Resolution order:
//
//	subscription-token: stored delegate token -> ambient delegate token ->
//	                    ambient CLI token (own field) -> none
//	direct-key:         stored key via declared source -> ambient env key
//	                    -> none
//
// For an alternate backend (BaseURL set) the ambient fallbacks are skipped
// entirely: only the record's declared sources are consulted, so a
// credential intended for the default endpoint can never be forwarded to a
// different one. Running out of sources yields no credential, not an error.
func Resolve(backendID string, mode AuthMode, rec Record, shared map[string]string, env map[string]string) Resolved {
	selfContained := rec.BaseURL != ""

	switch mode {
	case ModeDirectKey:
		chain := []strategy{
			func() string { return storedKey(rec, shared, env) },
		}
		if !selfContained {
			chain = append(chain, func() string { return env[EnvAPIKey] })
		}
		return newDirectKeyResolved(backendID, rec, firstMatch(chain...))

	default:
		// Subscription-token, also the fallback for an unknown mode: the
		// restrictive mode is the safe one when configuration is wrong.
		chain := []strategy{
			func() string { return rec.AuthToken },
		}
		if !selfContained {
			chain = append(chain, func() string { return env[EnvAuthToken] })
		}
		token := firstMatch(chain...)
		var oauthToken string
		if token == "" && !selfContained {
			oauthToken = env[EnvOAuthToken]
		}
		return newSubscriptionResolved(backendID, rec, token, oauthToken)
	}
}

// storedKey resolves the operator-stored key via the record's declared
// source.
func storedKey(rec Record, shared map[string]string, env map[string]string) string {
	switch rec.APIKeySource {
	case SourceEnvironment:
		if rec.APIKeyEnv == "" {
			return ""
		}
		return env[rec.APIKeyEnv]
	case SourceSharedStore:
		if rec.APIKeyFromStore == "" {
			return ""
		}
		return shared[rec.APIKeyFromStore]
	default:
		return rec.APIKey
	}
}

// Environ assembles the subprocess environment to forward downstream.
//
// For the default backend the ambient environment passes through with the
// credential variables overwritten per mode. For an alternate backend
// (BaseURL set) the result is self-contained: only the fixed non-secret
// allowlist survives from ambient, plus the resolved credentials.
//
// In subscription-token mode the direct-key variable is explicitly set to
// empty rather than merely omitted, because the downstream consumer may
// otherwise inherit an ambient value through an inherited execution
// context.
func (r Resolved) Environ(ambient map[string]string) map[string]string {
	env := make(map[string]string, len(ambient)+4)
	if r.BaseURL != "" {
		for _, k := range baseEnvAllowlist {
			if v, ok := ambient[k]; ok {
				env[k] = v
			}
		}
		env[EnvBaseURL] = r.BaseURL
	} else {
		maps.Copy(env, ambient)
	}

	switch r.Mode {
	case ModeDirectKey:
		if r.APIKey != "" {
			env[EnvAPIKey] = r.APIKey
		}
		delete(env, EnvAuthToken)
	default:
		// Blanked, not omitted, so an inherited ambient value cannot
		// survive into the subprocess.
		env[EnvAPIKey] = ""
		if r.AuthToken != "" {
			env[EnvAuthToken] = r.AuthToken
		}
		if r.OAuthToken != "" {
			env[EnvOAuthToken] = r.OAuthToken
		}
	}
	return env
}

// EnvSnapshot converts os.Environ-style "KEY=VALUE" pairs into the map
// form Resolve consumes, letting callers snapshot once per request.
func EnvSnapshot(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return env
}
