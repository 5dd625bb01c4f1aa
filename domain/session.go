package domain

import "time"

// PkceSessionTTL bounds how long an authorization flow may stay pending
// between InitiateFlow and the provider callback.
const PkceSessionTTL = 10 * time.Minute

// PkceSession is the ephemeral context of one pending authorization flow,
// keyed by the opaque state value. A session is consumed exactly once; a
// lookup after consumption or past the TTL must fail.
type PkceSession struct {
	State        string    `json:"state"`
	ProviderID   string    `json:"provider_id"`
	CodeVerifier string    `json:"code_verifier"`
	Scopes       []string  `json:"scopes,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	Nonce        string    `json:"nonce,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the session is past its TTL at the given instant.
func (s *PkceSession) Expired(now time.Time) bool {
	return now.After(s.CreatedAt.Add(PkceSessionTTL))
}
