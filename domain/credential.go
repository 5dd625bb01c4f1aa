package domain

import "time"

// Identity holds the basic user information fetched from the provider after a
// successful token exchange. It is best-effort: a credential can exist with a
// nil identity if the user info fetch failed.
type Identity struct {
	Subject  string         `json:"subject"`
	Email    string         `json:"email,omitempty"`
	Name     string         `json:"name,omitempty"`
	Username string         `json:"username,omitempty"`
	RawData  map[string]any `json:"-"`
}

// Credential is the live connection state for one provider. At most one
// credential exists per provider id; a new successful flow replaces the old
// one (last write wins).
type Credential struct {
	ProviderID   string    `json:"provider_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
	Identity     *Identity `json:"identity,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// Active reports whether the credential's expiry is strictly in the future.
func (c *Credential) Active(now time.Time) bool {
	return c != nil && c.ExpiresAt.After(now)
}

// Clone returns a shallow copy so callers cannot mutate stored state.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
