package auth

import "fmt"

// Credential is the persisted proof of identity for GitHub API calls
type Credential struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// Masked returns the access token with all but its first and last four
// characters hidden.
func (c *Credential) Masked() string {
	if len(c.AccessToken) <= 8 {
		return "****"
	}
	return c.AccessToken[:4] + "..." + c.AccessToken[len(c.AccessToken)-4:]
}

func (c *Credential) validate() error {
	if c == nil {
		return fmt.Errorf("credential is nil")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("credential is missing access_token")
	}
	return nil
}

// Store persists at most one credential.
//
// Load reports absence with ok=false; a missing, unreadable or corrupt file
// is absent rather than an error.
type Store interface {
	Load() (cred *Credential, ok bool)
	Save(cred *Credential) error
	Clear() error
}
