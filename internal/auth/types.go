package auth

import (
	"time"

	"clinicore.org/internal/account"
)

// TokenPair holds freshly minted access and refresh tokens together with
// their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// RefreshToken is the persisted half of an opaque refresh token. The client
// holds "id.secret"; only the sha256 of the secret is stored.
type RefreshToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// ResetCode is a single-use password reset code. At most one active record
// exists per username; issuing a new one overwrites any prior record.
type ResetCode struct {
	Username  string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Principal is an authenticated account with its resolved privileges.
type Principal struct {
	Account    account.Profile
	Privileges map[account.Privilege]struct{}
}

// HasPrivilege reports whether the principal carries the given privilege.
func (p Principal) HasPrivilege(priv account.Privilege) bool {
	_, ok := p.Privileges[priv]
	return ok
}

// LoginResult is returned by Login: the token pair plus minimal profile data.
type LoginResult struct {
	Tokens  TokenPair       `json:"tokens"`
	Profile account.Profile `json:"profile"`
}
