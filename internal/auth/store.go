package auth

import (
	"context"
	"time"
)

// TokenStore manages refresh token lifecycle and the access token revocation
// set. Rotate must be a single atomic operation: two concurrent refresh calls
// cannot both rotate the same token, and a failed rotation leaves the old
// record untouched.
type TokenStore interface {
	CreateRefresh(ctx context.Context, tok *RefreshToken) error
	// FindRefresh returns an active, unexpired refresh token record without
	// modifying it. account.ErrNotFound when no active record matches.
	FindRefresh(ctx context.Context, id string) (*RefreshToken, error)
	// RotateRefresh revokes the active record whose id and token hash match
	// and stores its replacement, all-or-nothing. account.ErrNotFound when no
	// active record matches.
	RotateRefresh(ctx context.Context, id, tokenHash string, next *RefreshToken) error
	// RevokeRefresh marks a refresh token revoked. Idempotent.
	RevokeRefresh(ctx context.Context, id string) error
	RevokeRefreshByAccount(ctx context.Context, accountID string) error

	// RevokeAccess denylists an access token id until its natural expiry.
	RevokeAccess(ctx context.Context, jti string, until time.Time) error
	AccessRevoked(ctx context.Context, jti string) (bool, error)
}

// OTPStore manages reset code records. Put overwrites any prior record for
// the username; Consume checks equality and expiry and deletes in one atomic
// operation.
type OTPStore interface {
	Put(ctx context.Context, rec *ResetCode) error
	// Consume removes the active record if code hash and expiry match.
	// account.ErrNotFound when no active record matches.
	Consume(ctx context.Context, username, codeHash string) error
}
