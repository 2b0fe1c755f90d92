package auth

import "errors"

// Typed failures returned by the orchestrator. Login failures collapse
// "unknown user" and "wrong password" into ErrInvalidCredentials so callers
// cannot enumerate accounts.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrAccountDeleted     = errors.New("auth: account deleted")
	ErrAccountPending     = errors.New("auth: account pending approval")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
	ErrInvalidOTP         = errors.New("auth: invalid or expired reset code")
	ErrDuplicateAccount   = errors.New("auth: account already exists")
	ErrDraftNotFound      = errors.New("auth: registration draft not found")
	ErrInvalidState       = errors.New("auth: account is not awaiting approval")
	ErrUnauthorized       = errors.New("auth: unauthorized")

	// ErrNotificationFailed is non-fatal: the surrounding state transition has
	// already been committed when it is reported.
	ErrNotificationFailed = errors.New("auth: notification dispatch failed")
)
