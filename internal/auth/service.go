package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinicore.org/internal/account"
	"clinicore.org/internal/obs"
)

// ErrInvalidInput marks request validation failures.
var ErrInvalidInput = errors.New("auth: invalid input")

// Notifier dispatches out-of-band messages (reset codes, approval notices).
// Implementations are expected to be timeout-bounded; a failed dispatch never
// aborts the state transition that triggered it.
type Notifier interface {
	Send(ctx context.Context, destination, subject, body string) error
}

// CacheInvalidator receives eviction hooks after account/role mutations.
type CacheInvalidator interface {
	EvictAccount(username string)
	EvictRoles()
	EvictPendingDoctors()
}

// Service is the auth orchestrator: it composes the credential store, token
// issuer, OTP service, and notifier into the request-level operations and
// enforces the account-state invariants.
type Service struct {
	store    account.Store
	tokens   *TokenIssuer
	otp      *OTPService
	notifier Notifier
	caches   CacheInvalidator
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source across the orchestrator, token issuer,
// and OTP service (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
			s.tokens.now = fn
			s.otp.now = fn
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.tokens.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.tokens.refreshTTL = ttl
		}
		return nil
	}
}

// WithOTPTTL configures reset code lifetime.
func WithOTPTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.otp.ttl = ttl
		}
		return nil
	}
}

// WithNotifier attaches the notifier used for reset codes and approval mail.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

// WithCaches attaches the cache invalidation hooks.
func WithCaches(c CacheInvalidator) ServiceOption {
	return func(s *Service) error {
		s.caches = c
		return nil
	}
}

// NewService constructs the orchestrator. The signing secret is required.
func NewService(store account.Store, tokenStore TokenStore, otpStore OTPStore, secret, issuer string, opts ...ServiceOption) (*Service, error) {
	tokens, err := NewTokenIssuer(tokenStore, secret, issuer)
	if err != nil {
		return nil, err
	}
	svc := &Service{
		store:  store,
		tokens: tokens,
		otp:    NewOTPService(otpStore),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// EnsureDefaultRoles seeds the builtin role catalog. Called once by the
// process entry point after all dependencies are constructed.
func (s *Service) EnsureDefaultRoles(ctx context.Context) error {
	return s.store.Roles(ctx).Ensure(ctx, account.BuiltinRoles)
}

// Login authenticates credentials and mints a token pair. The credential
// check runs before the status checks so a probe with a wrong password cannot
// distinguish locked or pending accounts from nonexistent ones; status checks
// follow in the order locked, deleted, pending.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		obs.ObserveLogin("denied")
		return LoginResult{}, ErrInvalidCredentials
	}
	acct, err := s.store.Accounts(ctx).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			obs.ObserveLogin("denied")
			return LoginResult{}, ErrInvalidCredentials
		}
		obs.ObserveLogin("error")
		return LoginResult{}, err
	}
	if err := VerifyPassword(acct.PasswordHash, password); err != nil {
		obs.ObserveLogin("denied")
		return LoginResult{}, ErrInvalidCredentials
	}
	switch {
	case acct.Locked:
		obs.ObserveLogin("denied")
		return LoginResult{}, ErrAccountLocked
	case acct.Deleted:
		obs.ObserveLogin("denied")
		return LoginResult{}, ErrAccountDeleted
	case acct.PendingApproval:
		obs.ObserveLogin("denied")
		return LoginResult{}, ErrAccountPending
	}

	privs, err := s.privilegesFor(ctx, acct.Role)
	if err != nil {
		obs.ObserveLogin("error")
		return LoginResult{}, err
	}
	pair, err := s.tokens.Mint(ctx, acct, privs)
	if err != nil {
		obs.ObserveLogin("error")
		return LoginResult{}, err
	}
	obs.ObserveLogin("ok")
	return LoginResult{Tokens: pair, Profile: account.ProfileOf(acct)}, nil
}

// Refresh rotates a refresh token. The old token stays spendable until the
// replacement pair is ready: the store revokes it and records the replacement
// in one atomic operation, so a failed mint leaves no half-revoked token.
// Reuse of a rotated token fails with ErrInvalidToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	accountID, err := s.tokens.RefreshAccountID(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	acct, err := s.store.Accounts(ctx).Find(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	if acct.Locked || acct.Deleted || acct.PendingApproval {
		return TokenPair{}, ErrInvalidToken
	}
	privs, err := s.privilegesFor(ctx, acct.Role)
	if err != nil {
		return TokenPair{}, err
	}
	return s.tokens.Rotate(ctx, refreshToken, acct, privs)
}

// Logout revokes both tokens immediately. Idempotent: revoking a token that
// is already revoked, expired, or malformed is not an error.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if err := s.tokens.RevokeAccess(ctx, accessToken); err != nil {
		return err
	}
	return s.tokens.RevokeRefresh(ctx, refreshToken)
}

// ChangePassword replaces the password hash after verifying the current one,
// then invalidates all outstanding refresh tokens for the account.
func (s *Service) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	accounts := s.store.Accounts(ctx)
	acct, err := accounts.Find(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if err := VerifyPassword(acct.PasswordHash, oldPassword); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := accounts.UpdatePassword(ctx, acct.ID, hash); err != nil {
		return err
	}
	return s.tokens.RevokeAllForAccount(ctx, acct.ID)
}

// SendPasswordReset issues a reset code and dispatches it. Unknown usernames
// fail silently so the endpoint does not leak account existence; the record
// is created even when the notifier dispatch fails, which is reported as the
// non-fatal ErrNotificationFailed.
func (s *Service) SendPasswordReset(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil
	}
	acct, err := s.store.Accounts(ctx).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			obs.LogEvent("info", "password_reset_unknown_username", map[string]any{"username": username})
			return nil
		}
		return err
	}
	if acct.Deleted {
		obs.LogEvent("info", "password_reset_deleted_account", map[string]any{"username": username})
		return nil
	}

	code, err := s.otp.Issue(ctx, acct.Username)
	if err != nil {
		return err
	}
	if s.notifier == nil {
		return nil
	}
	body := fmt.Sprintf("Your password reset code is %s. It expires in %d minutes.",
		code, int(s.otp.ttl.Minutes()))
	if err := s.notifier.Send(ctx, acct.Email, "Password reset code", body); err != nil {
		obs.LogEvent("warn", "password_reset_dispatch_failed", map[string]any{
			"username": acct.Username,
			"error":    err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}
	return nil
}

// ResetPasswordWithOTP consumes the reset code, replaces the password hash,
// and revokes all outstanding refresh tokens for the account.
func (s *Service) ResetPasswordWithOTP(ctx context.Context, username, code, newPassword string) error {
	username = strings.TrimSpace(username)
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	acct, err := s.store.Accounts(ctx).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// Same failure as a wrong code: no account enumeration.
			return ErrInvalidOTP
		}
		return err
	}
	if err := s.otp.Consume(ctx, acct.Username, code); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Accounts(ctx).UpdatePassword(ctx, acct.ID, hash); err != nil {
		return err
	}
	return s.tokens.RevokeAllForAccount(ctx, acct.ID)
}

// Authenticate validates an access token and resolves the principal. The
// current account flags are re-checked so revoking an account takes effect
// before the access token expires.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.tokens.Validate(ctx, accessToken)
	if err != nil {
		return Principal{}, err
	}
	acct, err := s.store.Accounts(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if acct.Locked || acct.Deleted || acct.PendingApproval {
		return Principal{}, ErrInvalidToken
	}
	rolePrivs, err := s.privilegesFor(ctx, acct.Role)
	if err != nil {
		return Principal{}, err
	}
	privs := make(map[account.Privilege]struct{})
	for _, p := range rolePrivs {
		privs[p] = struct{}{}
	}
	return Principal{Account: account.ProfileOf(acct), Privileges: privs}, nil
}

// privilegesFor resolves a role name to its privilege set. A role missing
// from the catalog yields no privileges; any other store error propagates so
// a transient failure cannot mint a token with an empty privileges claim.
func (s *Service) privilegesFor(ctx context.Context, roleName string) ([]account.Privilege, error) {
	role, err := s.store.Roles(ctx).Find(ctx, roleName)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return role.Privileges, nil
}

func (s *Service) evictAccount(username string) {
	if s.caches != nil {
		s.caches.EvictAccount(username)
	}
}

func (s *Service) evictRoles() {
	if s.caches != nil {
		s.caches.EvictRoles()
	}
}

func (s *Service) evictPendingDoctors() {
	if s.caches != nil {
		s.caches.EvictPendingDoctors()
	}
}
