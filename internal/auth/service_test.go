package auth

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"clinicore.org/internal/account"
)

type testClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newTestClock() *testClock {
	return &testClock{cur: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

type sentMessage struct {
	Destination string
	Subject     string
	Body        string
}

type captureNotifier struct {
	mu    sync.Mutex
	sends []sentMessage
	fail  bool
}

func (n *captureNotifier) Send(ctx context.Context, destination, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, sentMessage{destination, subject, body})
	if n.fail {
		return errors.New("smtp relay unavailable")
	}
	return nil
}

func (n *captureNotifier) last(t *testing.T) sentMessage {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sends) == 0 {
		t.Fatal("no messages sent")
	}
	return n.sends[len(n.sends)-1]
}

var otpCodeRe = regexp.MustCompile(`\b\d{6}\b`)

func newTestService(t *testing.T, clk *testClock, opts ...ServiceOption) (*Service, account.Store) {
	t.Helper()
	store := account.NewInMemory().WithClock(clk.Now)
	tokenStore := NewMemoryTokenStore().WithClock(clk.Now)
	otpStore := NewMemoryOTPStore().WithClock(clk.Now)
	opts = append([]ServiceOption{WithClock(clk.Now)}, opts...)
	svc, err := NewService(store, tokenStore, otpStore, "test-secret", "clinicore-test", opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureDefaultRoles(context.Background()); err != nil {
		t.Fatalf("EnsureDefaultRoles: %v", err)
	}
	return svc, store
}

type seedOpts struct {
	role    string
	locked  bool
	deleted bool
	pending bool
}

func seedAccount(t *testing.T, store account.Store, username, password string, opts seedOpts) *account.Account {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	role := opts.role
	if role == "" {
		role = account.RoleStaff
	}
	acct := &account.Account{
		Username:        username,
		IdentityCard:    "ID-" + username,
		FullName:        "Test " + username,
		Email:           username + "@clinic.test",
		PasswordHash:    hash,
		Role:            role,
		Locked:          opts.locked,
		Deleted:         opts.deleted,
		PendingApproval: opts.pending,
	}
	ctx := context.Background()
	if err := store.Accounts(ctx).Create(ctx, acct); err != nil {
		t.Fatalf("seed %s: %v", username, err)
	}
	return acct
}

func TestLoginMintsTokenPair(t *testing.T) {
	clk := newTestClock()
	svc, store := newTestService(t, clk)
	seedAccount(t, store, "nurse1", "ward-7-pass", seedOpts{role: account.RoleNurse})

	result, err := svc.Login(context.Background(), "nurse1", "ward-7-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Tokens.AccessToken == "" || result.Tokens.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if result.Profile.Username != "nurse1" || result.Profile.Role != account.RoleNurse {
		t.Fatalf("unexpected profile: %+v", result.Profile)
	}
	if !result.Tokens.AccessExpiresAt.After(clk.Now()) {
		t.Fatal("access expiry must be in the future")
	}
}

func TestLoginUnknownUsername(t *testing.T) {
	clk := newTestClock()
	svc, _ := newTestService(t, clk)

	_, err := svc.Login(context.Background(), "nobody", "whatever")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginCredentialCheckPrecedesStatus(t *testing.T) {
	clk := newTestClock()
	svc, store := newTestService(t, clk)
	seedAccount(t, store, "locked1", "right-pass", seedOpts{locked: true})

	// A wrong password on a locked account must look exactly like a wrong
	// password on an unknown account.
	_, err := svc.Login(context.Background(), "locked1", "wrong-pass")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	_, err = svc.Login(context.Background(), "locked1", "right-pass")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestLoginStatusOrder(t *testing.T) {
	clk := newTestClock()
	svc, store := newTestService(t, clk)
	ctx := context.Background()

	seedAccount(t, store, "gone1", "pass-123456", seedOpts{deleted: true})
	if _, err := svc.Login(ctx, "gone1", "pass-123456"); !errors.Is(err, ErrAccountDeleted) {
		t.Fatalf("expected ErrAccountDeleted, got %v", err)
	}

	seedAccount(t, store, "pend1", "pass-123456", seedOpts{role: account.RoleDoctor, pending: true})
	if _, err := svc.Login(ctx, "pend1", "pass-123456"); !errors.Is(err, ErrAccountPending) {
		t.Fatalf("expected ErrAccountPending, got %v", err)
	}

	// Locked wins over deleted and pending.
	seedAccount(t, store, "both1", "pass-123456", seedOpts{locked: true, deleted: true, pending: true})
	if _, err := svc.Login(ctx, "both1", "pass-123456"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	clk := newTestClock()
	svc, store := newTestService(t, clk)
	seedAccount(t, store, "staff1", "pass-123456", seedOpts{})
	ctx := context.Background()

	result, err := svc.Login(ctx, "staff1", "pass-123456")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	pair, err := svc.Refresh(ctx, result.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.RefreshToken == result.Tokens.RefreshToken {
		t.Fatal("refresh must rotate the token")
	}

	// The consumed token is dead.
	if _, err := svc.Refresh(ctx, result.Tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on replay, got %v", err)
	}

	// The rotated token still works.
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Refresh with rotated token: %v", err)
	}
}

func TestRefreshExpired(t *testing.T) {
	clk := newTestClock()
	svc, store := newTestService(t, clk, WithRefreshTTL(time.Hour))
	seedAccount(t, store, "staff1", "pass-123456", seedOpts{})
	ctx := context.Background()

	result, err := svc.Login(ctx, "staff1", "pass-123456")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	clk.Advance(2 * time.Hour)
	if _, err := svc.Refresh(ctx, result.Tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired refresh, got %v", err)
	}
}

func TestRefreshRejectedForDisabledAccount(t *testing.T) {
	clk := newTestClock()
	svc, store := newTestService(t, clk)
	acct := seedAccount(t, store, "staff1", "pass-123456", seedOpts{})
	ctx := context.Background()

	result, err := svc.Login(ctx, "staff1", "pass-123456")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	acct.Locked = true
	if err := store.Accounts(ctx).Update(ctx, acct); err != nil {
		t.Fatalf("lock account: %v", err)
	}

	if _, err := svc.Refresh(ctx, result.Tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for locked account, got %v", err)
	}
}

// flakyTokenStore fails the next rotation once, simulating a transient store
// outage during refresh.
type flakyTokenStore struct {
	TokenStore
	mu       sync.Mutex
	failNext bool
}

func (s *flakyTokenStore) RotateRefresh(ctx context.Context, id, tokenHash string, next *RefreshToken) error {
	s.mu.Lock()
	fail := s.failNext
	s.failNext = false
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.TokenStore.RotateRefresh(ctx, id, tokenHash, next)
}

func TestRefreshFailedRotationKeepsTokenSpendable(t *testing.T) {
	clk := newTestClock()
	store := account.NewInMemory().WithClock(clk.Now)
	tokens := &flakyTokenStore{TokenStore: NewMemoryTokenStore().WithClock(clk.Now)}
	svc, err := NewService(store, tokens, NewMemoryOTPStore().WithClock(clk.Now),
		"test-secret", "clinicore-test", WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	if err := svc.EnsureDefaultRoles(ctx); err != nil {
		t.Fatalf("EnsureDefaultRoles: %v", err)
	}
	seedAccount(t, store, "staff1", "pass-123456", seedOpts{})

	result, err := svc.Login(ctx, "staff1", "pass-123456")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	tokens.mu.Lock()
	tokens.failNext = true
	tokens.mu.Unlock()
	if _, err := svc.Refresh(ctx, result.Tokens.RefreshToken); err == nil {
		t.Fatal("expected error from failing rotation")
	}

	// The failed rotation must not burn the token: a retry succeeds.
	pair, err := svc.Refresh(ctx, result.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh retry after transient failure: %v", err)
	}
	if pair.RefreshToken == result.Tokens.RefreshToken {
		t.Fatal("retry must still rotate the token")
	}
}

type failingRoleStore struct {
	account.RoleStore
}

func (failingRoleStore) Find(ctx context.Context, name string) (*account.Role, error) {
	return nil, errors.New("connection reset")
}

// roleFailStore serves roles normally until fail is set, then every role
// lookup errors.
type roleFailStore struct {
	account.Store
	mu   sync.Mutex
	fail bool
}

func (s *roleFailStore) Roles(ctx context.Context) account.RoleStore {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return failingRoleStore{s.Store.Roles(ctx)}
	}
	return s.Store.Roles(ctx)
}

func (s *roleFailStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func TestRoleLookupFailureDoesNotMintEmptyPrivileges(t *testing.T) {
	clk := newTestClock()
	store := &roleFailStore{Store: account.NewInMemory().WithClock(clk.Now)}
	svc, err := NewService(store, NewMemoryTokenStore().WithClock(clk.Now),
		NewMemoryOTPStore().WithClock(clk.Now), "test-secret", "clinicore-test", WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	if err := svc.EnsureDefaultRoles(ctx); err != nil {
		t.Fatalf("EnsureDefaultRoles: %v", err)
	}
	seedAccount(t, store, "admin1", "pass-123456", seedOpts{role: account.RoleAdmin})

	result, err := svc.Login(ctx, "admin1", "pass-123456")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	store.setFail(true)
	if _, err := svc.Login(ctx, "admin1", "pass-123456"); err == nil {
		t.Fatal("expected login to fail when the role lookup errors")
	}
	if _, err := svc.Refresh(ctx, result.Tokens.RefreshToken); err == nil {
		t.Fatal("expected refresh to fail when the role lookup errors")
	} else if errors.Is(err, ErrInvalidToken) {
		t.Fatalf("store outage must not masquerade as an invalid token: %v", err)
	}
	if _, err := svc.Authenticate(ctx, result.Tokens.AccessToken); err == nil {
		t.Fatal("expected authenticate to fail when the role lookup errors")
	}

	// The refresh token survived the outage.
	store.setFail(false)
	if _, err := svc.Refresh(ctx, result.Tokens.RefreshToken); err != nil {
		t.Fatalf("Refresh after outage: %v", err)
	}
}

func TestLogoutRevokesAndIsIdempotent(t *testing.T) {
	clk := newTestClock()
	svc, store := newTestService(t, clk)
	seedAccount(t, store, "staff1", "pass-123456", seedOpts{})
	ctx := context.Background()

	result, err := svc.Login(ctx, "staff1", "pass-123456")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.Authenticate(ctx, result.Tokens.AccessToken); err != nil {
		t.Fatalf("Authenticate before logout: %v", err)
	}

	if err := svc.Logout(ctx, result.Tokens.AccessToken, result.Tokens.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := svc.Authenticate(ctx, result.Tokens.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after logout, got %v", err)
	}
	if _, err := svc.Refresh(ctx, result.Tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for revoked refresh, got %v", err)
	}

	// Repeating the logout, or passing garbage, is not an error.
	if err := svc.Logout(ctx, result.Tokens.AccessToken, result.Tokens.RefreshToken); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if err := svc.Logout(ctx, "not-a-jwt", "not.a-refresh"); err != nil {
		t.Fatalf("Logout with garbage: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	clk := newTestClock()
	svc, store := newTestService(t, clk)
	acct := seedAccount(t, store, "staff1", "old-pass-123", seedOpts{})
	ctx := context.Background()

	result, err := svc.Login(ctx, "staff1", "old-pass-123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := svc.ChangePassword(ctx, acct.ID, "wrong-old", "new-pass-456"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, acct.ID, "old-pass-123", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty password, got %v", err)
	}

	if err := svc.ChangePassword(ctx, acct.ID, "old-pass-123", "new-pass-456"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// All refresh tokens issued before the change are revoked.
	if _, err := svc.Refresh(ctx, result.Tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after password change, got %v", err)
	}

	if _, err := svc.Login(ctx, "staff1", "old-pass-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := svc.Login(ctx, "staff1", "new-pass-456"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	clk := newTestClock()
	notifier := &captureNotifier{}
	svc, store := newTestService(t, clk, WithNotifier(notifier))
	seedAccount(t, store, "staff1", "old-pass-123", seedOpts{})
	ctx := context.Background()

	if err := svc.SendPasswordReset(ctx, "staff1"); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	msg := notifier.last(t)
	if msg.Destination != "staff1@clinic.test" {
		t.Fatalf("reset sent to %q", msg.Destination)
	}
	code := otpCodeRe.FindString(msg.Body)
	if code == "" {
		t.Fatalf("no code in message body %q", msg.Body)
	}

	if err := svc.ResetPasswordWithOTP(ctx, "staff1", code, "fresh-pass-789"); err != nil {
		t.Fatalf("ResetPasswordWithOTP: %v", err)
	}
	if _, err := svc.Login(ctx, "staff1", "fresh-pass-789"); err != nil {
		t.Fatalf("login after reset: %v", err)
	}

	// The code is single use.
	if err := svc.ResetPasswordWithOTP(ctx, "staff1", code, "again-pass-000"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP on reuse, got %v", err)
	}
}

func TestPasswordResetReissueInvalidatesPriorCode(t *testing.T) {
	clk := newTestClock()
	notifier := &captureNotifier{}
	svc, store := newTestService(t, clk, WithNotifier(notifier))
	seedAccount(t, store, "staff1", "old-pass-123", seedOpts{})
	ctx := context.Background()

	if err := svc.SendPasswordReset(ctx, "staff1"); err != nil {
		t.Fatalf("first SendPasswordReset: %v", err)
	}
	firstCode := otpCodeRe.FindString(notifier.last(t).Body)

	if err := svc.SendPasswordReset(ctx, "staff1"); err != nil {
		t.Fatalf("second SendPasswordReset: %v", err)
	}
	secondCode := otpCodeRe.FindString(notifier.last(t).Body)

	if err := svc.ResetPasswordWithOTP(ctx, "staff1", firstCode, "new-pass-123"); !errors.Is(err, ErrInvalidOTP) {
		if firstCode == secondCode {
			t.Skip("codes collided")
		}
		t.Fatalf("expected first code to be invalidated, got %v", err)
	}
	if err := svc.ResetPasswordWithOTP(ctx, "staff1", secondCode, "new-pass-123"); err != nil {
		t.Fatalf("reset with latest code: %v", err)
	}
}

func TestPasswordResetExpiredCode(t *testing.T) {
	clk := newTestClock()
	notifier := &captureNotifier{}
	svc, store := newTestService(t, clk, WithNotifier(notifier), WithOTPTTL(10*time.Minute))
	seedAccount(t, store, "staff1", "old-pass-123", seedOpts{})
	ctx := context.Background()

	if err := svc.SendPasswordReset(ctx, "staff1"); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	code := otpCodeRe.FindString(notifier.last(t).Body)

	clk.Advance(11 * time.Minute)
	if err := svc.ResetPasswordWithOTP(ctx, "staff1", code, "new-pass-123"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP for expired code, got %v", err)
	}
}

func TestPasswordResetUnknownUsernameIsSilent(t *testing.T) {
	clk := newTestClock()
	notifier := &captureNotifier{}
	svc, _ := newTestService(t, clk, WithNotifier(notifier))

	if err := svc.SendPasswordReset(context.Background(), "ghost"); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if len(notifier.sends) != 0 {
		t.Fatal("no message must be sent for an unknown username")
	}
}

func TestPasswordResetNotifierFailureIsNonFatal(t *testing.T) {
	clk := newTestClock()
	notifier := &captureNotifier{fail: true}
	svc, store := newTestService(t, clk, WithNotifier(notifier))
	seedAccount(t, store, "staff1", "old-pass-123", seedOpts{})
	ctx := context.Background()

	err := svc.SendPasswordReset(ctx, "staff1")
	if !errors.Is(err, ErrNotificationFailed) {
		t.Fatalf("expected ErrNotificationFailed, got %v", err)
	}

	// The code was still issued before the dispatch failed.
	code := otpCodeRe.FindString(notifier.last(t).Body)
	if err := svc.ResetPasswordWithOTP(ctx, "staff1", code, "new-pass-123"); err != nil {
		t.Fatalf("reset with issued code: %v", err)
	}
}

func TestResetRevokesSessions(t *testing.T) {
	clk := newTestClock()
	notifier := &captureNotifier{}
	svc, store := newTestService(t, clk, WithNotifier(notifier))
	seedAccount(t, store, "staff1", "old-pass-123", seedOpts{})
	ctx := context.Background()

	result, err := svc.Login(ctx, "staff1", "old-pass-123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.SendPasswordReset(ctx, "staff1"); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	code := otpCodeRe.FindString(notifier.last(t).Body)
	if err := svc.ResetPasswordWithOTP(ctx, "staff1", code, "new-pass-123"); err != nil {
		t.Fatalf("ResetPasswordWithOTP: %v", err)
	}

	if _, err := svc.Refresh(ctx, result.Tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh revocation after reset, got %v", err)
	}
}

func TestAuthenticateResolvesPrivileges(t *testing.T) {
	clk := newTestClock()
	svc, store := newTestService(t, clk)
	seedAccount(t, store, "admin1", "pass-123456", seedOpts{role: account.RoleAdmin})
	ctx := context.Background()

	result, err := svc.Login(ctx, "admin1", "pass-123456")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	principal, err := svc.Authenticate(ctx, result.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.Account.Username != "admin1" {
		t.Fatalf("unexpected principal %+v", principal.Account)
	}
	if !principal.HasPrivilege(account.PrivilegeManageRoles) || !principal.HasPrivilege(account.PrivilegeApproveDoctors) {
		t.Fatal("admin must carry management privileges")
	}
}

func TestAuthenticateRechecksAccountFlags(t *testing.T) {
	clk := newTestClock()
	svc, store := newTestService(t, clk)
	acct := seedAccount(t, store, "staff1", "pass-123456", seedOpts{})
	ctx := context.Background()

	result, err := svc.Login(ctx, "staff1", "pass-123456")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	acct.Locked = true
	if err := store.Accounts(ctx).Update(ctx, acct); err != nil {
		t.Fatalf("lock account: %v", err)
	}

	// The unexpired access token stops working the moment the account is
	// locked.
	if _, err := svc.Authenticate(ctx, result.Tokens.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for locked account, got %v", err)
	}
}
