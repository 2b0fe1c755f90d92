package auth

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"clinicore.org/internal/account"
)

// MemoryTokenStore implements TokenStore in process memory. Rotation and
// revocation are mutex-guarded compare-and-swap operations so the rotation
// invariant holds under concurrent refresh calls within a single instance.
type MemoryTokenStore struct {
	mu      sync.Mutex
	refresh map[string]*RefreshToken
	revoked map[string]time.Time // jti -> expiry
	now     func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		refresh: make(map[string]*RefreshToken),
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock overrides the time source, useful for tests.
func (s *MemoryTokenStore) WithClock(fn func() time.Time) *MemoryTokenStore {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *MemoryTokenStore) CreateRefresh(ctx context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now().UTC()
	}
	cp := *tok
	s.refresh[tok.ID] = &cp
	return nil
}

func (s *MemoryTokenStore) FindRefresh(ctx context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[id]
	if !ok || rec.Revoked || s.now().After(rec.ExpiresAt) {
		return nil, account.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryTokenStore) RotateRefresh(ctx context.Context, id, tokenHash string, next *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[id]
	if !ok || rec.Revoked || s.now().After(rec.ExpiresAt) {
		return account.ErrNotFound
	}
	if subtle.ConstantTimeCompare([]byte(rec.TokenHash), []byte(tokenHash)) != 1 {
		return account.ErrNotFound
	}
	// Revoke and replace under the same lock so no caller can observe the
	// old token spent without its replacement stored.
	rec.Revoked = true
	if next.CreatedAt.IsZero() {
		next.CreatedAt = s.now().UTC()
	}
	cp := *next
	s.refresh[next.ID] = &cp
	return nil
}

func (s *MemoryTokenStore) RevokeRefresh(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.refresh[id]; ok {
		rec.Revoked = true
	}
	return nil
}

func (s *MemoryTokenStore) RevokeRefreshByAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.refresh {
		if rec.AccountID == accountID {
			rec.Revoked = true
		}
	}
	return nil
}

func (s *MemoryTokenStore) RevokeAccess(ctx context.Context, jti string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = until
	return nil
}

func (s *MemoryTokenStore) AccessRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.revoked[jti]
	if !ok {
		return false, nil
	}
	if s.now().After(until) {
		delete(s.revoked, jti)
		return false, nil
	}
	return true, nil
}

// MemoryOTPStore implements OTPStore in process memory with one active record
// per username.
type MemoryOTPStore struct {
	mu    sync.Mutex
	codes map[string]*ResetCode
	now   func() time.Time
}

func NewMemoryOTPStore() *MemoryOTPStore {
	return &MemoryOTPStore{
		codes: make(map[string]*ResetCode),
		now:   time.Now,
	}
}

// WithClock overrides the time source, useful for tests.
func (s *MemoryOTPStore) WithClock(fn func() time.Time) *MemoryOTPStore {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *MemoryOTPStore) Put(ctx context.Context, rec *ResetCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	cp := *rec
	s.codes[rec.Username] = &cp
	return nil
}

func (s *MemoryOTPStore) Consume(ctx context.Context, username, codeHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[username]
	if !ok || rec.CodeHash != codeHash || s.now().After(rec.ExpiresAt) {
		return account.ErrNotFound
	}
	delete(s.codes, username)
	return nil
}
