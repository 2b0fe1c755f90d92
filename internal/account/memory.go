package account

import (
	"context"
	"sync"
	"time"

	"clinicore.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Used by the
// API when no database is configured and throughout the test suite.
type InMemory struct {
	mu       sync.RWMutex
	accounts map[string]*Account // id -> account
	roles    map[string]*Role    // name -> role
	drafts   map[string]*RegistrationDraft
	now      func() time.Time
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts: make(map[string]*Account),
		roles:    make(map[string]*Role),
		drafts:   make(map[string]*RegistrationDraft),
		now:      time.Now,
	}
}

// WithClock overrides the time source, useful for tests.
func (s *InMemory) WithClock(fn func() time.Time) *InMemory {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *InMemory) Accounts(context.Context) AccountStore { return (*memAccounts)(s) }
func (s *InMemory) Roles(context.Context) RoleStore       { return (*memRoles)(s) }
func (s *InMemory) Drafts(context.Context) DraftStore     { return (*memDrafts)(s) }

// Account store -------------------------------------------------------------

type memAccounts InMemory

func (s *memAccounts) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Username == a.Username || existing.IdentityCard == a.IdentityCard {
			return ErrConflict
		}
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	now := s.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *memAccounts) Find(ctx context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memAccounts) FindByUsername(ctx context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memAccounts) FindByIdentityCard(ctx context.Context, identityCard string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.IdentityCard == identityCard {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memAccounts) Update(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = s.now().UTC()
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *memAccounts) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *memAccounts) ListPending(ctx context.Context, role string) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Account
	for _, a := range s.accounts {
		if !a.PendingApproval || a.Deleted {
			continue
		}
		if role != "" && a.Role != role {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// Role store -----------------------------------------------------------------

type memRoles InMemory

func (s *memRoles) Ensure(ctx context.Context, roles []Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, r := range roles {
		if _, ok := s.roles[r.Name]; ok {
			continue
		}
		cp := r
		cp.CreatedAt = now
		cp.UpdatedAt = now
		s.roles[r.Name] = &cp
	}
	return nil
}

func (s *memRoles) Create(ctx context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.Name]; ok {
		return ErrConflict
	}
	now := s.now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	cp := *role
	s.roles[role.Name] = &cp
	return nil
}

func (s *memRoles) Find(ctx context.Context, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	cp.Privileges = append([]Privilege(nil), r.Privileges...)
	return &cp, nil
}

func (s *memRoles) List(ctx context.Context) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0, len(s.roles))
	for _, r := range s.roles {
		cp := *r
		cp.Privileges = append([]Privilege(nil), r.Privileges...)
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memRoles) SetPrivileges(ctx context.Context, name string, privileges []Privilege) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[name]
	if !ok {
		return ErrNotFound
	}
	r.Privileges = append([]Privilege(nil), privileges...)
	r.UpdatedAt = s.now().UTC()
	return nil
}

// Draft store ----------------------------------------------------------------

type memDrafts InMemory

func (s *memDrafts) Put(ctx context.Context, d *RegistrationDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if existing, ok := s.drafts[d.IdentityCard]; ok {
		d.CreatedAt = existing.CreatedAt
	} else {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	cp := *d
	s.drafts[d.IdentityCard] = &cp
	return nil
}

func (s *memDrafts) FindByIdentityCard(ctx context.Context, identityCard string) (*RegistrationDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[identityCard]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memDrafts) Delete(ctx context.Context, identityCard string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, identityCard)
	return nil
}
