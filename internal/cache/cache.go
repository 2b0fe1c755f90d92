package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"clinicore.org/internal/account"
	"clinicore.org/internal/obs"
)

// Named caches managed by the service.
const (
	CacheRoles          = "roles"
	CachePendingDoctors = "pending-doctors"
	CacheAccounts       = "accounts"
)

const (
	defaultExpiration = 5 * time.Minute
	cleanupInterval   = 10 * time.Minute

	listKey = "__all"
)

// Service is the cache collaborator: read-through access to hot catalog data
// plus the invalidation hooks the auth orchestrator calls after mutations.
type Service struct {
	store  account.Store
	caches map[string]*gocache.Cache
}

// NewService constructs the named caches. Warm-up is a separate explicit call
// made by the process entry point once all dependencies exist.
func NewService(store account.Store) *Service {
	return &Service{
		store: store,
		caches: map[string]*gocache.Cache{
			CacheRoles:          gocache.New(defaultExpiration, cleanupInterval),
			CachePendingDoctors: gocache.New(defaultExpiration, cleanupInterval),
			CacheAccounts:       gocache.New(defaultExpiration, cleanupInterval),
		},
	}
}

// WarmUp preloads the role catalog and the pending doctor queue.
func (s *Service) WarmUp(ctx context.Context) error {
	if _, err := s.Roles(ctx); err != nil {
		return fmt.Errorf("cache: warm up roles: %w", err)
	}
	if _, err := s.PendingDoctors(ctx); err != nil {
		return fmt.Errorf("cache: warm up pending doctors: %w", err)
	}
	obs.LogEvent("info", "caches_warmed", map[string]any{"caches": s.Names()})
	return nil
}

// Roles returns the role catalog, reading through the roles cache.
func (s *Service) Roles(ctx context.Context) ([]*account.Role, error) {
	c := s.caches[CacheRoles]
	if v, ok := c.Get(listKey); ok {
		return v.([]*account.Role), nil
	}
	roles, err := s.store.Roles(ctx).List(ctx)
	if err != nil {
		return nil, err
	}
	c.SetDefault(listKey, roles)
	return roles, nil
}

// PendingDoctors returns doctor accounts awaiting review, reading through the
// pending-doctors cache.
func (s *Service) PendingDoctors(ctx context.Context) ([]*account.Account, error) {
	c := s.caches[CachePendingDoctors]
	if v, ok := c.Get(listKey); ok {
		return v.([]*account.Account), nil
	}
	pending, err := s.store.Accounts(ctx).ListPending(ctx, account.RoleDoctor)
	if err != nil {
		return nil, err
	}
	c.SetDefault(listKey, pending)
	return pending, nil
}

// AccountByUsername returns an account, reading through the accounts cache.
func (s *Service) AccountByUsername(ctx context.Context, username string) (*account.Account, error) {
	c := s.caches[CacheAccounts]
	if v, ok := c.Get(username); ok {
		return v.(*account.Account), nil
	}
	acct, err := s.store.Accounts(ctx).FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	c.SetDefault(username, acct)
	return acct, nil
}

// EvictAccount drops a cached account after a mutation.
func (s *Service) EvictAccount(username string) {
	s.caches[CacheAccounts].Delete(username)
}

// EvictRoles drops the cached role catalog.
func (s *Service) EvictRoles() {
	s.caches[CacheRoles].Flush()
}

// EvictPendingDoctors drops the cached pending doctor queue.
func (s *Service) EvictPendingDoctors() {
	s.caches[CachePendingDoctors].Flush()
}

// Names lists the managed cache names, sorted.
func (s *Service) Names() []string {
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size reports the item count of a named cache. Informational only: expired
// but not yet swept items are included.
func (s *Service) Size(name string) (int, bool) {
	c, ok := s.caches[name]
	if !ok {
		return 0, false
	}
	return c.ItemCount(), true
}

// Clear empties a named cache. Reports whether the name was known.
func (s *Service) Clear(name string) bool {
	c, ok := s.caches[name]
	if !ok {
		return false
	}
	c.Flush()
	return true
}
