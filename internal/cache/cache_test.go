package cache

import (
	"context"
	"testing"

	"clinicore.org/internal/account"
)

func seedStore(t *testing.T) account.Store {
	t.Helper()
	store := account.NewInMemory()
	ctx := context.Background()
	if err := store.Roles(ctx).Ensure(ctx, account.BuiltinRoles); err != nil {
		t.Fatalf("ensure roles: %v", err)
	}
	if err := store.Accounts(ctx).Create(ctx, &account.Account{
		ID:              "acc-1",
		Username:        "drhouse",
		IdentityCard:    "ID-100",
		FullName:        "Gregory House",
		Role:            account.RoleDoctor,
		PendingApproval: true,
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return store
}

func TestWarmUpLoadsCatalogs(t *testing.T) {
	svc := NewService(seedStore(t))
	if err := svc.WarmUp(context.Background()); err != nil {
		t.Fatalf("warm up: %v", err)
	}
	if n, ok := svc.Size(CacheRoles); !ok || n != 1 {
		t.Fatalf("roles cache size = %d, %v; want 1, true", n, ok)
	}
	if n, ok := svc.Size(CachePendingDoctors); !ok || n != 1 {
		t.Fatalf("pending cache size = %d, %v; want 1, true", n, ok)
	}
}

func TestRolesReadThrough(t *testing.T) {
	store := seedStore(t)
	svc := NewService(store)
	ctx := context.Background()

	roles, err := svc.Roles(ctx)
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if len(roles) != len(account.BuiltinRoles) {
		t.Fatalf("got %d roles, want %d", len(roles), len(account.BuiltinRoles))
	}

	// A role created behind the cache's back stays invisible until eviction.
	if err := store.Roles(ctx).Create(ctx, &account.Role{Name: "auditor"}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	roles, err = svc.Roles(ctx)
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if len(roles) != len(account.BuiltinRoles) {
		t.Fatalf("expected stale catalog before eviction, got %d roles", len(roles))
	}

	svc.EvictRoles()
	roles, err = svc.Roles(ctx)
	if err != nil {
		t.Fatalf("roles after evict: %v", err)
	}
	if len(roles) != len(account.BuiltinRoles)+1 {
		t.Fatalf("got %d roles after eviction, want %d", len(roles), len(account.BuiltinRoles)+1)
	}
}

func TestEvictAccount(t *testing.T) {
	svc := NewService(seedStore(t))
	ctx := context.Background()

	if _, err := svc.AccountByUsername(ctx, "drhouse"); err != nil {
		t.Fatalf("account: %v", err)
	}
	if n, _ := svc.Size(CacheAccounts); n != 1 {
		t.Fatalf("accounts cache size = %d, want 1", n)
	}

	svc.EvictAccount("drhouse")
	if n, _ := svc.Size(CacheAccounts); n != 0 {
		t.Fatalf("accounts cache size after evict = %d, want 0", n)
	}

	// Evicting an uncached username is a no-op.
	svc.EvictAccount("ghost")
}

func TestClearAndSizeUnknownName(t *testing.T) {
	svc := NewService(seedStore(t))
	if _, ok := svc.Size("bogus"); ok {
		t.Fatal("expected Size to reject unknown cache name")
	}
	if svc.Clear("bogus") {
		t.Fatal("expected Clear to reject unknown cache name")
	}
	if err := svc.WarmUp(context.Background()); err != nil {
		t.Fatalf("warm up: %v", err)
	}
	if !svc.Clear(CacheRoles) {
		t.Fatal("expected Clear to accept known cache name")
	}
	if n, _ := svc.Size(CacheRoles); n != 0 {
		t.Fatalf("roles cache size after clear = %d, want 0", n)
	}
}

func TestNames(t *testing.T) {
	svc := NewService(seedStore(t))
	names := svc.Names()
	want := []string{CacheAccounts, CachePendingDoctors, CacheRoles}
	if len(names) != len(want) {
		t.Fatalf("got %d names, want %d", len(names), len(want))
	}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("names[%d] = %q, want %q", i, names[i], n)
		}
	}
}
