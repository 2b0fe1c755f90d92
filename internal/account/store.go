package account

import "context"

// Store describes persistence operations required by the account subsystem.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	Roles(ctx context.Context) RoleStore
	Drafts(ctx context.Context) DraftStore
}

// AccountStore manages account records.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByIdentityCard(ctx context.Context, identityCard string) (*Account, error)
	Update(ctx context.Context, a *Account) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	ListPending(ctx context.Context, role string) ([]*Account, error)
}

// RoleStore manages the role catalog.
type RoleStore interface {
	Ensure(ctx context.Context, roles []Role) error
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	SetPrivileges(ctx context.Context, name string, privileges []Privilege) error
}

// DraftStore manages two-step registration drafts keyed by identity card.
type DraftStore interface {
	Put(ctx context.Context, d *RegistrationDraft) error
	FindByIdentityCard(ctx context.Context, identityCard string) (*RegistrationDraft, error)
	Delete(ctx context.Context, identityCard string) error
}
