package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clinicore.org/internal/account"
	"clinicore.org/internal/audit"
)

// Roles lists the role catalog.
func (s *Service) Roles(ctx context.Context) ([]*account.Role, error) {
	return s.store.Roles(ctx).List(ctx)
}

// CreateRole adds a role with a validated privilege set. Role names are
// unique; a duplicate fails with ErrDuplicateAccount's role-side counterpart,
// account.ErrConflict.
func (s *Service) CreateRole(ctx context.Context, name, description string, rawPrivileges []string) (*account.Role, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	privs, err := account.ParsePrivileges(rawPrivileges)
	if err != nil {
		return nil, err
	}
	role := &account.Role{
		Name:        name,
		Description: strings.TrimSpace(description),
		Privileges:  privs,
	}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "auth.role.created", map[string]any{"role": role.Name})
	s.evictRoles()
	return role, nil
}

// SetRolePrivileges replaces a role's privilege set.
func (s *Service) SetRolePrivileges(ctx context.Context, name string, rawPrivileges []string) error {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	privs, err := account.ParsePrivileges(rawPrivileges)
	if err != nil {
		return err
	}
	if err := s.store.Roles(ctx).SetPrivileges(ctx, name, privs); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return account.ErrNotFound
		}
		return err
	}
	_ = audit.LogEvent(ctx, "auth.role.privileges.updated", map[string]any{
		"role":  name,
		"count": len(privs),
	})
	s.evictRoles()
	return nil
}
