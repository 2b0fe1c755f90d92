package account

import (
	"fmt"
	"strings"
)

// Privilege is an atomic capability drawn from a closed enumeration and
// attached to roles, never to accounts directly.
type Privilege string

const (
	PrivilegeManageAccounts Privilege = "accounts.manage"
	PrivilegeManageRoles    Privilege = "roles.manage"
	PrivilegeApproveDoctors Privilege = "doctors.approve"
	PrivilegeManageCaches   Privilege = "caches.manage"
	PrivilegeViewRecords    Privilege = "records.view"
	PrivilegeEditRecords    Privilege = "records.edit"
)

// Builtin role names.
const (
	RoleAdmin  = "admin"
	RoleDoctor = "doctor"
	RoleNurse  = "nurse"
	RoleStaff  = "staff"
)

var allPrivileges = []Privilege{
	PrivilegeManageAccounts,
	PrivilegeManageRoles,
	PrivilegeApproveDoctors,
	PrivilegeManageCaches,
	PrivilegeViewRecords,
	PrivilegeEditRecords,
}

// AllPrivileges returns the closed privilege catalog.
func AllPrivileges() []Privilege {
	out := make([]Privilege, len(allPrivileges))
	copy(out, allPrivileges)
	return out
}

// ParsePrivilege validates a raw string against the closed enumeration.
func ParsePrivilege(raw string) (Privilege, error) {
	p := Privilege(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range allPrivileges {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown privilege %q", ErrInvalidInput, raw)
}

// ParsePrivileges validates and deduplicates a raw privilege list.
func ParsePrivileges(raw []string) ([]Privilege, error) {
	seen := make(map[Privilege]struct{}, len(raw))
	out := make([]Privilege, 0, len(raw))
	for _, r := range raw {
		p, err := ParsePrivilege(r)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// BuiltinRoles is the default role catalog seeded at startup.
var BuiltinRoles = []Role{
	{
		Name:        RoleAdmin,
		Description: "Facility administrator",
		Privileges:  AllPrivileges(),
	},
	{
		Name:        RoleDoctor,
		Description: "Approved medical doctor",
		Privileges:  []Privilege{PrivilegeViewRecords, PrivilegeEditRecords},
	},
	{
		Name:        RoleNurse,
		Description: "Nursing staff",
		Privileges:  []Privilege{PrivilegeViewRecords},
	},
	{
		Name:        RoleStaff,
		Description: "Administrative staff",
		Privileges:  []Privilege{},
	},
}
