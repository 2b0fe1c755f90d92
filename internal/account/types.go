package account

import "time"

// Account represents a person with access to the facility backend: staff,
// nurses, doctors, and administrators.
type Account struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	IdentityCard  string    `json:"identity_card"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"`
	Specialty     string    `json:"specialty,omitempty"`
	LicenseNumber string    `json:"license_number,omitempty"`

	// Status flags. A locked, deleted, or pending account cannot authenticate.
	Locked          bool   `json:"locked"`
	Deleted         bool   `json:"deleted"`
	PendingApproval bool   `json:"pending_approval"`
	RejectedReason  string `json:"rejected_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role groups privileges under a unique name.
type Role struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Privileges  []Privilege `json:"privileges"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// HasPrivilege reports whether the role carries the given privilege.
func (r *Role) HasPrivilege(p Privilege) bool {
	for _, have := range r.Privileges {
		if have == p {
			return true
		}
	}
	return false
}

// RegistrationDraft is the phase-one record of the two-step doctor signup,
// keyed by identity card. It holds personal info only and cannot authenticate.
type RegistrationDraft struct {
	IdentityCard string    `json:"identity_card"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the minimal account view returned to authenticated clients.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// ProfileOf projects an account into its public profile.
func ProfileOf(a *Account) Profile {
	return Profile{
		ID:       a.ID,
		Username: a.Username,
		FullName: a.FullName,
		Email:    a.Email,
		Role:     a.Role,
	}
}
