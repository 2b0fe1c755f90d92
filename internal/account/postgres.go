package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"clinicore.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts(context.Context) AccountStore { return &pgAccounts{db: s.db} }
func (s *PGStore) Roles(context.Context) RoleStore       { return &pgRoles{db: s.db} }
func (s *PGStore) Drafts(context.Context) DraftStore     { return &pgDrafts{db: s.db} }

const accountColumns = `id, username, identity_card, full_name, email, phone, password_hash,
	role, specialty, license_number, locked, deleted, pending_approval, rejected_reason,
	created_at, updated_at`

// Account store -------------------------------------------------------------

type pgAccounts struct{ db *sql.DB }

func (s *pgAccounts) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, username, identity_card, full_name, email, phone, password_hash,
			role, specialty, license_number, locked, deleted, pending_approval, rejected_reason)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		a.ID, a.Username, a.IdentityCard, a.FullName, a.Email, a.Phone, a.PasswordHash,
		a.Role, a.Specialty, a.LicenseNumber, a.Locked, a.Deleted, a.PendingApproval, a.RejectedReason,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.Username, &a.IdentityCard, &a.FullName, &a.Email, &a.Phone, &a.PasswordHash,
		&a.Role, &a.Specialty, &a.LicenseNumber, &a.Locked, &a.Deleted, &a.PendingApproval,
		&a.RejectedReason, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *pgAccounts) Find(ctx context.Context, id string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id))
}

func (s *pgAccounts) FindByUsername(ctx context.Context, username string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where username=$1`, username))
}

func (s *pgAccounts) FindByIdentityCard(ctx context.Context, identityCard string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where identity_card=$1`, identityCard))
}

func (s *pgAccounts) Update(ctx context.Context, a *Account) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set full_name=$2, email=$3, phone=$4, role=$5, specialty=$6,
			license_number=$7, locked=$8, deleted=$9, pending_approval=$10, rejected_reason=$11,
			updated_at=now()
		 where id=$1`,
		a.ID, a.FullName, a.Email, a.Phone, a.Role, a.Specialty,
		a.LicenseNumber, a.Locked, a.Deleted, a.PendingApproval, a.RejectedReason,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgAccounts) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgAccounts) ListPending(ctx context.Context, role string) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+accountColumns+` from accounts
		 where pending_approval and not deleted and ($1 = '' or role=$1)
		 order by created_at asc`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Role store -----------------------------------------------------------------

type pgRoles struct{ db *sql.DB }

func (s *pgRoles) Ensure(ctx context.Context, roles []Role) error {
	for _, r := range roles {
		privs, _ := json.Marshal(r.Privileges)
		_, err := s.db.ExecContext(ctx,
			`insert into roles(name, description, privileges) values($1,$2,$3)
			 on conflict (name) do nothing`,
			r.Name, r.Description, privs,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *pgRoles) Create(ctx context.Context, role *Role) error {
	privs, _ := json.Marshal(role.Privileges)
	_, err := s.db.ExecContext(ctx,
		`insert into roles(name, description, privileges) values($1,$2,$3)`,
		role.Name, role.Description, privs,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *pgRoles) Find(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select name, description, privileges, created_at, updated_at from roles where name=$1`, name)
	var (
		r     Role
		privs []byte
	)
	if err := row.Scan(&r.Name, &r.Description, &privs, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(privs, &r.Privileges)
	return &r, nil
}

func (s *pgRoles) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select name, description, privileges, created_at, updated_at from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Role
	for rows.Next() {
		var (
			r     Role
			privs []byte
		)
		if err := rows.Scan(&r.Name, &r.Description, &privs, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(privs, &r.Privileges)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *pgRoles) SetPrivileges(ctx context.Context, name string, privileges []Privilege) error {
	privs, _ := json.Marshal(privileges)
	res, err := s.db.ExecContext(ctx,
		`update roles set privileges=$2, updated_at=now() where name=$1`, name, privs)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Draft store ----------------------------------------------------------------

type pgDrafts struct{ db *sql.DB }

func (s *pgDrafts) Put(ctx context.Context, d *RegistrationDraft) error {
	_, err := s.db.ExecContext(ctx,
		`insert into registration_drafts(identity_card, full_name, email, phone)
		 values($1,$2,$3,$4)
		 on conflict (identity_card) do update
		 set full_name=excluded.full_name, email=excluded.email, phone=excluded.phone,
		     updated_at=now()`,
		d.IdentityCard, d.FullName, d.Email, d.Phone,
	)
	return err
}

func (s *pgDrafts) FindByIdentityCard(ctx context.Context, identityCard string) (*RegistrationDraft, error) {
	row := s.db.QueryRowContext(ctx,
		`select identity_card, full_name, email, phone, created_at, updated_at
		 from registration_drafts where identity_card=$1`, identityCard)
	var d RegistrationDraft
	if err := row.Scan(&d.IdentityCard, &d.FullName, &d.Email, &d.Phone, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *pgDrafts) Delete(ctx context.Context, identityCard string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from registration_drafts where identity_card=$1`, identityCard)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
