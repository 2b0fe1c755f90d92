package auth

import (
	"context"
	"database/sql"
	"time"

	"clinicore.org/internal/account"
)

var (
	_ TokenStore = (*PGTokenStore)(nil)
	_ OTPStore   = (*PGOTPStore)(nil)
)

// PGTokenStore implements TokenStore using PostgreSQL. Rotation runs a
// conditional UPDATE and the replacement INSERT in one transaction so the
// revoke-and-replace step is atomic even with multiple service instances.
type PGTokenStore struct {
	db *sql.DB
}

func NewPGTokenStore(db *sql.DB) *PGTokenStore {
	return &PGTokenStore{db: db}
}

func (s *PGTokenStore) CreateRefresh(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, account_id, token_hash, expires_at)
		 values($1,$2,$3,$4)`,
		tok.ID, tok.AccountID, tok.TokenHash, tok.ExpiresAt,
	)
	return err
}

func (s *PGTokenStore) FindRefresh(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, account_id, token_hash, revoked, expires_at, created_at
		 from refresh_tokens
		 where id=$1 and not revoked and expires_at > now()`,
		id,
	)
	var rec RefreshToken
	if err := row.Scan(&rec.ID, &rec.AccountID, &rec.TokenHash, &rec.Revoked, &rec.ExpiresAt, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, account.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *PGTokenStore) RotateRefresh(ctx context.Context, id, tokenHash string, next *RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked=true
		 where id=$1 and token_hash=$2 and not revoked and expires_at > now()`,
		id, tokenHash,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return account.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`insert into refresh_tokens(id, account_id, token_hash, expires_at)
		 values($1,$2,$3,$4)`,
		next.ID, next.AccountID, next.TokenHash, next.ExpiresAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGTokenStore) RevokeRefresh(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	return err
}

func (s *PGTokenStore) RevokeRefreshByAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where account_id=$1 and not revoked`, accountID)
	return err
}

func (s *PGTokenStore) RevokeAccess(ctx context.Context, jti string, until time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`insert into revoked_access_tokens(jti, expires_at) values($1,$2)
		 on conflict (jti) do nothing`,
		jti, until,
	)
	return err
}

func (s *PGTokenStore) AccessRevoked(ctx context.Context, jti string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`select exists(select 1 from revoked_access_tokens where jti=$1 and expires_at > now())`, jti)
	var revoked bool
	if err := row.Scan(&revoked); err != nil {
		return false, err
	}
	return revoked, nil
}

// PGOTPStore implements OTPStore using PostgreSQL. The username primary key
// guarantees at most one active record; consumption is a conditional delete.
type PGOTPStore struct {
	db *sql.DB
}

func NewPGOTPStore(db *sql.DB) *PGOTPStore {
	return &PGOTPStore{db: db}
}

func (s *PGOTPStore) Put(ctx context.Context, rec *ResetCode) error {
	_, err := s.db.ExecContext(ctx,
		`insert into reset_codes(username, code_hash, expires_at)
		 values($1,$2,$3)
		 on conflict (username) do update
		 set code_hash=excluded.code_hash, expires_at=excluded.expires_at, created_at=now()`,
		rec.Username, rec.CodeHash, rec.ExpiresAt,
	)
	return err
}

func (s *PGOTPStore) Consume(ctx context.Context, username, codeHash string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from reset_codes
		 where username=$1 and code_hash=$2 and expires_at > now()`,
		username, codeHash,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return account.ErrNotFound
	}
	return nil
}
