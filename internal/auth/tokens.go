package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"clinicore.org/internal/account"
	"clinicore.org/internal/ids"
	"clinicore.org/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

// AccessClaims are the JWT claims carried by access tokens.
type AccessClaims struct {
	Username   string   `json:"username"`
	Role       string   `json:"role"`
	Privileges []string `json:"privileges,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates access/refresh token pairs and owns their
// revocation state. Access tokens are HS256 JWTs; refresh tokens are opaque
// "id.secret" pairs whose secret is stored as a sha256 hash.
type TokenIssuer struct {
	store      TokenStore
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer. The signing secret is required.
func NewTokenIssuer(store TokenStore, secret string, issuer string) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	return &TokenIssuer{
		store:      store,
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}, nil
}

// Mint issues a fresh token pair bound to the account.
func (t *TokenIssuer) Mint(ctx context.Context, acct *account.Account, privileges []account.Privilege) (TokenPair, error) {
	pair, rec, err := t.buildPair(acct, privileges)
	if err != nil {
		return TokenPair{}, err
	}
	if err := t.store.CreateRefresh(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	obs.ObserveTokenPairIssued()
	return pair, nil
}

// RefreshAccountID resolves an opaque refresh token to its owning account id
// without spending it. ErrInvalidToken on any mismatch.
func (t *TokenIssuer) RefreshAccountID(ctx context.Context, raw string) (string, error) {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return "", ErrInvalidToken
	}
	rec, err := t.store.FindRefresh(ctx, id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		return "", ErrInvalidToken
	}
	return rec.AccountID, nil
}

// Rotate spends the refresh token and issues its replacement pair. The new
// access token is signed and the replacement record generated before the
// store runs the revoke-and-replace as one atomic operation, so a failed
// mint never leaves the old token half-revoked.
func (t *TokenIssuer) Rotate(ctx context.Context, raw string, acct *account.Account, privileges []account.Privilege) (TokenPair, error) {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	pair, rec, err := t.buildPair(acct, privileges)
	if err != nil {
		return TokenPair{}, err
	}
	if err := t.store.RotateRefresh(ctx, id, hashRefreshSecret(secret), rec); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	obs.ObserveTokenPairIssued()
	return pair, nil
}

// buildPair signs the access token and generates the refresh record without
// touching the store.
func (t *TokenIssuer) buildPair(acct *account.Account, privileges []account.Privilege) (TokenPair, *RefreshToken, error) {
	now := t.now().UTC()
	accessExp := now.Add(t.accessTTL)

	privs := make([]string, 0, len(privileges))
	for _, p := range privileges {
		privs = append(privs, string(p))
	}
	claims := AccessClaims{
		Username:   acct.Username,
		Role:       acct.Role,
		Privileges: privs,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   acct.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			ID:        uuid.NewString(),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return TokenPair{}, nil, err
	}
	refreshString, rec, err := t.generateRefreshToken(acct.ID, now)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, rec, nil
}

// Validate verifies an access token: signature, standard claims, and
// membership in the revocation set.
func (t *TokenIssuer) Validate(ctx context.Context, token string) (*AccessClaims, error) {
	claims, err := t.parse(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	revoked, err := t.store.AccessRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RevokeAccess denylists the access token until its natural expiry.
// Unparseable or already-expired tokens are ignored: revoking a dead token is
// not an error.
func (t *TokenIssuer) RevokeAccess(ctx context.Context, token string) error {
	claims, err := t.parse(token)
	if err != nil {
		return nil
	}
	return t.store.RevokeAccess(ctx, claims.ID, claims.ExpiresAt.Time)
}

// RevokeRefresh marks a refresh token revoked. Idempotent.
func (t *TokenIssuer) RevokeRefresh(ctx context.Context, raw string) error {
	id, _, err := splitRefreshToken(raw)
	if err != nil {
		return nil
	}
	return t.store.RevokeRefresh(ctx, id)
}

// RevokeAllForAccount invalidates every outstanding refresh token for the
// account, forcing re-login on other devices.
func (t *TokenIssuer) RevokeAllForAccount(ctx context.Context, accountID string) error {
	return t.store.RevokeRefreshByAccount(ctx, accountID)
}

func (t *TokenIssuer) parse(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{jwt.WithTimeFunc(t.now)}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{},
		func(tok *jwt.Token) (any, error) {
			if tok.Method != jwt.SigningMethodHS256 {
				return nil, ErrInvalidToken
			}
			return t.secret, nil
		},
		opts...,
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenIssuer) generateRefreshToken(accountID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	rec := &RefreshToken{
		ID:        tokenID,
		AccountID: accountID,
		TokenHash: hashRefreshSecret(secret),
		ExpiresAt: now.Add(t.refreshTTL),
	}
	return tokenID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash, secret string) bool {
	actual := hashRefreshSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
