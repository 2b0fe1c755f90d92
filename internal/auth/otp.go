package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"time"

	"clinicore.org/internal/account"
	"clinicore.org/internal/obs"
)

const (
	defaultOTPTTL = 10 * time.Minute
	otpCodeLength = 6
)

// OTPService generates and validates single-use password reset codes. Only
// the sha256 of a code is stored; issuing a new code for a username
// invalidates any prior unconsumed one.
type OTPService struct {
	store OTPStore
	ttl   time.Duration
	now   func() time.Time
}

// NewOTPService constructs an OTPService with the default minutes-scale TTL.
func NewOTPService(store OTPStore) *OTPService {
	return &OTPService{
		store: store,
		ttl:   defaultOTPTTL,
		now:   time.Now,
	}
}

// Issue generates a fresh numeric code for the username, replacing any prior
// active code, and returns the plaintext for dispatch.
func (s *OTPService) Issue(ctx context.Context, username string) (string, error) {
	code, err := generateNumericCode(otpCodeLength)
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	rec := &ResetCode{
		Username:  username,
		CodeHash:  hashOTPCode(code),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return "", err
	}
	obs.ObserveOTPIssued()
	return code, nil
}

// Consume validates and burns the active code for the username. Mismatch,
// expiry, and prior consumption are indistinguishable: all ErrInvalidOTP.
func (s *OTPService) Consume(ctx context.Context, username, code string) error {
	err := s.store.Consume(ctx, username, hashOTPCode(code))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrInvalidOTP
		}
		return err
	}
	obs.ObserveOTPConsumed()
	return nil
}

func hashOTPCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func generateNumericCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
