package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clinicore.org/internal/account"
	"clinicore.org/internal/audit"
	"clinicore.org/internal/obs"
)

// RegisterRequest is the single-step signup payload for staff accounts.
type RegisterRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	IdentityCard string `json:"identity_card"`
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
}

// PersonalInfoRequest is phase one of the two-step doctor signup.
type PersonalInfoRequest struct {
	IdentityCard string `json:"identity_card"`
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
}

// ProfessionalInfoRequest is phase two: it completes the draft into a
// pending-approval doctor account.
type ProfessionalInfoRequest struct {
	IdentityCard  string `json:"identity_card"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	Specialty     string `json:"specialty"`
	LicenseNumber string `json:"license_number"`
}

// Register creates an active account with the default role. Username and
// identity card must both be unique.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*account.Account, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.IdentityCard = strings.TrimSpace(req.IdentityCard)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Username == "" || req.Password == "" || req.IdentityCard == "" {
		return nil, fmt.Errorf("%w: username, password, and identity card are required", ErrInvalidInput)
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	acct := &account.Account{
		Username:     req.Username,
		IdentityCard: req.IdentityCard,
		FullName:     strings.TrimSpace(req.FullName),
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
		Role:         account.RoleStaff,
	}
	if err := s.store.Accounts(ctx).Create(ctx, acct); err != nil {
		if errors.Is(err, account.ErrConflict) {
			return nil, ErrDuplicateAccount
		}
		return nil, err
	}
	s.evictAccount(acct.Username)
	return acct, nil
}

// RegisterPersonalInfo stores phase one of the doctor signup. Idempotent by
// identity card: repeating the call refreshes the draft.
func (s *Service) RegisterPersonalInfo(ctx context.Context, req PersonalInfoRequest) (*account.RegistrationDraft, error) {
	req.IdentityCard = strings.TrimSpace(req.IdentityCard)
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.IdentityCard == "" || req.FullName == "" || req.Email == "" {
		return nil, fmt.Errorf("%w: identity card, full name, and email are required", ErrInvalidInput)
	}
	// An identity card that already belongs to a full account cannot start a
	// new draft.
	if _, err := s.store.Accounts(ctx).FindByIdentityCard(ctx, req.IdentityCard); err == nil {
		return nil, ErrDuplicateAccount
	} else if !errors.Is(err, account.ErrNotFound) {
		return nil, err
	}
	draft := &account.RegistrationDraft{
		IdentityCard: req.IdentityCard,
		FullName:     req.FullName,
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
	}
	if err := s.store.Drafts(ctx).Put(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// PersonalInfoByIdentityCard returns the stored phase-one draft.
func (s *Service) PersonalInfoByIdentityCard(ctx context.Context, identityCard string) (*account.RegistrationDraft, error) {
	draft, err := s.store.Drafts(ctx).FindByIdentityCard(ctx, strings.TrimSpace(identityCard))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrDraftNotFound
		}
		return nil, err
	}
	return draft, nil
}

// RegisterProfessionalInfo completes a draft into a pending-approval doctor
// account. The draft is deleted once the account exists.
func (s *Service) RegisterProfessionalInfo(ctx context.Context, req ProfessionalInfoRequest) (*account.Account, error) {
	req.IdentityCard = strings.TrimSpace(req.IdentityCard)
	req.Username = strings.TrimSpace(req.Username)
	if req.IdentityCard == "" || req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: identity card, username, and password are required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.LicenseNumber) == "" {
		return nil, fmt.Errorf("%w: license number is required", ErrInvalidInput)
	}
	draft, err := s.store.Drafts(ctx).FindByIdentityCard(ctx, req.IdentityCard)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrDraftNotFound
		}
		return nil, err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	acct := &account.Account{
		Username:        req.Username,
		IdentityCard:    draft.IdentityCard,
		FullName:        draft.FullName,
		Email:           draft.Email,
		Phone:           draft.Phone,
		PasswordHash:    hash,
		Role:            account.RoleDoctor,
		Specialty:       strings.TrimSpace(req.Specialty),
		LicenseNumber:   strings.TrimSpace(req.LicenseNumber),
		PendingApproval: true,
	}
	if err := s.store.Accounts(ctx).Create(ctx, acct); err != nil {
		if errors.Is(err, account.ErrConflict) {
			return nil, ErrDuplicateAccount
		}
		return nil, err
	}
	if err := s.store.Drafts(ctx).Delete(ctx, draft.IdentityCard); err != nil {
		obs.LogEvent("warn", "registration_draft_cleanup_failed", map[string]any{
			"identity_card": draft.IdentityCard,
			"error":         err.Error(),
		})
	}
	s.evictPendingDoctors()
	return acct, nil
}

// PendingDoctorAccounts lists doctor accounts awaiting administrative review.
func (s *Service) PendingDoctorAccounts(ctx context.Context) ([]*account.Account, error) {
	return s.store.Accounts(ctx).ListPending(ctx, account.RoleDoctor)
}

// ApproveDoctorAccount transitions a pending doctor account to active.
func (s *Service) ApproveDoctorAccount(ctx context.Context, accountID string) (*account.Account, error) {
	acct, err := s.findForReview(ctx, accountID)
	if err != nil {
		return nil, err
	}
	acct.PendingApproval = false
	acct.RejectedReason = ""
	if err := s.store.Accounts(ctx).Update(ctx, acct); err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "auth.doctor.approved", map[string]any{
		"account_id": acct.ID,
		"username":   acct.Username,
	})
	s.notifyReviewOutcome(ctx, acct, "Your doctor account has been approved. You can now sign in.")
	s.evictAccount(acct.Username)
	s.evictPendingDoctors()
	return acct, nil
}

// RejectDoctorAccount transitions a pending doctor account to a terminal
// rejected (soft-deleted) state.
func (s *Service) RejectDoctorAccount(ctx context.Context, accountID, reason string) (*account.Account, error) {
	acct, err := s.findForReview(ctx, accountID)
	if err != nil {
		return nil, err
	}
	acct.PendingApproval = false
	acct.Deleted = true
	acct.RejectedReason = strings.TrimSpace(reason)
	if err := s.store.Accounts(ctx).Update(ctx, acct); err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "auth.doctor.rejected", map[string]any{
		"account_id": acct.ID,
		"username":   acct.Username,
		"reason":     acct.RejectedReason,
	})
	s.notifyReviewOutcome(ctx, acct, "Your doctor registration was rejected: "+acct.RejectedReason)
	s.evictAccount(acct.Username)
	s.evictPendingDoctors()
	return acct, nil
}

// AccountByUsername returns an account for administrative inspection.
func (s *Service) AccountByUsername(ctx context.Context, username string) (*account.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	return s.store.Accounts(ctx).FindByUsername(ctx, username)
}

// DeleteAccount soft-deletes an account and revokes its refresh tokens.
func (s *Service) DeleteAccount(ctx context.Context, accountID string) error {
	accounts := s.store.Accounts(ctx)
	acct, err := accounts.Find(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.Deleted {
		return nil
	}
	acct.Deleted = true
	if err := accounts.Update(ctx, acct); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "auth.account.deleted", map[string]any{"account_id": acct.ID})
	s.evictAccount(acct.Username)
	return s.tokens.RevokeAllForAccount(ctx, acct.ID)
}

// RestoreAccount reverses a soft delete. Rejected doctor accounts return to
// pending-approval rather than straight to active.
func (s *Service) RestoreAccount(ctx context.Context, accountID string) error {
	accounts := s.store.Accounts(ctx)
	acct, err := accounts.Find(ctx, accountID)
	if err != nil {
		return err
	}
	if !acct.Deleted {
		return nil
	}
	acct.Deleted = false
	if acct.RejectedReason != "" {
		acct.PendingApproval = true
		acct.RejectedReason = ""
	}
	if err := accounts.Update(ctx, acct); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "auth.account.restored", map[string]any{"account_id": acct.ID})
	s.evictAccount(acct.Username)
	s.evictPendingDoctors()
	return nil
}

func (s *Service) findForReview(ctx context.Context, accountID string) (*account.Account, error) {
	acct, err := s.store.Accounts(ctx).Find(ctx, strings.TrimSpace(accountID))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, account.ErrNotFound
		}
		return nil, err
	}
	if !acct.PendingApproval || acct.Deleted {
		return nil, ErrInvalidState
	}
	return acct, nil
}

func (s *Service) notifyReviewOutcome(ctx context.Context, acct *account.Account, body string) {
	if s.notifier == nil || acct.Email == "" {
		return
	}
	if err := s.notifier.Send(ctx, acct.Email, "Doctor registration update", body); err != nil {
		obs.LogEvent("warn", "review_notification_failed", map[string]any{
			"account_id": acct.ID,
			"error":      err.Error(),
		})
	}
}
