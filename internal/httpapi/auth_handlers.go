package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"clinicore.org/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type forgotPasswordRequest struct {
	Username string `json:"username"`
}

type resetPasswordRequest struct {
	Username    string `json:"username"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req auth.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.svc.Register(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	accessToken, _ := auth.TokenFromContext(r.Context())
	if err := a.svc.Logout(r.Context(), accessToken, req.RefreshToken); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	privileges := make([]string, 0, len(principal.Privileges))
	for p := range principal.Privileges {
		privileges = append(privileges, string(p))
	}
	sort.Strings(privileges)
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":    principal.Account,
		"privileges": privileges,
	})
}

func (a *API) handlePasswordForgot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.svc.SendPasswordReset(r.Context(), req.Username)
	// Delivery failures are not surfaced: the code is issued and the response
	// must not reveal whether the username exists.
	if err != nil && !errors.Is(err, auth.ErrNotificationFailed) {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
	})
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ResetPasswordWithOTP(r.Context(), req.Username, req.Code, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), principal.Account.ID, req.OldPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- two-step doctor registration ---

func (a *API) handlePersonalInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req auth.PersonalInfoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	draft, err := a.svc.RegisterPersonalInfo(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func (a *API) handlePersonalInfoByCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identityCard := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/registration/personal/"), "/")
	if identityCard == "" || strings.Contains(identityCard, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	draft, err := a.svc.PersonalInfoByIdentityCard(r.Context(), identityCard)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (a *API) handleProfessionalInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req auth.ProfessionalInfoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.svc.RegisterProfessionalInfo(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}
