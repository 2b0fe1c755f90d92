package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"clinicore.org/internal/account"
	"clinicore.org/internal/audit"
	"clinicore.org/internal/auth"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAuthError maps the auth error taxonomy onto HTTP statuses. Responses
// never distinguish bad usernames from bad passwords or codes.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrInvalidOTP):
		writeError(w, r, http.StatusUnauthorized, "invalid or expired code")
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, r, http.StatusForbidden, "account is locked")
	case errors.Is(err, auth.ErrAccountDeleted):
		writeError(w, r, http.StatusForbidden, "account is deleted")
	case errors.Is(err, auth.ErrAccountPending):
		writeError(w, r, http.StatusForbidden, "account is pending approval")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "insufficient privileges")
	case errors.Is(err, auth.ErrDuplicateAccount):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidState):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrDraftNotFound):
		writeError(w, r, http.StatusNotFound, "registration draft not found")
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, account.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, account.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
