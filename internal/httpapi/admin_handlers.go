package httpapi

import (
	"net/http"
	"strings"

	"clinicore.org/internal/account"
)

type rejectDoctorRequest struct {
	Reason string `json:"reason"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Privileges  []string `json:"privileges"`
}

type updateRolePrivilegesRequest struct {
	Privileges []string `json:"privileges"`
}

func (a *API) handlePendingDoctors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePrivilege(w, r, account.PrivilegeApproveDoctors) {
		return
	}
	if a.caches != nil {
		pending, err := a.caches.PendingDoctors(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accounts": pending})
		return
	}
	pending, err := a.svc.PendingDoctorAccounts(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": pending})
}

// handleDoctorScoped routes /v1/admin/doctors/{id}/approve and
// /v1/admin/doctors/{id}/reject.
func (a *API) handleDoctorScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/doctors/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePrivilege(w, r, account.PrivilegeApproveDoctors) {
		return
	}
	accountID := parts[0]
	switch parts[1] {
	case "approve":
		acct, err := a.svc.ApproveDoctorAccount(r.Context(), accountID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	case "reject":
		var req rejectDoctorRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		acct, err := a.svc.RejectDoctorAccount(r.Context(), accountID, req.Reason)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleAccountScoped routes /v1/admin/accounts/{id} (DELETE, and GET by
// username) and /v1/admin/accounts/{id}/restore (POST).
func (a *API) handleAccountScoped(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePrivilege(w, r, account.PrivilegeManageAccounts) {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/accounts/"), "/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			// Lookup is by username so the read can go through the
			// accounts cache.
			a.getAccountByUsername(w, r, parts[0])
		case http.MethodDelete:
			if err := a.svc.DeleteAccount(r.Context(), parts[0]); err != nil {
				handleAuthError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case 2:
		if parts[1] != "restore" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if err := a.svc.RestoreAccount(r.Context(), parts[0]); err != nil {
			handleAuthError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getAccountByUsername(w http.ResponseWriter, r *http.Request, username string) {
	if a.caches != nil {
		acct, err := a.caches.AccountByUsername(r.Context(), username)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
		return
	}
	acct, err := a.svc.AccountByUsername(r.Context(), username)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePrivilege(w, r, account.PrivilegeManageRoles) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		if a.caches != nil {
			roles, err := a.caches.Roles(r.Context())
			if err != nil {
				handleAuthError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
			return
		}
		roles, err := a.svc.Roles(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.svc.CreateRole(r.Context(), req.Name, req.Description, req.Privileges)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRoleScoped routes /v1/admin/roles/{name}/privileges.
func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePrivilege(w, r, account.PrivilegeManageRoles) {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "privileges" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req updateRolePrivilegesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetRolePrivileges(r.Context(), parts[0], req.Privileges); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCaches(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePrivilege(w, r, account.PrivilegeManageCaches) {
		return
	}
	if a.caches == nil {
		writeError(w, r, http.StatusServiceUnavailable, "cache service unavailable")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	out := make([]map[string]any, 0)
	for _, name := range a.caches.Names() {
		size, _ := a.caches.Size(name)
		out = append(out, map[string]any{"name": name, "size": size})
	}
	writeJSON(w, http.StatusOK, map[string]any{"caches": out})
}

// handleCacheScoped routes /v1/admin/caches/warmup (POST) and
// /v1/admin/caches/{name} (DELETE).
func (a *API) handleCacheScoped(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePrivilege(w, r, account.PrivilegeManageCaches) {
		return
	}
	if a.caches == nil {
		writeError(w, r, http.StatusServiceUnavailable, "cache service unavailable")
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/caches/"), "/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if name == "warmup" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if err := a.caches.WarmUp(r.Context()); err != nil {
			writeError(w, r, http.StatusInternalServerError, "warm up failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "warmed"})
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.caches.Clear(name) {
		writeError(w, r, http.StatusNotFound, "unknown cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
