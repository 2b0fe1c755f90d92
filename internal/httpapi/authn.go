package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"clinicore.org/internal/account"
	"clinicore.org/internal/audit"
	"clinicore.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/register",
	"/v1/auth/password/forgot",
	"/v1/auth/password/reset",
	"/v1/registration/personal",
	"/v1/registration/professional",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

var publicPrefixes = []string{
	"/v1/registration/personal/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		// Paths only the catch-all pattern matches get the mux's not-found
		// response rather than a misleading 401.
		if _, pattern := a.mux.Handler(r); pattern == "/" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			case errors.Is(err, auth.ErrAccountLocked), errors.Is(err, auth.ErrAccountDeleted):
				writeError(w, r, http.StatusForbidden, "account disabled")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = audit.WithActor(ctx, principal.Account.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePrivilege guards admin handlers. It writes the error response itself
// and reports whether the request may proceed.
func (a *API) ensurePrivilege(w http.ResponseWriter, r *http.Request, priv account.Privilege) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !principal.HasPrivilege(priv) {
		writeError(w, r, http.StatusForbidden, "insufficient privileges")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
