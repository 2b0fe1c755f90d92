package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"clinicore.org/internal/auth"
	"clinicore.org/internal/cache"
	"clinicore.org/internal/obs"
)

const serviceName = "clinicore-api"

// ReadyProbe reports readiness, typically a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth service and the cache collaborator.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	caches     *cache.Service
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec int
}

func New(svc *auth.Service, caches *cache.Service, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		caches:     caches,
		readyProbe: rp,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/auth/password/forgot", a.handlePasswordForgot)
	a.mux.HandleFunc("/v1/auth/password/reset", a.handlePasswordReset)
	a.mux.HandleFunc("/v1/auth/password/change", a.handlePasswordChange)

	// two-step doctor registration
	a.mux.HandleFunc("/v1/registration/personal", a.handlePersonalInfo)
	a.mux.HandleFunc("/v1/registration/personal/", a.handlePersonalInfoByCard)
	a.mux.HandleFunc("/v1/registration/professional", a.handleProfessionalInfo)

	// admin
	a.mux.HandleFunc("/v1/admin/doctors/pending", a.handlePendingDoctors)
	a.mux.HandleFunc("/v1/admin/doctors/", a.handleDoctorScoped)
	a.mux.HandleFunc("/v1/admin/accounts/", a.handleAccountScoped)
	a.mux.HandleFunc("/v1/admin/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/admin/roles/", a.handleRoleScoped)
	a.mux.HandleFunc("/v1/admin/caches", a.handleCaches)
	a.mux.HandleFunc("/v1/admin/caches/", a.handleCacheScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- health handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
