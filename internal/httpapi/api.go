// Package httpapi exposes the identity service over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"mdscloud.org/identity/internal/identity"
	"mdscloud.org/identity/internal/obs"
)

const serviceName = "mds-identity"

// ReadyProbe checks backing-store availability for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the tunables the API layer needs from configuration.
type Options struct {
	RateLimitBurst     int
	RateLimitPerSecond int
	MaxBodyBytes       int64
}

func (o *Options) applyDefaults() {
	if o.RateLimitBurst <= 0 {
		o.RateLimitBurst = 20
	}
	if o.RateLimitPerSecond <= 0 {
		o.RateLimitPerSecond = 10
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
}

// API is the HTTP layer over the identity service.
type API struct {
	mux        *http.ServeMux
	svc        *identity.Service
	readyProbe ReadyProbe
	version    string
	opts       Options
}

// New wires all routes.
func New(svc *identity.Service, rp ReadyProbe, version string, opts Options) *API {
	opts.applyDefaults()
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		version:    version,
		opts:       opts,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/authenticate", a.handleAuthenticate)
	a.mux.HandleFunc("/v1/publicSignature", a.handlePublicSignature)
	a.mux.HandleFunc("/v1/register", a.handleRegister)
	a.mux.HandleFunc("/v1/updateUser", a.handleUpdateUser)
	a.mux.Handle("/v1/impersonate",
		RequireRole(identity.RoleImpersonator)(http.HandlerFunc(a.handleImpersonate)))
	a.mux.Handle("/v1/configuration",
		RequireRole(identity.RoleSystemAccount)(http.HandlerFunc(a.handleConfiguration)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateLimitBurst, a.opts.RateLimitPerSecond)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
