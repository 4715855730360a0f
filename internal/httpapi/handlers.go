// Package httpapi is the terminal-local daemon surface the register UI
// talks to: login, PIN login, store selection, access checks, session
// lifecycle. It binds the session manager, store binder and authorization
// guard behind a small JSON API.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"storekeep.dev/internal/access"
	"storekeep.dev/internal/activity"
	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/broadcast"
	"storekeep.dev/internal/obs"
	"storekeep.dev/internal/provider/jwtlocal"
	"storekeep.dev/internal/session"
	"storekeep.dev/internal/storectx"
)

// ReadyProbe checks backing-store readiness. Nil DB means the daemon runs
// against the in-memory directory and is always ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries the API's collaborators.
type Deps struct {
	Directory backend.Directory
	Provider  *jwtlocal.Local
	Sessions  *session.Manager
	Binder    *storectx.Binder
	Guard     *access.Guard
	Monitor   *activity.Monitor
	Bus       *broadcast.Bus
	Probe     ReadyProbe
	Logger    *zap.Logger
	Version   string
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	dir     backend.Directory
	prov    *jwtlocal.Local
	sess    *session.Manager
	binder  *storectx.Binder
	guard   *access.Guard
	monitor *activity.Monitor
	bus     *broadcast.Bus
	probe   ReadyProbe
	log     *zap.Logger
	version string

	rateBurst  int
	ratePerSec int
}

func New(d Deps) *API {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	a := &API{
		mux:        http.NewServeMux(),
		dir:        d.Directory,
		prov:       d.Provider,
		sess:       d.Sessions,
		binder:     d.Binder,
		guard:      d.Guard,
		monitor:    d.Monitor,
		bus:        d.Bus,
		probe:      d.Probe,
		log:        d.Logger,
		version:    d.Version,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// auth + session lifecycle
	a.mux.HandleFunc("/v1/auth/login", a.handleAccountLogin)
	a.mux.HandleFunc("/v1/auth/pin", a.handlePinLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/session", a.handleSession)
	a.mux.HandleFunc("/v1/activity", a.handleActivity)

	// store context
	a.mux.HandleFunc("/v1/stores", a.handleStores)
	a.mux.HandleFunc("/v1/stores/select", a.handleStoreSelect)

	// authorization
	a.mux.HandleFunc("/v1/access/pages/", a.handlePageAccess)
	a.mux.HandleFunc("/v1/access/permissions/", a.handlePermissionLookup)
	a.mux.HandleFunc("/v1/access/check", a.handlePermissionCheck)
	a.mux.HandleFunc("/v1/access/state", a.handleAccessState)

	// session/store change events for the UI
	a.mux.HandleFunc("/v1/events", a.Stream)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withSession(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = Logging(a.log, h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "storekeep-agent",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
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
		"name":    "storekeep-agent",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// detachedCtx backs async work that must outlive the triggering request.
func (a *API) detachedCtx() context.Context {
	return context.Background()
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
