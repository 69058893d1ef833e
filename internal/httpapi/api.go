package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"taskhive.org/internal/auth"
	"taskhive.org/internal/config"
	"taskhive.org/internal/obs"
	"taskhive.org/internal/push"
	"taskhive.org/internal/todo"
)

// ReadyProbe reports whether the service can take traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer: session guard, JSON handlers, websocket
// endpoint, health and metrics surfaces.
type API struct {
	mux        *http.ServeMux
	svc        *todo.Service
	registry   *push.Registry
	codec      *auth.Codec
	cfg        config.Config
	readyProbe ReadyProbe
	version    string
}

func New(svc *todo.Service, registry *push.Registry, codec *auth.Codec, cfg config.Config, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		registry:   registry,
		codec:      codec,
		cfg:        cfg,
		readyProbe: rp,
		version:    version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/api/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session
	a.mux.HandleFunc("/api/v1/auth/login/code", a.handleLoginCode)
	a.mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/v1/auth/logout", a.handleLogout)

	// account
	a.mux.HandleFunc("/api/v1/users/me", a.handleMe)

	// todos; ServeMux picks the longest registered prefix, so invites
	// and the websocket endpoint win over the todo resource pattern.
	a.mux.HandleFunc("/api/v1/todos", a.handleTodosCollection)
	a.mux.HandleFunc("/api/v1/todos/", a.handleTodoResource)
	a.mux.HandleFunc("/api/v1/todos/invites", a.handleInvitesCollection)
	a.mux.HandleFunc("/api/v1/todos/invites/", a.handleInviteAction)
	a.mux.HandleFunc("/api/v1/todos/ws", a.handleWS)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withSession(h)
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	h = RateLimit(h, a.cfg.RateBurst, a.cfg.RatePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "taskhive-api",
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
		"name":    "taskhive-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
