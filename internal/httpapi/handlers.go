package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"opsconsole.dev/internal/audit"
	"opsconsole.dev/internal/auth"
	"opsconsole.dev/internal/obs"
	"opsconsole.dev/internal/resources"
)

const serviceName = "opsconsole"

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the HTTP layer.
type Options struct {
	Version      string
	CookieSecure bool
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
	Logger       *zap.Logger

	// TrustedProxies lists peers whose X-Forwarded-For header names the client.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	router       *mux.Router
	auth         *auth.Service
	resources    *resources.Service
	limiter      *RateLimiter
	logger       *zap.Logger
	version      string
	cookieSecure bool
	maxBodyBytes int64
	proxies      []netip.Prefix
}

// New builds the router. res may be nil, in which case the resource routes are not mounted.
func New(svc *auth.Service, res *resources.Service, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = obs.Logger()
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		router:       mux.NewRouter(),
		auth:         svc,
		resources:    res,
		limiter:      NewRateLimiter(opts.RateBurst, opts.RatePerSec),
		logger:       opts.Logger,
		version:      opts.Version,
		cookieSecure: opts.CookieSecure,
		maxBodyBytes: opts.MaxBodyBytes,
		proxies:      opts.TrustedProxies,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	r.Handle("/login", a.limiter.Wrap(http.HandlerFunc(a.handleLogin))).Methods(http.MethodPost)
	r.Handle("/register", a.limiter.Wrap(http.HandlerFunc(a.handleRegister))).Methods(http.MethodPost)
	r.Handle("/accept-invitation", a.limiter.Wrap(http.HandlerFunc(a.handleAcceptInvitation))).Methods(http.MethodPost)

	r.Handle("/logout", a.session(a.handleLogout)).Methods(http.MethodPost)
	r.Handle("/me", a.session(a.handleMe)).Methods(http.MethodGet)
	r.Handle("/preferences", a.session(a.handleGetPreferences)).Methods(http.MethodGet)
	r.Handle("/preferences", a.require(auth.PermPreferencesWrite, a.handlePutPreferences)).Methods(http.MethodPut)
	r.Handle("/log-action", a.require(auth.PermAuditWrite, a.handleLogAction)).Methods(http.MethodPost)

	r.Handle("/users", a.require(auth.PermUsersManage, a.handleListUsers)).Methods(http.MethodGet)
	r.Handle("/users/{id}", a.require(auth.PermUsersManage, a.handleDeleteUser)).Methods(http.MethodDelete)
	r.Handle("/users/{id}/role", a.require(auth.PermUsersManage, a.handleChangeRole)).Methods(http.MethodPut)
	r.Handle("/invite-user", a.require(auth.PermInvitationsManage, a.handleInvite)).Methods(http.MethodPost)
	r.Handle("/invitations", a.require(auth.PermInvitationsManage, a.handleListInvitations)).Methods(http.MethodGet)
	r.Handle("/invitations/{id}", a.require(auth.PermInvitationsManage, a.handleRevokeInvitation)).Methods(http.MethodDelete)
	r.Handle("/approval-requests", a.require(auth.PermApprovalsDecide, a.handleListApprovals)).Methods(http.MethodGet)
	r.Handle("/approval-requests/{id}", a.require(auth.PermApprovalsDecide, a.handleDecide)).Methods(http.MethodPost)
	r.Handle("/user-logs", a.require(auth.PermAuditRead, a.handleUserLogs)).Methods(http.MethodGet)

	if a.resources != nil {
		r.Handle("/resources/{region}/{kind}", a.require(auth.PermResourcesRead, a.handleListResources)).Methods(http.MethodGet)
		r.Handle("/resources/{region}/{kind}/actions", a.require(auth.PermResourcesOperate, a.handleResourceAction)).Methods(http.MethodPost)
	}
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.router)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(a.logger)(h)
	h = ClientIP(a.proxies)(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.Ping(r.Context()); err != nil {
		obs.SetReady(false)
		a.logger.Warn("readiness_failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if a.resources != nil {
		info["regions"] = a.resources.Regions()
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON reads exactly one JSON value. Unknown fields such as a client-supplied
// adminId are ignored; identity always comes from the session.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}

func parsePositiveInt(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	if v > max {
		v = max
	}
	return v, nil
}
