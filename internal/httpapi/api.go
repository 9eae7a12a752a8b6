// Package httpapi is the thin HTTP surface over the auth engine:
// login, refresh, logout, and permission-gated endpoints carrying
// bearer tokens.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"monitordb.io/internal/alert"
	"monitordb.io/internal/auth"
	"monitordb.io/internal/obs"
)

// ReadyProbe pings the backing store for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	readyProbe ReadyProbe
	version    string
	alerts     *alert.Stream

	loginRatePerSecond int
	loginRateBurst     int
}

// Option configures the API.
type Option func(*API)

// WithLoginRate bounds login attempts per client IP.
func WithLoginRate(perSecond, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.loginRatePerSecond = perSecond
			a.loginRateBurst = burst
		}
	}
}

func New(svc *auth.Service, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		version:    version,

		loginRatePerSecond: 5,
		loginRateBurst:     10,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/v1/auth/login", RateLimit(http.HandlerFunc(a.Login), a.loginRateBurst, a.loginRatePerSecond))
	a.mux.HandleFunc("/v1/auth/refresh", a.Refresh)
	a.mux.HandleFunc("/v1/auth/logout", a.Logout)

	a.mux.Handle("/v1/auth/me", a.requireAuth("", http.HandlerFunc(a.Me)))
	a.mux.Handle("/v1/auth/check", a.requireAuthFunc(a.Check))
	a.mux.Handle("/v1/auth/password", a.requireAuth("", http.HandlerFunc(a.ChangePassword)))
	a.mux.Handle("/v1/auth/users", a.requireAuth(auth.PermAdminUsers, http.HandlerFunc(a.CreateUser)))
	a.mux.Handle("/v1/auth/revoke-all", a.requireAuth(auth.PermAdminUsers, http.HandlerFunc(a.RevokeAll)))
	a.mux.Handle("/v1/auth/events", a.requireAuth(auth.PermMonitoringAlerts, http.HandlerFunc(a.Events)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(Logging(MaxBodyBytes(a.mux, 1<<20)))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "monitordb-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (a *API) tokenResponse(pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(a.svc.AccessTTL().Seconds()),
	}
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pair, err := a.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.tokenResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pair, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.tokenResponse(pair))
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		a.respondAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":    claims.Subject,
		"role":        claims.Role,
		"permissions": a.svc.Evaluator().Permissions(auth.Role(claims.Role)),
		"expires_at":  claims.ExpiresAt.Time,
	})
}

type checkRequest struct {
	Permission string `json:"permission"`
}

// Check answers whether the bearer may perform the named action.
func (a *API) Check(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Permission) == "" {
		respondError(w, http.StatusBadRequest, "permission is required")
		return
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if _, err := a.svc.Authorize(r.Context(), token, req.Permission); err != nil {
		a.respondAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.svc.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		a.respondAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identity, err := a.svc.CreateIdentity(r.Context(), req.Username, req.Password, auth.Role(req.Role))
	if err != nil {
		a.respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       identity.ID,
		"username": identity.Username,
		"role":     identity.Role,
	})
}

type revokeAllRequest struct {
	Username string `json:"username"`
}

func (a *API) RevokeAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req revokeAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		respondError(w, http.StatusBadRequest, "username is required")
		return
	}
	if err := a.svc.RevokeAll(r.Context(), req.Username); err != nil {
		a.respondAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondAuthError maps engine errors to HTTP statuses. Credential
// failures stay uniform so responses never hint whether the username
// exists.
func (a *API) respondAuthError(w http.ResponseWriter, err error) {
	var locked *auth.AccountLockedError
	var weak *auth.WeakPasswordError
	switch {
	case errors.As(err, &locked):
		retry := int64(locked.RetryAfter.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
		respondError(w, http.StatusLocked, "account temporarily locked")
	case errors.As(err, &weak):
		respondError(w, http.StatusBadRequest, weak.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid username or password")
	case errors.Is(err, auth.ErrAccountInactive):
		respondError(w, http.StatusForbidden, "account inactive")
	case errors.Is(err, auth.ErrInsufficientPermission):
		respondError(w, http.StatusForbidden, "insufficient permission")
	case errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrMalformedToken),
		errors.Is(err, auth.ErrWrongTokenKind),
		errors.Is(err, auth.ErrRevokedToken):
		respondError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "username already in use")
	case errors.Is(err, auth.ErrUnknownRole):
		respondError(w, http.StatusBadRequest, "unknown role")
	case errors.Is(err, auth.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
