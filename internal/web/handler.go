// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

// Package web exposes the auth service over HTTP with cookie sessions.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/oops"

	"github.com/patronly/patronly/internal/auth"
	"github.com/patronly/patronly/internal/observability"
)

// DefaultMaxBodyBytes caps credential request bodies.
const DefaultMaxBodyBytes = 1 << 20

// AuthService is the subset of auth.Service used by the handlers.
type AuthService interface {
	Signup(ctx context.Context, email, password string) (*auth.SessionGrant, error)
	Signin(ctx context.Context, email, password string) (*auth.SessionGrant, error)
	Signout(ctx context.Context, token string) error
	Validate(ctx context.Context, token string) (auth.AccountID, error)
	Me(ctx context.Context, token string) (*auth.Account, error)
	SessionTTL() time.Duration
}

// Handler serves the auth routes.
type Handler struct {
	svc          AuthService
	policy       auth.SessionCookiePolicy
	logger       *slog.Logger
	metrics      *observability.HTTPMetrics
	maxBodyBytes int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithCookiePolicy sets the session cookie attributes.
func WithCookiePolicy(p auth.SessionCookiePolicy) Option {
	return func(h *Handler) { h.policy = p }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records request counts and latency in m.
func WithMetrics(m *observability.HTTPMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithMaxBodyBytes limits request bodies. Non-positive values are ignored.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandler creates a Handler for svc.
func NewHandler(svc AuthService, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("WEB_HANDLER_INVALID").Errorf("auth service is required")
	}
	h := &Handler{
		svc:          svc,
		policy:       auth.DefaultCookiePolicy(false),
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Router returns the routes wrapped in the request middleware.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestID, h.recoverPanic, h.observe)

	r.HandleFunc("/auth/signup", h.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/auth/signin", h.handleSignin).Methods(http.MethodPost)
	r.HandleFunc("/auth/signout", h.handleSignout).Methods(http.MethodPost)
	r.HandleFunc("/auth/validate", h.handleValidate).Methods(http.MethodGet)
	r.HandleFunc("/users/me", h.handleMe).Methods(http.MethodGet)

	r.NotFoundHandler = h.requestID(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}))
	r.MethodNotAllowedHandler = h.requestID(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))
	return r
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type grantResponse struct {
	Message   string         `json:"message"`
	AccountID auth.AccountID `json:"account_id"`
	ExpiresAt time.Time      `json:"expires_at"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type validateResponse struct {
	Message   string         `json:"message"`
	AccountID auth.AccountID `json:"account_id"`
}

type meResponse struct {
	ID        auth.AccountID `json:"id"`
	Email     string         `json:"email"`
	CreatedAt time.Time      `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	grant, err := h.svc.Signup(r.Context(), creds.Email, creds.Password)
	if err != nil {
		h.writeServiceError(w, r, auth.OpSignup, err)
		return
	}

	http.SetCookie(w, h.policy.Issue(grant, h.svc.SessionTTL()))
	writeJSON(w, http.StatusCreated, grantResponse{
		Message:   "account created",
		AccountID: grant.AccountID,
		ExpiresAt: grant.ExpiresAt.UTC(),
	})
}

func (h *Handler) handleSignin(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	grant, err := h.svc.Signin(r.Context(), creds.Email, creds.Password)
	if err != nil {
		h.writeServiceError(w, r, auth.OpSignin, err)
		return
	}

	http.SetCookie(w, h.policy.Issue(grant, h.svc.SessionTTL()))
	writeJSON(w, http.StatusOK, grantResponse{
		Message:   "signed in",
		AccountID: grant.AccountID,
		ExpiresAt: grant.ExpiresAt.UTC(),
	})
}

func (h *Handler) handleSignout(w http.ResponseWriter, r *http.Request) {
	token, err := h.policy.TokenFromRequest(r)
	if err == nil {
		err = h.svc.Signout(r.Context(), token)
	}
	if err != nil {
		h.writeServiceError(w, r, auth.OpSignout, err)
		return
	}

	http.SetCookie(w, h.policy.Clear())
	writeJSON(w, http.StatusOK, messageResponse{Message: "signed out"})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	token, err := h.policy.TokenFromRequest(r)
	var accountID auth.AccountID
	if err == nil {
		accountID, err = h.svc.Validate(r.Context(), token)
	}
	if err != nil {
		h.writeServiceError(w, r, auth.OpValidate, err)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Message:   "session valid",
		AccountID: accountID,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	token, err := h.policy.TokenFromRequest(r)
	var account *auth.Account
	if err == nil {
		account, err = h.svc.Me(r.Context(), token)
	}
	if err != nil {
		h.writeServiceError(w, r, auth.OpMe, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:        account.ID,
		Email:     account.Email,
		CreatedAt: account.CreatedAt.UTC(),
	})
}

func (h *Handler) decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var creds credentials
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&creds); err != nil {
		h.logger.DebugContext(r.Context(), "rejected request body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return creds, false
	}
	return creds, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, msg := classify(err)
	h.logFailure(r, operation, status, err)

	if status == http.StatusUnauthorized && operation != auth.OpSignin {
		// The client's cookie is unusable; tell it to drop it.
		http.SetCookie(w, h.policy.Clear())
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away; nothing left to report to
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
