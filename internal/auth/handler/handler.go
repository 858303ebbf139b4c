// Package handler exposes the authentication service over HTTP.
package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"authgate/internal/auth/models"
	"authgate/internal/auth/oauth"
	"authgate/internal/auth/service"
	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/platform/httputil"
	authmw "authgate/pkg/platform/middleware/auth"
	"authgate/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service is the slice of the auth service the HTTP layer depends on.
type Service interface {
	Register(ctx context.Context, in service.RegisterInput) (*models.User, error)
	VerifyEmail(ctx context.Context, token string) error
	Login(ctx context.Context, email, password string) (models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	CurrentUser(ctx context.Context, userID int64) (*models.User, error)
	OAuthLoginURL(state string) (string, error)
	HandleOAuthCallback(ctx context.Context, code string) (*service.CallbackResult, error)
	UnlinkProvider(ctx context.Context, userID int64, provider string) error
}

// Config carries the cookie settings.
type Config struct {
	RefreshCookieName string
	CookieSecure      bool
	RefreshTTL        time.Duration
}

const (
	refreshCookiePath = "/api/v1/auth"
	stateCookieName   = "oauth_state"
	stateCookiePath   = "/api/v1/auth/google"
	stateCookieTTL    = 10 * time.Minute
)

type Handler struct {
	svc       Service
	validator authmw.AccessTokenValidator
	logger    *slog.Logger
	cfg       Config
}

func New(svc Service, validator authmw.AccessTokenValidator, logger *slog.Logger, cfg Config) *Handler {
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = "refresh_token"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, logger: logger, cfg: cfg}
}

// Register mounts the routes on r. Paths are relative to /api/v1.
func (h *Handler) Register(r chi.Router) {
	r.Post("/users/register", h.handleRegister)
	r.Get("/auth/verify-email", h.handleVerifyEmail)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/refresh", h.handleRefresh)
	r.Post("/auth/logout", h.handleLogout)
	r.Get("/auth/google/login", h.handleGoogleLogin)
	r.Get("/auth/google/callback", h.handleGoogleCallback)

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(h.validator, h.logger))
		r.Get("/users/me", h.handleMe)
		r.Delete("/users/me/links/{provider}", h.handleUnlink)
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req registerRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	u, err := h.svc.Register(ctx, req.input())
	if err != nil {
		h.logFailure(ctx, "registration failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok := r.URL.Query().Get("token")
	if tok == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "token is required"))
		return
	}
	if err := h.svc.VerifyEmail(ctx, tok); err != nil {
		h.logFailure(ctx, "email verification failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, messageResponse{Message: "email verified"})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "email and password are required"))
		return
	}

	pair, err := h.svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.logFailure(ctx, "login failed", err)
		httputil.WriteError(w, err)
		return
	}
	h.writeSession(w, pair)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	refresh, ok := h.refreshCookie(r)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "refresh token is missing"))
		return
	}

	pair, err := h.svc.Refresh(ctx, refresh)
	if err != nil {
		h.logFailure(ctx, "token refresh failed", err)
		h.clearRefreshCookie(w)
		httputil.WriteError(w, err)
		return
	}
	h.writeSession(w, pair)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	refresh, ok := h.refreshCookie(r)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "refresh token is missing"))
		return
	}
	if err := h.svc.Logout(ctx, refresh); err != nil {
		h.logFailure(ctx, "logout failed", err)
		httputil.WriteError(w, err)
		return
	}
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requestcontext.UserID(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "user id missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	u, err := h.svc.CurrentUser(ctx, userID)
	if err != nil {
		h.logFailure(ctx, "current user lookup failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleUnlink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requestcontext.UserID(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	provider := chi.URLParam(r, "provider")
	if err := h.svc.UnlinkProvider(ctx, userID, provider); err != nil {
		h.logFailure(ctx, "unlink failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := oauth.NewState()
	target, err := h.svc.OAuthLoginURL(state)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     stateCookiePath,
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if denied := q.Get("error"); denied != "" {
		h.logger.WarnContext(ctx, "provider returned an error",
			"error", denied,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "authorization was not granted"))
		return
	}
	code := q.Get("code")
	if code == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "authorization code is required"))
		return
	}
	if !h.stateMatches(r, q.Get("state")) {
		h.logger.WarnContext(ctx, "oauth state mismatch",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "state parameter does not match"))
		return
	}
	h.clearCookie(w, stateCookieName, stateCookiePath)

	res, err := h.svc.HandleOAuthCallback(ctx, code)
	if err != nil {
		h.logFailure(ctx, "oauth callback failed", err)
		httputil.WriteError(w, err)
		return
	}
	h.writeSession(w, res.Tokens)
}

func (h *Handler) stateMatches(r *http.Request, state string) bool {
	c, err := r.Cookie(stateCookieName)
	if err != nil || c.Value == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) == 1
}

func (h *Handler) writeSession(w http.ResponseWriter, pair models.TokenPair) {
	maxAge := pair.RefreshExpiresIn
	if maxAge <= 0 {
		maxAge = h.cfg.RefreshTTL
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    pair.RefreshToken,
		Path:     refreshCookiePath,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (h *Handler) refreshCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	h.clearCookie(w, h.cfg.RefreshCookieName, refreshCookiePath)
}

func (h *Handler) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// logFailure logs client errors at WARN and everything else at ERROR.
func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	args := []any{
		"error", err,
		"code", string(dErrors.CodeOf(err)),
		"request_id", requestcontext.RequestID(ctx),
	}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, args...)
		return
	}
	h.logger.WarnContext(ctx, msg, args...)
}
