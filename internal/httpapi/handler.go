// Package httpapi exposes the authentication flows over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	clinicauth "github.com/cliniccore/clinicauth"
)

// Handler serves the auth endpoints. Register it with Routes.
type Handler struct {
	engine *clinicauth.Engine
	logger *zap.Logger
}

// NewHandler wraps engine. A nil logger falls back to a no-op logger.
func NewHandler(engine *clinicauth.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, logger: logger}
}

// Routes returns a mux with every auth endpoint mounted under /auth.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("POST /auth/refresh", h.refresh)
	mux.HandleFunc("POST /auth/logout", h.logout)
	mux.HandleFunc("POST /auth/password-reset/request", h.requestReset)
	mux.HandleFunc("POST /auth/password-reset/redeem", h.redeemReset)
	return mux
}

type errorResponse struct {
	Error    string `json:"error"`
	UnlockAt string `json:"unlock_at,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RememberMe bool   `json:"remember_me"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.engine.Login(clientContext(r), req.Email, req.Password, req.RememberMe)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.engine.Refresh(clientContext(r), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	h.engine.Logout(clientContext(r), req.RefreshToken)
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) requestReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.RequestPasswordReset(clientContext(r), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	// Identical response for known and unknown emails.
	h.writeJSON(w, http.StatusAccepted, messageResponse{Message: "if the address is registered, a reset link has been sent"})
}

func (h *Handler) redeemReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.RedeemPasswordReset(clientContext(r), req.Token, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *clinicauth.AccountLockedError

	switch {
	case errors.As(err, &locked):
		h.writeJSON(w, http.StatusLocked, errorResponse{
			Error:    "account locked",
			UnlockAt: locked.UnlockAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	case errors.Is(err, clinicauth.ErrAccountLocked):
		h.writeJSON(w, http.StatusLocked, errorResponse{Error: "account locked"})
	case errors.Is(err, clinicauth.ErrAccountDisabled):
		h.writeJSON(w, http.StatusForbidden, errorResponse{Error: "account disabled"})
	case errors.Is(err, clinicauth.ErrAuthenticationFailed):
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
	case errors.Is(err, clinicauth.ErrTokenInvalid), errors.Is(err, clinicauth.ErrTokenExpired):
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid or expired token"})
	case errors.Is(err, clinicauth.ErrValidation):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("response not written", zap.Error(err))
	}
}

// clientContext copies the caller's IP and User-Agent onto the request
// context for session bookkeeping and audit events.
func clientContext(r *http.Request) context.Context {
	ctx := clinicauth.WithClientIP(r.Context(), clientIP(r))
	return clinicauth.WithUserAgent(ctx, r.UserAgent())
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
