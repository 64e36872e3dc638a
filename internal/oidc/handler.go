package oidc

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/user/entity"
)

// Accounts is the part of the user service needed by the token endpoint.
type Accounts interface {
	AuthenticatePassword(ctx context.Context, identifier, password string) (*entity.MinimalAuthView, error)
	EnsureActive(ctx context.Context, id string) (*entity.MinimalAuthView, error)
}

type Handler struct {
	svc      *OIDCService
	accounts Accounts
	logger   *zap.SugaredLogger
}

func NewHandler(svc *OIDCService, accounts Accounts, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, accounts: accounts, logger: logger}
}

func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	issuer := h.svc.Issuer()
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":              issuer,
		"jwks_uri":            issuer + "/.well-known/jwks.json",
		"token_endpoint":      issuer + "/oauth/token",
		"userinfo_endpoint":   issuer + "/oauth/userinfo",
		"revocation_endpoint": issuer + "/oauth/revoke",
	})
}

func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.JWKS())
}

// Token supports the password and refresh_token grants. Accounts that are
// disabled or awaiting deletion cannot obtain new tokens.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	clientID := r.Form.Get("client_id")
	var view *entity.MinimalAuthView
	switch r.Form.Get("grant_type") {
	case "password":
		v, err := h.accounts.AuthenticatePassword(r.Context(), r.Form.Get("username"), r.Form.Get("password"))
		if err != nil {
			h.logger.Debugw("password grant refused", "err", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			return
		}
		view = v
	case "refresh_token":
		rt := r.Form.Get("refresh_token")
		if rt == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		session, err := h.svc.ValidateRefreshToken(r.Context(), rt)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			return
		}
		v, err := h.accounts.EnsureActive(r.Context(), session.UserID)
		if err != nil {
			h.logger.Debugw("refresh grant refused", "user_id", session.UserID, "err", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			return
		}
		// rotate: the old token must be gone before a new one is issued
		if err := h.svc.RevokeRefreshToken(r.Context(), rt); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			return
		}
		clientID = session.ClientID
		view = v
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	tokens, err := h.svc.IssueTokens(r.Context(), view, clientID)
	if err != nil {
		h.logger.Errorw("issue tokens", "user_id", view.ID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  tokens.AccessToken,
		"id_token":      tokens.IDToken,
		"refresh_token": tokens.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    tokens.ExpiresIn,
	})
}

// Userinfo requires Authenticate and RequireAuth in front of it.
func (h *Handler) Userinfo(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"sub": p.Subject, "user_type": p.UserType})
}

// Revoke implements RFC 7009 for refresh tokens. It answers 200 even if the
// token is unknown.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	token := r.Form.Get("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if err := h.svc.RevokeRefreshToken(r.Context(), token); err != nil {
		h.logger.Warnw("revoke refresh token", "err", err)
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
