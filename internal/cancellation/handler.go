package cancellation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/cancellation/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/oidc"
)

// Handler exposes the self-service cancellation endpoints and the admin console.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// ConfirmRequest guards destructive actions.
type ConfirmRequest struct {
	Confirm bool `json:"confirm"`
}

// PendingListResponse is the admin console listing.
type PendingListResponse struct {
	Total   int                      `json:"total"`
	Summary string                   `json:"summary"`
	Items   []entity.PendingDeletion `json:"items"`
}

// Routes mounts self-service routes; callers add authentication in front.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/users/{id}/cancellation", h.GetRecord)
	r.Post("/users/{id}/cancellation", h.RequestCancellation)
}

// AdminRoutes mounts the admin console; callers restrict it to admins.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/pending-deletions", h.ListPending)
	r.Post("/users/{id}/cancel-deletion", h.CancelPendingDeletion)
	r.Post("/users/{id}/delete", h.ExecuteDeletion)
}

// allowed mirrors the access rule: the account owner or an admin.
func allowed(p *oidc.Principal, subjectID string) bool {
	return p != nil && (p.Subject == subjectID || p.IsAdmin())
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !allowed(oidc.PrincipalFrom(r.Context()), id) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}
	rec, err := h.svc.Record(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) RequestCancellation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := oidc.PrincipalFrom(r.Context())
	if !allowed(p, id) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}
	if !h.confirmed(w, r) {
		return
	}
	rec, err := h.svc.RequestCancellation(r.Context(), id, p.Subject)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListPending(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PendingListResponse{
		Total:   len(items),
		Summary: pendingSummary(len(items)),
		Items:   items,
	})
}

func pendingSummary(n int) string {
	switch n {
	case 0:
		return "No users are pending deletion."
	case 1:
		return "There is 1 user pending deletion."
	}
	return fmt.Sprintf("There are %d users pending deletion.", n)
}

func (h *Handler) CancelPendingDeletion(w http.ResponseWriter, r *http.Request) {
	if !h.confirmed(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := h.svc.CancelPendingDeletion(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	admin := ""
	if p := oidc.PrincipalFrom(r.Context()); p != nil {
		admin = p.Subject
	}
	h.logger.Infow("admin cancelled pending deletion", "subject_id", id, "admin_id", admin)
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ExecuteDeletion(w http.ResponseWriter, r *http.Request) {
	if !h.confirmed(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	report, err := h.svc.ExecuteDeletion(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Infow("admin forced deletion", "subject_id", id, "outcome", report.Outcome)
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) confirmed(w http.ResponseWriter, r *http.Request) bool {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid confirm payload", "err", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return false
	}
	if !req.Confirm {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "confirmation required"})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
	case errors.Is(err, ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "user is not pending deletion"})
	case errors.Is(err, ErrDependency):
		h.logger.Errorw("cancellation dependency failure", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
	default:
		h.logger.Errorw("cancellation request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
