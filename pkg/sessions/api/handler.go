package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-portal/pkg/audit"
	"github.com/tendant/simple-portal/pkg/errors"
	"github.com/tendant/simple-portal/pkg/permission"
	"github.com/tendant/simple-portal/pkg/sessions"
)

// Handler serves the caller's own tracker state.
type Handler struct {
	tracker sessions.Tracker
	audit   *audit.Service
	now     func() time.Time
}

// NewHandler creates a new session handler
func NewHandler(tracker sessions.Tracker, auditService *audit.Service) *Handler {
	return &Handler{
		tracker: tracker,
		audit:   auditService,
		now:     time.Now,
	}
}

// RegisterRoutes registers the session routes. Mount them under a route
// group that resolves the principal.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.GetMySession)
	r.Post("/logout", h.Logout)
}

// SessionResponse is the body of GET /sessions/me.
type SessionResponse struct {
	sessions.Record
	Status      sessions.Status `json:"status"`
	IdleSeconds int64           `json:"idle_seconds"`
}

// GetMySession handles GET /sessions/me
func (h *Handler) GetMySession(w http.ResponseWriter, r *http.Request) {
	p, ok := permission.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, r, errors.Unauthorized("authentication required"))
		return
	}

	rec, found, err := h.tracker.GetSession(r.Context(), p.UserID)
	if err != nil {
		errors.WriteJSON(w, r, errors.InternalWrap(err, "failed to read session"))
		return
	}
	if !found {
		errors.WriteJSON(w, r, errors.NotFound("session", p.UserID))
		return
	}

	render.JSON(w, r, SessionResponse{
		Record:      rec,
		Status:      rec.Status(),
		IdleSeconds: int64(rec.IdleFor(h.now()).Seconds()),
	})
}

// Logout handles POST /sessions/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := permission.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, r, errors.Unauthorized("authentication required"))
		return
	}

	if err := h.tracker.InvalidateSession(r.Context(), p.UserID); err != nil {
		errors.WriteJSON(w, r, errors.InternalWrap(err, "failed to invalidate session"))
		return
	}

	h.audit.LogSecurity(r.Context(), audit.Event{
		Action:      audit.ActionLogout,
		ActorID:     p.UserID,
		ActorEmail:  p.Email,
		ActorName:   p.Name,
		Description: "signed out",
		Severity:    audit.SeverityLow,
	})

	slog.Info("Session invalidated", "user_id", p.UserID)
	render.JSON(w, r, map[string]string{
		"message": "Session invalidated successfully",
	})
}
