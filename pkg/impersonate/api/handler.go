package api

import (
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/tendant/simple-portal/pkg/errors"
	"github.com/tendant/simple-portal/pkg/impersonate"
	"github.com/tendant/simple-portal/pkg/permission"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Handler serves the impersonation endpoints.
type Handler struct {
	service *impersonate.Service
	gate    *permission.Gate
	now     func() time.Time
}

// NewHandler creates a new impersonation handler
func NewHandler(service *impersonate.Service, gate *permission.Gate) *Handler {
	return &Handler{
		service: service,
		gate:    gate,
		now:     time.Now,
	}
}

// RegisterRoutes registers the impersonation routes. Extra middleware, such
// as a rate limiter, wraps the mutating routes only.
func (h *Handler) RegisterRoutes(r chi.Router, mutating ...func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(permission.CapImpersonate))
		r.With(mutating...).Post("/", h.StartImpersonation)
		r.With(mutating...).Post("/end", h.EndImpersonation)
		r.Get("/active", h.ListActive)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(permission.CapImpersonateView))
		r.Get("/", h.ListHistory)
		r.Get("/{id}", h.GetSession)
	})
}

// StartRequest is the body of POST /impersonations.
type StartRequest struct {
	TargetClientID  string `json:"target_client_id" validate:"required,max=255"`
	Reason          string `json:"reason" validate:"required,max=1000"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
}

// EndRequest is the body of POST /impersonations/end.
type EndRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	Reason    string `json:"reason,omitempty" validate:"max=1000"`
}

// SessionResponse is the wire form of a session.
type SessionResponse struct {
	ID               uuid.UUID  `json:"id"`
	AdminID          string     `json:"admin_id"`
	AdminEmail       string     `json:"admin_email,omitempty"`
	TargetClientID   string     `json:"target_client_id"`
	Reason           string     `json:"reason"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	EndedBy          string     `json:"ended_by,omitempty"`
	EndReason        string     `json:"end_reason,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
}

// EndResponse is the termination summary.
type EndResponse struct {
	Message string          `json:"message"`
	Session SessionResponse `json:"session"`
}

// ActiveResponse lists the caller's active sessions.
type ActiveResponse struct {
	Sessions  []SessionResponse   `json:"sessions"`
	Summary   impersonate.Summary `json:"summary"`
	CleanedUp int                 `json:"cleaned_up"`
}

// HistoryResponse is one page of history.
type HistoryResponse struct {
	Sessions []SessionResponse   `json:"sessions"`
	Summary  impersonate.Summary `json:"summary"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

func (h *Handler) toResponse(s impersonate.Session) SessionResponse {
	var resp SessionResponse
	if err := copier.Copy(&resp, &s); err != nil {
		slog.Error("Failed to map session", "session_id", s.ID, "err", err)
	}
	if s.IsActive() {
		resp.RemainingSeconds = int64(s.Remaining(h.now()).Seconds())
	}
	return resp
}

func (h *Handler) toResponses(list []impersonate.Session) []SessionResponse {
	out := make([]SessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, h.toResponse(s))
	}
	return out
}

// StartImpersonation handles POST /impersonations
func (h *Handler) StartImpersonation(w http.ResponseWriter, r *http.Request) {
	p, _ := permission.FromContext(r.Context())

	var req StartRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.WriteJSON(w, r, err)
		return
	}
	if err := validateStruct(req); err != nil {
		errors.WriteJSON(w, r, err)
		return
	}

	duration := h.service.Config().DefaultDurationMinutes
	if req.DurationMinutes != nil {
		duration = *req.DurationMinutes
	}

	session, err := h.service.Start(r.Context(), impersonate.StartRequest{
		AdminID:         p.UserID,
		AdminEmail:      p.Email,
		TargetClientID:  req.TargetClientID,
		Reason:          req.Reason,
		DurationMinutes: duration,
	})
	if err != nil {
		errors.WriteJSON(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.toResponse(session))
}

// EndImpersonation handles POST /impersonations/end
func (h *Handler) EndImpersonation(w http.ResponseWriter, r *http.Request) {
	p, _ := permission.FromContext(r.Context())

	var req EndRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.WriteJSON(w, r, err)
		return
	}
	if err := validateStruct(req); err != nil {
		errors.WriteJSON(w, r, err)
		return
	}

	result, err := h.service.End(r.Context(), impersonate.EndRequest{
		SessionID:    uuid.MustParse(req.SessionID),
		EndedBy:      p.UserID,
		EndedByEmail: p.Email,
		Reason:       req.Reason,
	})
	if err != nil {
		errors.WriteJSON(w, r, err)
		return
	}

	render.JSON(w, r, EndResponse{
		Message: result.Message,
		Session: h.toResponse(result.Session),
	})
}

// ListActive handles GET /impersonations/active. It sweeps expired sessions
// first and reports how many it closed.
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	p, _ := permission.FromContext(r.Context())

	cleaned, err := h.service.CleanupExpiredSessions(r.Context())
	if err != nil {
		slog.Error("Opportunistic sweep failed", "err", err)
	}

	view, err := h.service.ListActive(r.Context(), p.UserID)
	if err != nil {
		errors.WriteJSON(w, r, err)
		return
	}

	render.JSON(w, r, ActiveResponse{
		Sessions:  h.toResponses(view.Sessions),
		Summary:   view.Summary,
		CleanedUp: cleaned,
	})
}

// ListHistory handles GET /impersonations
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := impersonate.HistoryFilter{
		AdminID:        q.Get("admin_id"),
		TargetClientID: q.Get("target_client_id"),
	}
	for _, s := range splitQuery(q["status"]) {
		filter.Statuses = append(filter.Statuses, impersonate.Status(strings.ToLower(s)))
	}

	var err error
	if filter.From, err = parseTime(q.Get("from"), "from"); err != nil {
		errors.WriteJSON(w, r, err)
		return
	}
	if filter.To, err = parseTime(q.Get("to"), "to"); err != nil {
		errors.WriteJSON(w, r, err)
		return
	}
	page, err := parseInt(q.Get("page"), "page", 1)
	if err != nil {
		errors.WriteJSON(w, r, err)
		return
	}
	pageSize, err := parseInt(q.Get("page_size"), "page_size", defaultPageSize)
	if err != nil {
		errors.WriteJSON(w, r, err)
		return
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	result, err := h.service.History(r.Context(), filter, page, pageSize)
	if err != nil {
		errors.WriteJSON(w, r, err)
		return
	}

	render.JSON(w, r, HistoryResponse{
		Sessions: h.toResponses(result.Sessions),
		Summary:  result.Summary,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

// GetSession handles GET /impersonations/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errors.WriteJSON(w, r, errors.InvalidInput("id", "must be a valid UUID"))
		return
	}

	session, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		errors.WriteJSON(w, r, err)
		return
	}
	render.JSON(w, r, h.toResponse(session))
}

// decodeJSON treats an empty body as an empty object so that missing fields
// are reported by validation.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := render.DecodeJSON(r.Body, v); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.InvalidInput("body", "malformed JSON")
	}
	return nil
}

func splitQuery(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseTime(value, field string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, errors.InvalidInput(field, "must be an RFC3339 timestamp")
	}
	return &t, nil
}

func parseInt(value, field string, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, errors.InvalidInput(field, "must be a positive integer")
	}
	return n, nil
}
