package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-portal/pkg/audit"
	"github.com/tendant/simple-portal/pkg/config"
	"github.com/tendant/simple-portal/pkg/errors"
	"github.com/tendant/simple-portal/pkg/permission"
)

// Handler serves the audit log endpoints.
type Handler struct {
	service *audit.Service
	gate    *permission.Gate
	cfg     config.AuditConfig
}

// NewHandler creates a new audit handler
func NewHandler(service *audit.Service, gate *permission.Gate, cfg config.AuditConfig) *Handler {
	return &Handler{
		service: service,
		gate:    gate,
		cfg:     cfg,
	}
}

// RegisterRoutes registers the audit routes. Each route checks its own capability.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(h.gate.Require(permission.CapAuditRead)).Get("/statistics", h.GetStatistics)
	r.With(h.gate.Require(permission.CapAuditRead)).Get("/logs", h.ListLogs)
	r.With(h.gate.Require(permission.CapAuditClear)).Post("/clear", h.ClearLogs)
}

// GetStatistics handles GET /audit/statistics
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	p, _ := permission.FromContext(r.Context())

	stats, err := h.service.GetStatistics(r.Context())
	if err != nil {
		errors.WriteJSON(w, r, err)
		return
	}

	h.service.LogSecurity(r.Context(), audit.Event{
		Action:      audit.ActionAuditStatisticsViewed,
		ActorID:     p.UserID,
		ActorEmail:  p.Email,
		ActorName:   p.Name,
		Description: "audit statistics viewed",
		Severity:    audit.SeverityLow,
	})

	render.JSON(w, r, stats)
}

// ListLogs handles GET /audit/logs
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := audit.ListFilter{ActorID: q.Get("actor_id")}
	for _, a := range splitQuery(q["action"]) {
		filter.Actions = append(filter.Actions, audit.Action(strings.ToUpper(a)))
	}
	for _, s := range splitQuery(q["severity"]) {
		filter.Severities = append(filter.Severities, audit.Severity(strings.ToLower(s)))
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
	pageSize, err := parseInt(q.Get("page_size"), "page_size", h.cfg.DefaultPageSize)
	if err != nil {
		errors.WriteJSON(w, r, err)
		return
	}
	if pageSize > h.cfg.MaxPageSize {
		pageSize = h.cfg.MaxPageSize
	}

	result, err := h.service.List(r.Context(), filter, page, pageSize)
	if err != nil {
		errors.WriteJSON(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// ClearRequest is the body of POST /audit/clear.
type ClearRequest struct {
	Confirm string `json:"confirm"`
}

// ClearResponse reports a completed clear.
type ClearResponse struct {
	Message  string `json:"message"`
	Removed  int64  `json:"removed"`
	MarkerID string `json:"marker_id"`
}

// ClearLogs handles POST /audit/clear
func (h *Handler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	p, _ := permission.FromContext(r.Context())

	var req ClearRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			errors.WriteJSON(w, r, errors.InvalidInput("body", "malformed JSON"))
			return
		}
	}

	result, err := h.service.ClearLogs(r.Context(), audit.Actor{
		ID:    p.UserID,
		Email: p.Email,
		Name:  p.Name,
	}, req.Confirm)
	if err != nil {
		errors.WriteJSON(w, r, err)
		return
	}

	slog.Info("Audit logs cleared via API", "principal", p, "removed", result.Removed)
	render.JSON(w, r, ClearResponse{
		Message:  "audit logs cleared",
		Removed:  result.Removed,
		MarkerID: result.MarkerID.String(),
	})
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
