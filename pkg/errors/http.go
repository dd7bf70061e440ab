package errors

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// ErrorResponse is the JSON body written for every failed request.
type ErrorResponse struct {
	Error         string                 `json:"error"`
	Code          ErrorCode              `json:"code"`
	Details       map[string]interface{} `json:"details,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// WriteJSON renders err as an ErrorResponse with the mapped status code.
// Internal errors are logged with full detail and rendered with a generic
// message; the request id is returned so operators can find the log line.
func WriteJSON(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	var e *Error
	if !errors.As(err, &e) {
		e = InternalWrap(err, "unexpected error")
	}

	status := e.HTTPStatusCode()
	resp := ErrorResponse{
		Error:   e.Message,
		Code:    e.Code,
		Details: e.Details,
	}

	if status >= http.StatusInternalServerError {
		reqID := middleware.GetReqID(r.Context())
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "request_id", reqID, "err", err)
		resp.Error = http.StatusText(http.StatusInternalServerError)
		resp.Code = ErrCodeInternal
		resp.Details = nil
		resp.CorrelationID = reqID
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}
