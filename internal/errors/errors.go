// Package errors defines the JSON error envelope shared by every HTTP
// endpoint and the mapping from domain errors to HTTP status codes.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pressfleet/pressfleet/pkg/catalog"
	"github.com/pressfleet/pressfleet/pkg/fleet"
	"github.com/pressfleet/pressfleet/pkg/orchestrator"
	"github.com/pressfleet/pressfleet/pkg/scheduler"
)

// Error codes returned in the envelope.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPErrorResponse is the envelope for every error body.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError carries the machine-readable code and human-readable message.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Write emits the envelope with the given status.
func Write(w http.ResponseWriter, status int, code, message string) {
	WriteWithRequestID(w, status, code, message, "")
}

// WriteWithRequestID emits the envelope including a request correlation id.
func WriteWithRequestID(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: HTTPError{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	}})
}

// NotFoundHandler is the chi NotFound handler.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	Write(w, http.StatusNotFound, CodeNotFound, "resource not found: "+r.URL.Path)
}

// MethodNotAllowedHandler is the chi MethodNotAllowed handler.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	Write(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed: "+r.Method)
}

// Respond maps a domain error onto the envelope. Unknown errors become 500s.
func Respond(w http.ResponseWriter, err error) {
	status, code := classify(err)
	Write(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	var (
		catalogNF    *catalog.NotFoundError
		siteNF       *fleet.NotFoundError
		batchNF      *orchestrator.BatchNotFoundError
		taskNF       *orchestrator.TaskNotFoundError
		scheduleNF   *scheduler.NotFoundError
		conflict     *scheduler.ConflictError
		transition   *orchestrator.InvalidTransitionError
		batchState   *orchestrator.BatchStateError
	)
	switch {
	case errors.As(err, &catalogNF),
		errors.As(err, &siteNF),
		errors.As(err, &batchNF),
		errors.As(err, &taskNF),
		errors.As(err, &scheduleNF):
		return http.StatusNotFound, CodeNotFound
	case errors.As(err, &conflict),
		errors.As(err, &transition),
		errors.As(err, &batchState):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, orchestrator.ErrShutdown):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// BadRequest emits a 400 with the BAD_REQUEST code.
func BadRequest(w http.ResponseWriter, message string) {
	Write(w, http.StatusBadRequest, CodeBadRequest, message)
}
