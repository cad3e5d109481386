package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/pressfleet/pressfleet/internal/errors"
	"github.com/pressfleet/pressfleet/pkg/auditlog"
	"github.com/pressfleet/pressfleet/pkg/orchestrator"
	"github.com/pressfleet/pressfleet/pkg/scheduler"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": s.deps.Version,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.deps.Version})
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Service.Catalog().List())
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.OperationID == "" {
		apperrors.BadRequest(w, "operation_id is required")
		return
	}
	if err := req.Selector.Validate(); err != nil {
		apperrors.BadRequest(w, err.Error())
		return
	}
	req.Trigger = orchestrator.TriggerManual

	view, err := s.deps.Service.CreateBatch(req)
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Service.Snapshot())
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Service.GetBatch(chi.URLParam(r, "batchID"))
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleConfirmBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Service.Confirm(chi.URLParam(r, "batchID"))
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRejectBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Service.Reject(chi.URLParam(r, "batchID"))
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Service.CancelBatch(chi.URLParam(r, "batchID"))
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Service.GetTask(chi.URLParam(r, "taskID"))
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Service.CancelTask(chi.URLParam(r, "taskID"))
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotPayload(s.deps.Service))
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var sched scheduler.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		apperrors.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	view, err := s.deps.Scheduler.Create(sched)
	if err != nil {
		var conflict *scheduler.ConflictError
		if errors.As(err, &conflict) {
			apperrors.Respond(w, err)
			return
		}
		apperrors.BadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.List())
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Scheduler.Get(chi.URLParam(r, "scheduleID"))
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Scheduler.Pause(chi.URLParam(r, "scheduleID"))
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Scheduler.Resume(chi.URLParam(r, "scheduleID"))
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scheduler.Delete(chi.URLParam(r, "scheduleID")); err != nil {
		apperrors.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		apperrors.Write(w, http.StatusServiceUnavailable, apperrors.CodeServiceUnavailable,
			"audit store not configured")
		return
	}

	q := auditlog.Query{
		BatchID:     r.URL.Query().Get("batch_id"),
		SiteID:      r.URL.Query().Get("site_id"),
		OperationID: r.URL.Query().Get("operation_id"),
		State:       orchestrator.TaskState(r.URL.Query().Get("state")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			apperrors.BadRequest(w, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			apperrors.BadRequest(w, "since must be RFC3339")
			return
		}
		q.Since = since
	}

	entries, err := s.deps.Audit.List(r.Context(), q)
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	if entries == nil {
		entries = []auditlog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
