package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vitacall/teleconsult/internal/consult"
	redisclient "github.com/vitacall/teleconsult/internal/redis"
)

// urlUUID parses a chi URL parameter as a UUID, writing a 400 on failure.
func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// handleCommandError maps service errors onto the HTTP taxonomy:
// permission violations are 403, unknown resources 404, guard conflicts
// 409. Stale commands never reach this path — the service resolves them
// to no-ops returning current state.
func handleCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consult.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied", err.Error())
	case errors.Is(err, consult.ErrScheduleNotFound):
		writeError(w, http.StatusNotFound, "schedule_not_found", err.Error())
	case errors.Is(err, consult.ErrQueueEntryNotFound):
		writeError(w, http.StatusNotFound, "queue_entry_not_found", err.Error())
	case errors.Is(err, consult.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "call_session_not_found", err.Error())
	case errors.Is(err, consult.ErrScheduleNotOnline):
		writeError(w, http.StatusConflict, "schedule_not_online", err.Error())
	case errors.Is(err, consult.ErrScheduleCompleted):
		writeError(w, http.StatusConflict, "schedule_completed", err.Error())
	case errors.Is(err, consult.ErrPatientNotReady):
		writeError(w, http.StatusConflict, "patient_not_ready", err.Error())
	case errors.Is(err, consult.ErrConsultationInProgress):
		writeError(w, http.StatusConflict, "consultation_in_progress", err.Error())
	case errors.Is(err, consult.ErrDuplicateSession):
		writeError(w, http.StatusConflict, "duplicate_session", err.Error())
	case errors.Is(err, consult.ErrAlreadyQueued):
		writeError(w, http.StatusConflict, "already_queued", err.Error())
	case errors.Is(err, consult.ErrCurrentlyInCall):
		writeError(w, http.StatusConflict, "currently_in_call", err.Error())
	case errors.Is(err, consult.ErrConsultationDone):
		writeError(w, http.StatusConflict, "consultation_done", err.Error())
	case errors.Is(err, consult.ErrInviteInFlight),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "invite_in_flight", "invite is currently being processed, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
