package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vitacall/teleconsult/internal/consult"
)

func listOpenSchedulesHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		today := time.Now().UTC().Format("2006-01-02")

		schedules, err := svc.OpenSchedules(r.Context(), today)
		if err != nil {
			handleCommandError(w, err)
			return
		}

		resp := make([]ScheduleResponse, 0, len(schedules))
		for i := range schedules {
			resp = append(resp, toScheduleResponse(&schedules[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func scheduleDetailHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		scheduleID, ok := urlUUID(w, r, "scheduleID")
		if !ok {
			return
		}

		detail, err := svc.ScheduleDetail(r.Context(), actor.ID, scheduleID)
		if err != nil {
			handleCommandError(w, err)
			return
		}

		resp := ScheduleDetailResponse{
			Schedule:     toScheduleResponse(&detail.Schedule),
			TotalInQueue: detail.TotalInQueue,
		}
		if detail.QueueEntry != nil {
			entry := toQueueEntryResponse(detail.QueueEntry)
			resp.QueueEntry = &entry
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func joinQueueHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		scheduleID, ok := urlUUID(w, r, "scheduleID")
		if !ok {
			return
		}

		entry, err := svc.JoinQueue(r.Context(), actor.ID, scheduleID)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toQueueEntryResponse(entry))
	}
}

func toggleReadyHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		scheduleID, ok := urlUUID(w, r, "scheduleID")
		if !ok {
			return
		}

		var req ToggleReadyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		entry, err := svc.ToggleReady(r.Context(), actor.ID, scheduleID, req.IsReady)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toQueueEntryResponse(entry))
	}
}

func pendingInvitationHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		pending, err := svc.PendingInvitation(r.Context(), actor.ID)
		if err != nil {
			handleCommandError(w, err)
			return
		}

		resp := PendingInvitationResponse{HasInvitation: pending.HasInvitation}
		if pending.HasInvitation {
			resp.CallSessionID = pending.CallSessionID.String()
			resp.ScheduleID = pending.ScheduleID.String()
			resp.DoctorID = pending.DoctorID.String()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
