package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/vitacall/teleconsult/internal/consult"
)

func listDoctorSchedulesHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		schedules, err := svc.SchedulesByDoctor(r.Context(), actor.ID)
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

func createScheduleHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		var req CreateScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Date == "" || req.StartTime == "" || req.EndTime == "" {
			writeError(w, http.StatusBadRequest, "missing_fields", "date, startTime and endTime are required")
			return
		}

		sched, err := svc.CreateSchedule(r.Context(), actor.ID, req.Date, req.StartTime, req.EndTime)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toScheduleResponse(sched))
	}
}

func startPracticeHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		scheduleID, ok := urlUUID(w, r, "scheduleID")
		if !ok {
			return
		}

		sched, err := svc.StartPractice(r.Context(), actor.ID, scheduleID)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toScheduleResponse(sched))
	}
}

func endPracticeHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		scheduleID, ok := urlUUID(w, r, "scheduleID")
		if !ok {
			return
		}

		sched, err := svc.EndPractice(r.Context(), actor.ID, scheduleID)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toScheduleResponse(sched))
	}
}

func queueHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		scheduleID, ok := urlUUID(w, r, "scheduleID")
		if !ok {
			return
		}

		queue, err := svc.Queue(r.Context(), actor.ID, scheduleID)
		if err != nil {
			handleCommandError(w, err)
			return
		}

		resp := make([]QueueEntryResponse, 0, len(queue))
		for i := range queue {
			resp = append(resp, toQueueEntryResponse(&queue[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func inviteHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		scheduleID, ok := urlUUID(w, r, "scheduleID")
		if !ok {
			return
		}

		var req InviteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
			return
		}

		sess, err := svc.Invite(r.Context(), actor.ID, scheduleID, patientID)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toCallSessionResponse(sess))
	}
}

func requeueHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		scheduleID, ok := urlUUID(w, r, "scheduleID")
		if !ok {
			return
		}
		patientID, ok := urlUUID(w, r, "patientID")
		if !ok {
			return
		}

		entry, err := svc.RequeuePatient(r.Context(), actor.ID, scheduleID, patientID)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toQueueEntryResponse(entry))
	}
}
