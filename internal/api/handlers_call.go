package api

import (
	"encoding/json"
	"net/http"

	"github.com/vitacall/teleconsult/internal/consult"
)

func getCallSessionHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		sessionID, ok := urlUUID(w, r, "sessionID")
		if !ok {
			return
		}

		sess, err := svc.GetCallSession(r.Context(), actor.ID, sessionID)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCallSessionResponse(sess))
	}
}

func confirmHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		sessionID, ok := urlUUID(w, r, "sessionID")
		if !ok {
			return
		}

		sess, err := svc.Confirm(r.Context(), actor.ID, sessionID)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCallSessionResponse(sess))
	}
}

func declineHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		sessionID, ok := urlUUID(w, r, "sessionID")
		if !ok {
			return
		}

		sess, err := svc.Decline(r.Context(), actor.ID, sessionID)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCallSessionResponse(sess))
	}
}

func setPeerAddressHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		sessionID, ok := urlUUID(w, r, "sessionID")
		if !ok {
			return
		}

		var req SetPeerAddressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Address == "" {
			writeError(w, http.StatusBadRequest, "missing_address", "address is required")
			return
		}

		sess, err := svc.SetPeerAddress(r.Context(), actor.ID, sessionID, req.Address)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCallSessionResponse(sess))
	}
}

func activateHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		sessionID, ok := urlUUID(w, r, "sessionID")
		if !ok {
			return
		}

		sess, err := svc.Activate(r.Context(), actor.ID, sessionID)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCallSessionResponse(sess))
	}
}

func endHandler(svc *consult.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		sessionID, ok := urlUUID(w, r, "sessionID")
		if !ok {
			return
		}

		sess, err := svc.End(r.Context(), actor.ID, sessionID)
		if err != nil {
			handleCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCallSessionResponse(sess))
	}
}
