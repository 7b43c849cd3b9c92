package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/kinevo/sessiond/internal/models"
)

func (s *Server) handleDeviceFinish(w http.ResponseWriter, r *http.Request) {
	var payload models.DeviceFinishPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if payload.WorkoutID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "workoutId required"})
		return
	}

	sessionID, err := s.rec.FinishFromDevice(r.Context(), payload)
	if err != nil {
		s.log.Error("device finish error", "workout", payload.WorkoutID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	// No session id means the finish was queued for later attribution, which
	// is a success from the relay's point of view.
	if sessionID == uuid.Nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"session_id": nil, "queued": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "queued": false})
}

func (s *Server) handleDeviceSet(w http.ResponseWriter, r *http.Request) {
	var ev models.DeviceSetEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if ev.WorkoutID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "workoutId required"})
		return
	}

	if err := s.rec.HandleSetEvent(r.Context(), ev); err != nil {
		s.log.Error("device set error", "workout", ev.WorkoutID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeviceReplay(w http.ResponseWriter, r *http.Request) {
	if err := s.rec.ReplayPending(r.Context()); err != nil {
		s.log.Error("pending replay error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
