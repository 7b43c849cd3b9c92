package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kinevo/sessiond/internal/engine"
	"github.com/kinevo/sessiond/internal/models"
	"github.com/kinevo/sessiond/internal/storage"
)

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkoutID uuid.UUID `json:"workout_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.WorkoutID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "workout_id required"})
		return
	}

	student, err := s.resolveStudent(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	snap, err := s.engine.Open(r.Context(), req.WorkoutID, *student)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	workoutID, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	snap, err := s.engine.Snapshot(workoutID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	workoutID, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	var req struct {
		ExerciseIndex int    `json:"exercise_index"`
		SetIndex      int    `json:"set_index"`
		Field         string `json:"field"`
		Value         string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	var field engine.Field
	switch req.Field {
	case "weight":
		field = engine.FieldWeight
	case "reps":
		field = engine.FieldReps
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "field must be weight or reps"})
		return
	}

	if err := s.engine.SetFieldValue(workoutID, req.ExerciseIndex, req.SetIndex, field, req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	slot, err := s.engine.SlotSnapshot(workoutID, req.ExerciseIndex)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (s *Server) handleToggleSet(w http.ResponseWriter, r *http.Request) {
	workoutID, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	var req struct {
		ExerciseIndex int `json:"exercise_index"`
		SetIndex      int `json:"set_index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	if err := s.engine.ToggleSet(workoutID, req.ExerciseIndex, req.SetIndex); err != nil {
		s.writeError(w, err)
		return
	}
	slot, err := s.engine.SlotSnapshot(workoutID, req.ExerciseIndex)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	workoutID, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	var req struct {
		RPE      *int    `json:"rpe,omitempty"`
		Feedback *string `json:"feedback,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	sessionID, err := s.engine.Finish(r.Context(), workoutID, req.RPE, req.Feedback)
	if err != nil {
		// Finish is the one awaited write; its failure surfaces.
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	workoutID, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	s.engine.Discard(workoutID)
	w.WriteHeader(http.StatusNoContent)
}

// handleFinishedCheck backs the phone's discard guard: it reports whether the
// companion device already finished the session the screen is about to throw
// away.
func (s *Server) handleFinishedCheck(w http.ResponseWriter, r *http.Request) {
	workoutID, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	snap, err := s.engine.Snapshot(workoutID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"finished": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"finished": s.rec.IsFinished(snap.SessionID)})
}

func (s *Server) handleProposeSubstitutes(w http.ResponseWriter, r *http.Request) {
	workoutID, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	exIdx, err := strconv.Atoi(r.URL.Query().Get("exercise"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "exercise parameter required"})
		return
	}

	slot, err := s.engine.SlotSnapshot(workoutID, exIdx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	options, err := s.subs.Propose(r.Context(), slot)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

func (s *Server) handleSearchSubstitutes(w http.ResponseWriter, r *http.Request) {
	workoutID, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	exIdx, err := strconv.Atoi(r.URL.Query().Get("exercise"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "exercise parameter required"})
		return
	}

	slot, err := s.engine.SlotSnapshot(workoutID, exIdx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	options, err := s.subs.Search(r.Context(), slot, r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	workoutID, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	var req struct {
		ExerciseIndex int                     `json:"exercise_index"`
		Substitute    models.SubstituteOption `json:"substitute"`
		Force         bool                    `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Substitute.ID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "substitute.id required"})
		return
	}

	student, err := s.engine.StudentFor(workoutID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	slot, err := s.engine.SlotSnapshot(workoutID, req.ExerciseIndex)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.subs.ApplySwap(r.Context(), student.ID, slot, req.Substitute, req.Force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if result.RequiresConfirmation {
		writeJSON(w, http.StatusOK, result)
		return
	}

	if err := s.engine.ReplaceSlot(workoutID, req.ExerciseIndex, result.Slot); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// resolveStudent maps the current identity to the student behind this device.
func (s *Server) resolveStudent(r *http.Request) (*models.Student, error) {
	authUserID, err := s.id.AuthUserID(r.Context())
	if err != nil {
		return nil, err
	}
	return s.db.GetStudentByAuthUser(r.Context(), authUserID)
}

func (s *Server) workoutID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "workoutID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid workout ID"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotLive),
		errors.Is(err, storage.ErrWorkoutNotFound),
		errors.Is(err, storage.ErrStudentNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		s.log.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
