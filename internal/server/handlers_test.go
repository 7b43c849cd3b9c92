package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kinevo/sessiond/internal/engine"
	"github.com/kinevo/sessiond/internal/models"
	"github.com/kinevo/sessiond/internal/reconcile"
	"github.com/kinevo/sessiond/internal/substitute"
)

// fakeBackend implements the store slices the engine, reconciler, and
// substitution resolver consume, so handler tests run against the full router
// without Postgres.
type fakeBackend struct {
	student models.Student
	workout *models.Workout
	items   []models.PlanItem

	inProgress *models.WorkoutSession
	created    []*models.WorkoutSession
	completed  []uuid.UUID
	upserts    []models.SetLogRow
}

func (f *fakeBackend) FindInProgressSession(_ context.Context, _, _ uuid.UUID) (*models.WorkoutSession, error) {
	return f.inProgress, nil
}

func (f *fakeBackend) FindRecentCompletedSession(_ context.Context, _, _ uuid.UUID, _ time.Time) (*models.WorkoutSession, error) {
	return nil, nil
}

func (f *fakeBackend) CreateSession(_ context.Context, s *models.WorkoutSession) (uuid.UUID, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	f.created = append(f.created, s)
	if s.Status == models.StatusInProgress {
		f.inProgress = s
	}
	return s.ID, nil
}

func (f *fakeBackend) CompleteSession(_ context.Context, sessionID uuid.UUID, _ time.Time, _ *int, _ *int, _ *string) error {
	f.completed = append(f.completed, sessionID)
	if f.inProgress != nil && f.inProgress.ID == sessionID {
		f.inProgress = nil
	}
	return nil
}

func (f *fakeBackend) UpsertSetLog(_ context.Context, row models.SetLogRow) error {
	f.upserts = append(f.upserts, row)
	return nil
}

func (f *fakeBackend) UpsertSetLogs(_ context.Context, rows []models.SetLogRow) (int64, error) {
	f.upserts = append(f.upserts, rows...)
	return int64(len(rows)), nil
}

func (f *fakeBackend) GetWorkout(_ context.Context, _ uuid.UUID) (*models.Workout, error) {
	return f.workout, nil
}

func (f *fakeBackend) GetPlanItems(_ context.Context, _ uuid.UUID) ([]models.PlanItem, error) {
	return f.items, nil
}

func (f *fakeBackend) ResolvePlanItems(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	out := make(map[uuid.UUID]uuid.UUID)
	for _, item := range f.items {
		out[item.ID] = item.ExerciseID
	}
	return out, nil
}

func (f *fakeBackend) GetStudentByAuthUser(_ context.Context, _ uuid.UUID) (*models.Student, error) {
	s := f.student
	return &s, nil
}

func (f *fakeBackend) LastExerciseLoad(_ context.Context, _, _ uuid.UUID) (string, error) {
	return "", nil
}

func (f *fakeBackend) GetExercise(_ context.Context, id uuid.UUID) (*models.Exercise, error) {
	return &models.Exercise{ID: id, Name: "Dips"}, nil
}

func (f *fakeBackend) ExercisesByIDs(_ context.Context, _ []uuid.UUID, _ models.SubstituteSource) ([]models.SubstituteOption, error) {
	return nil, nil
}

func (f *fakeBackend) SmartSubstitutes(_ context.Context, _ uuid.UUID, _ int) ([]models.SubstituteOption, error) {
	return []models.SubstituteOption{{ID: uuid.New(), Name: "Dips"}}, nil
}

func (f *fakeBackend) SearchExercises(_ context.Context, _ string, _ uuid.UUID, _ int) ([]models.SubstituteOption, error) {
	return nil, nil
}

type fakeIdentity struct{ userID uuid.UUID }

func (f *fakeIdentity) Refresh(_ context.Context) error                 { return nil }
func (f *fakeIdentity) AuthUserID(_ context.Context) (uuid.UUID, error) { return f.userID, nil }

type memQueue struct{ list []models.PendingFinish }

func (q *memQueue) Load() ([]models.PendingFinish, error)  { return q.list, nil }
func (q *memQueue) Save(l []models.PendingFinish) error    { q.list = l; return nil }
func (q *memQueue) Append(f models.PendingFinish) error    { q.list = append(q.list, f); return nil }

const testAPIKey = "test-device-key"

func newTestServer(t *testing.T) (*Server, *fakeBackend, uuid.UUID) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := &fakeBackend{
		student: models.Student{ID: uuid.New(), TrainerID: uuid.New()},
		workout: &models.Workout{ID: uuid.New(), Name: "Push Day", AssignedProgramID: uuid.New()},
	}
	backend.items = []models.PlanItem{
		{ID: uuid.New(), ExerciseID: uuid.New(), ExerciseName: "Bench Press", Sets: 3, Reps: "10", RestSeconds: 90},
	}

	eng := engine.New(backend, nil, log)
	t.Cleanup(eng.Close)
	id := &fakeIdentity{userID: uuid.New()}
	rec := reconcile.New(backend, id, eng, &memQueue{}, log)
	subs := substitute.New(backend)

	s := New(nil, eng, rec, subs, id, testAPIKey, log)
	return s, backend, backend.workout.ID
}

func openSession(t *testing.T, s *Server, workoutID uuid.UUID, backend *fakeBackend) {
	t.Helper()
	if _, err := s.engine.Open(context.Background(), workoutID, backend.student); err != nil {
		t.Fatalf("opening session: %v", err)
	}
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

// TestSnapshotRoute verifies the live state round-trips through the router.
func TestSnapshotRoute(t *testing.T) {
	s, backend, workoutID := newTestServer(t)
	openSession(t, s, workoutID, backend)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/sessions/"+workoutID.String(), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var snap engine.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if snap.WorkoutName != "Push Day" {
		t.Errorf("workout name = %q, want Push Day", snap.WorkoutName)
	}
	if len(snap.Exercises) != 1 {
		t.Errorf("exercises = %d, want 1", len(snap.Exercises))
	}
}

// TestSnapshotNotLive verifies an unknown workout returns 404.
func TestSnapshotNotLive(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// TestSetValueRoute verifies a weight edit waterfalls and returns the slot.
func TestSetValueRoute(t *testing.T) {
	s, backend, workoutID := newTestServer(t)
	openSession(t, s, workoutID, backend)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/sessions/"+workoutID.String()+"/sets/value",
		map[string]any{"exercise_index": 0, "set_index": 0, "field": "weight", "value": "60"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var slot models.ExerciseSlot
	if err := json.NewDecoder(rec.Body).Decode(&slot); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	for i, set := range slot.SetsData {
		if set.Weight != "60" {
			t.Errorf("set %d weight = %q, want 60 (waterfall)", i, set.Weight)
		}
	}
}

// TestSetValueBadField verifies an unknown field is a 400.
func TestSetValueBadField(t *testing.T) {
	s, backend, workoutID := newTestServer(t)
	openSession(t, s, workoutID, backend)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/sessions/"+workoutID.String()+"/sets/value",
		map[string]any{"exercise_index": 0, "set_index": 0, "field": "tempo", "value": "3"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// TestFinishRoute verifies finish returns the session id and completes it.
func TestFinishRoute(t *testing.T) {
	s, backend, workoutID := newTestServer(t)
	openSession(t, s, workoutID, backend)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/sessions/"+workoutID.String()+"/finish",
		map[string]any{"rpe": 8}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var out struct {
		SessionID uuid.UUID `json:"session_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.SessionID == uuid.Nil {
		t.Error("expected a session id")
	}
	if len(backend.completed) != 1 {
		t.Errorf("completed sessions = %d, want 1", len(backend.completed))
	}
}

// TestFinishedCheckRoute verifies the discard guard reports a device finish.
func TestFinishedCheckRoute(t *testing.T) {
	s, backend, workoutID := newTestServer(t)
	openSession(t, s, workoutID, backend)

	check := func(want bool) {
		t.Helper()
		rec := doJSON(t, s, http.MethodGet, "/api/v1/sessions/"+workoutID.String()+"/finished", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var out struct {
			Finished bool `json:"finished"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		if out.Finished != want {
			t.Errorf("finished = %v, want %v", out.Finished, want)
		}
	}

	check(false)

	// The device finishes the same workout behind the screen's back: the
	// reconciler finds the in_progress session and closes it out.
	snap, err := s.engine.Snapshot(workoutID)
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, s, http.MethodPost, "/api/v1/device/finish",
		models.DeviceFinishPayload{WorkoutID: workoutID, RPE: 7},
		map[string]string{"X-API-Key": testAPIKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("device finish status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var out struct {
		SessionID uuid.UUID `json:"session_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.SessionID != snap.SessionID {
		t.Fatalf("device finish session = %s, want the screen's %s", out.SessionID, snap.SessionID)
	}

	check(true)
}

// TestSwapRoute verifies the swap flow: confirmation refusal, then force.
func TestSwapRoute(t *testing.T) {
	s, backend, workoutID := newTestServer(t)
	openSession(t, s, workoutID, backend)

	// Complete a set so the swap needs confirmation.
	doJSON(t, s, http.MethodPost, "/api/v1/sessions/"+workoutID.String()+"/sets/toggle",
		map[string]any{"exercise_index": 0, "set_index": 0}, nil)

	target := uuid.New()
	body := map[string]any{
		"exercise_index": 0,
		"substitute":     map[string]any{"id": target, "source": "auto"},
		"force":          false,
	}
	rec := doJSON(t, s, http.MethodPost, "/api/v1/sessions/"+workoutID.String()+"/swap", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var result substitute.SwapResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if !result.RequiresConfirmation {
		t.Fatal("expected confirmation-required result")
	}

	body["force"] = true
	rec = doJSON(t, s, http.MethodPost, "/api/v1/sessions/"+workoutID.String()+"/swap", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.RequiresConfirmation {
		t.Fatal("force should not require confirmation")
	}
	if result.Slot.Name != "Dips" {
		t.Errorf("slot name = %q, want Dips", result.Slot.Name)
	}

	// The live tracker picked up the swap.
	snap, err := s.engine.Snapshot(workoutID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Exercises[0].Name != "Dips" {
		t.Errorf("live slot name = %q, want Dips", snap.Exercises[0].Name)
	}
	for i, set := range snap.Exercises[0].SetsData {
		if set.Completed {
			t.Errorf("set %d still completed after swap reset", i)
		}
	}
}

// TestDeviceRoutesRequireKey verifies ingest routes reject unauthenticated
// requests.
func TestDeviceRoutesRequireKey(t *testing.T) {
	s, _, workoutID := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/device/finish",
		models.DeviceFinishPayload{WorkoutID: workoutID}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// TestDeviceSetRoute verifies a set event lands in the store when no screen
// session is live.
func TestDeviceSetRoute(t *testing.T) {
	s, backend, workoutID := newTestServer(t)

	reps, weight := 8.0, 55.0
	rec := doJSON(t, s, http.MethodPost, "/api/v1/device/set",
		models.DeviceSetEvent{WorkoutID: workoutID, ExerciseIndex: 0, SetIndex: 0, Reps: &reps, Weight: &weight},
		map[string]string{"X-API-Key": testAPIKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if len(backend.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(backend.upserts))
	}
	if backend.upserts[0].Weight != 55 || backend.upserts[0].RepsCompleted != 8 {
		t.Errorf("row = %+v, want 55x8", backend.upserts[0])
	}
}

