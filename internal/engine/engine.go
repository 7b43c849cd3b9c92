package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kinevo/sessiond/internal/models"
	"github.com/kinevo/sessiond/internal/storage"
)

// ErrNotLive means no workout screen session is currently open for the
// requested workout.
var ErrNotLive = errors.New("no live session for workout")

// Store is the slice of the remote store the engine drives.
type Store interface {
	FindInProgressSession(ctx context.Context, workoutID, studentID uuid.UUID) (*models.WorkoutSession, error)
	CreateSession(ctx context.Context, s *models.WorkoutSession) (uuid.UUID, error)
	CompleteSession(ctx context.Context, sessionID uuid.UUID, completedAt time.Time, durationSeconds *int, rpe *int, feedback *string) error
	UpsertSetLog(ctx context.Context, row models.SetLogRow) error
	UpsertSetLogs(ctx context.Context, rows []models.SetLogRow) (int64, error)
	GetWorkout(ctx context.Context, workoutID uuid.UUID) (*models.Workout, error)
	GetPlanItems(ctx context.Context, workoutID uuid.UUID) ([]models.PlanItem, error)
	LastExerciseLoad(ctx context.Context, studentID, exerciseID uuid.UUID) (string, error)
}

// Notifier receives set-completion events, used to start rest timers.
type Notifier interface {
	SetCompleted(workoutID uuid.UUID, exerciseIndex, restSeconds int)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) SetCompleted(uuid.UUID, int, int) {}

// Snapshot is the read view of an active session handed to the UI.
type Snapshot struct {
	SessionID      uuid.UUID             `json:"session_id"`
	WorkoutID      uuid.UUID             `json:"workout_id"`
	WorkoutName    string                `json:"workout_name"`
	StartedAt      time.Time             `json:"started_at"`
	ElapsedSeconds int                   `json:"elapsed_seconds"`
	Exercises      []models.ExerciseSlot `json:"exercises"`
}

// activeSession pairs the tracker with the durable session it writes to.
// Its mutex serializes all mutations, keeping the tracker single-owner.
type activeSession struct {
	mu      sync.Mutex
	name    string
	session models.WorkoutSession
	tracker *Tracker
}

// Engine owns the live workout sessions and the persistence gateway between
// them and the remote store.
type Engine struct {
	store  Store
	queue  *writeBehind
	notify Notifier
	log    *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*activeSession // keyed by assigned workout id
}

// New creates an Engine and starts its write-behind worker.
func New(store Store, notify Notifier, log *slog.Logger) *Engine {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Engine{
		store:  store,
		queue:  newWriteBehind(store, log),
		notify: notify,
		log:    log,
		active: make(map[uuid.UUID]*activeSession),
	}
}

// Close drains the write-behind queue.
func (e *Engine) Close() {
	e.queue.Close()
}

func (e *Engine) lookup(workoutID uuid.UUID) (*activeSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.active[workoutID]
	if !ok {
		return nil, ErrNotLive
	}
	return s, nil
}

// Open starts (or resumes) tracking a workout for a student: loads the plan,
// ensures a durable in_progress session, and registers the live tracker.
// Opening an already-open workout returns the existing state.
func (e *Engine) Open(ctx context.Context, workoutID uuid.UUID, student models.Student) (*Snapshot, error) {
	if s, err := e.lookup(workoutID); err == nil {
		return e.snapshot(s), nil
	}

	workout, err := e.store.GetWorkout(ctx, workoutID)
	if err != nil {
		return nil, err
	}
	items, err := e.store.GetPlanItems(ctx, workoutID)
	if err != nil {
		return nil, fmt.Errorf("loading plan items: %w", err)
	}

	session, err := e.EnsureSession(ctx, workout, student)
	if err != nil {
		return nil, err
	}

	tracker := NewTracker(workoutID, items, session.StartedAt)
	for i, item := range items {
		load, err := e.store.LastExerciseLoad(ctx, student.ID, item.ExerciseID)
		if err != nil {
			e.log.Warn("previous load lookup failed", "exercise", item.ExerciseID, "error", err)
			continue
		}
		tracker.slots[i].PreviousLoad = load
	}

	active := &activeSession{name: workoutName(workout), session: *session, tracker: tracker}
	active.session.AssignedWorkoutID = workoutID

	e.mu.Lock()
	// A concurrent Open may have won; keep the first registration.
	if existing, ok := e.active[workoutID]; ok {
		e.mu.Unlock()
		return e.snapshot(existing), nil
	}
	e.active[workoutID] = active
	e.mu.Unlock()

	e.log.Info("workout session opened",
		"workout", workoutID, "session", session.ID, "student", student.ID)
	return e.snapshot(active), nil
}

func workoutName(w *models.Workout) string {
	if w.Name == "" {
		return "Workout"
	}
	return w.Name
}

// EnsureSession reuses the existing in_progress session for (workout,
// student) or creates one. The store's uniqueness constraint covers the
// lookup-then-create race: a duplicate insert means another writer won, so
// the session is re-read and reused.
func (e *Engine) EnsureSession(ctx context.Context, workout *models.Workout, student models.Student) (*models.WorkoutSession, error) {
	existing, err := e.store.FindInProgressSession(ctx, workout.ID, student.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	session := &models.WorkoutSession{
		StudentID:         student.ID,
		TrainerID:         student.TrainerID,
		AssignedWorkoutID: workout.ID,
		AssignedProgramID: workout.AssignedProgramID,
		Status:            models.StatusInProgress,
		StartedAt:         time.Now().UTC(),
	}
	if _, err := e.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, storage.ErrDuplicateSession) {
			winner, rerr := e.store.FindInProgressSession(ctx, workout.ID, student.ID)
			if rerr != nil {
				return nil, rerr
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}
	return session, nil
}

// SetFieldValue applies a weight/reps edit to the live tracker. Local only;
// persistence happens when the set completes.
func (e *Engine) SetFieldValue(workoutID uuid.UUID, exIdx, setIdx int, field Field, value string) error {
	s, err := e.lookup(workoutID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.SetFieldValue(exIdx, setIdx, field, value)
}

// ToggleSet flips a set's completion flag. The completing edge fires the
// rest-timer notification and an asynchronous persist; un-completing has no
// side effects.
func (e *Engine) ToggleSet(workoutID uuid.UUID, exIdx, setIdx int) error {
	s, err := e.lookup(workoutID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	completedNow, err := s.tracker.ToggleSet(exIdx, setIdx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	var slot models.ExerciseSlot
	var sessionID uuid.UUID
	if completedNow {
		slot, _ = s.tracker.Slot(exIdx)
		sessionID = s.session.ID
	}
	s.mu.Unlock()

	if completedNow {
		e.notify.SetCompleted(workoutID, exIdx, slot.RestSeconds)
		e.persistSet(sessionID, slot, setIdx)
	}
	return nil
}

// ApplyExternalCompletion merges a device-reported completion into the live
// tracker and persists it, reporting whether a live session handled it.
// Persistence runs even for an already-completed set so the remote row
// converges on the latest values.
func (e *Engine) ApplyExternalCompletion(workoutID uuid.UUID, exIdx, setIdx int, reps, weight *float64) bool {
	s, err := e.lookup(workoutID)
	if err != nil {
		return false
	}

	s.mu.Lock()
	if err := s.tracker.ApplyExternalCompletion(exIdx, setIdx, reps, weight); err != nil {
		s.mu.Unlock()
		e.log.Warn("device completion out of range",
			"workout", workoutID, "exercise", exIdx, "set", setIdx, "error", err)
		return true // live, but the event referenced a slot that does not exist
	}
	slot, _ := s.tracker.Slot(exIdx)
	sessionID := s.session.ID
	s.mu.Unlock()

	e.persistSet(sessionID, slot, setIdx)
	return true
}

// persistSet enqueues one set for idempotent persistence. No-op without a
// session id or for an incomplete set.
func (e *Engine) persistSet(sessionID uuid.UUID, slot models.ExerciseSlot, setIdx int) {
	if sessionID == uuid.Nil || setIdx >= len(slot.SetsData) || !slot.SetsData[setIdx].Completed {
		return
	}
	e.queue.Enqueue(buildSetLog(sessionID, slot, setIdx, time.Now().UTC()))
}

// buildSetLog converts tracked text values to the numeric persisted form.
func buildSetLog(sessionID uuid.UUID, slot models.ExerciseSlot, setIdx int, now time.Time) models.SetLogRow {
	set := slot.SetsData[setIdx]
	return models.SetLogRow{
		WorkoutSessionID:      sessionID,
		AssignedWorkoutItemID: slot.PlanItemID,
		PlannedExerciseID:     slot.PlannedExerciseID,
		ExecutedExerciseID:    slot.ExerciseID,
		SwapSource:            slot.SwapSource,
		SetNumber:             setIdx + 1,
		Weight:                models.ParseWeight(set.Weight),
		RepsCompleted:         models.ParseReps(set.Reps),
		IsCompleted:           set.Completed,
		CompletedAt:           now,
		WeightUnit:            "kg",
	}
}

// Finish transitions the session to completed and runs the catch-up sweep,
// re-upserting every completed set so earlier fire-and-forget losses are
// recaptured. This is the one operation whose error the caller awaits.
func (e *Engine) Finish(ctx context.Context, workoutID uuid.UUID, rpe *int, feedback *string) (uuid.UUID, error) {
	s, err := e.lookup(workoutID)
	if err != nil {
		return uuid.Nil, err
	}

	now := time.Now().UTC()

	s.mu.Lock()
	sessionID := s.session.ID
	duration := int(s.tracker.Elapsed(now).Seconds())
	slots := s.tracker.Slots()
	s.mu.Unlock()

	if err := e.store.CompleteSession(ctx, sessionID, now, &duration, rpe, feedback); err != nil {
		return uuid.Nil, fmt.Errorf("completing session: %w", err)
	}

	// Catch-up sweep: finish is the convergence point. One batch upsert covers
	// every completed set, recapturing anything the fire-and-forget path lost.
	var rows []models.SetLogRow
	for _, slot := range slots {
		for i, set := range slot.SetsData {
			if !set.Completed {
				continue
			}
			rows = append(rows, buildSetLog(sessionID, slot, i, now))
		}
	}
	if len(rows) > 0 {
		if _, err := e.store.UpsertSetLogs(ctx, rows); err != nil {
			e.log.Warn("catch-up sweep upsert failed",
				"session", sessionID, "sets", len(rows), "error", err)
		}
	}

	e.mu.Lock()
	delete(e.active, workoutID)
	e.mu.Unlock()

	e.log.Info("workout session finished",
		"workout", workoutID, "session", sessionID, "duration_seconds", duration)
	return sessionID, nil
}

// Discard drops the live tracker without touching the remote session.
func (e *Engine) Discard(workoutID uuid.UUID) {
	e.mu.Lock()
	delete(e.active, workoutID)
	e.mu.Unlock()
}

// SlotSnapshot returns a copy of one live slot, for swap proposals.
func (e *Engine) SlotSnapshot(workoutID uuid.UUID, exIdx int) (models.ExerciseSlot, error) {
	s, err := e.lookup(workoutID)
	if err != nil {
		return models.ExerciseSlot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Slot(exIdx)
}

// ReplaceSlot installs a swapped slot produced by the substitution resolver.
func (e *Engine) ReplaceSlot(workoutID uuid.UUID, exIdx int, slot models.ExerciseSlot) error {
	s, err := e.lookup(workoutID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.ReplaceSlot(exIdx, slot)
}

// StudentFor reports the student owning the live session, for callers that
// need to scope store lookups.
func (e *Engine) StudentFor(workoutID uuid.UUID) (models.Student, error) {
	s, err := e.lookup(workoutID)
	if err != nil {
		return models.Student{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Student{ID: s.session.StudentID, TrainerID: s.session.TrainerID}, nil
}

// Snapshot returns the live state of an open workout.
func (e *Engine) Snapshot(workoutID uuid.UUID) (*Snapshot, error) {
	s, err := e.lookup(workoutID)
	if err != nil {
		return nil, err
	}
	return e.snapshot(s), nil
}

func (e *Engine) snapshot(s *activeSession) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Snapshot{
		SessionID:      s.session.ID,
		WorkoutID:      s.session.AssignedWorkoutID,
		WorkoutName:    s.name,
		StartedAt:      s.tracker.StartedAt(),
		ElapsedSeconds: int(s.tracker.Elapsed(time.Now().UTC()).Seconds()),
		Exercises:      s.tracker.Slots(),
	}
}
