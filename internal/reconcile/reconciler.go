// Package reconcile merges completion signals from the companion device with
// whatever the phone screen already did, deciding per finish event whether to
// update, reuse, or create the session row.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kinevo/sessiond/internal/identity"
	"github.com/kinevo/sessiond/internal/models"
	"github.com/kinevo/sessiond/internal/storage"
)

// DedupWindow is how far back a completed session still swallows a second
// finish signal for the same (workout, student). A heuristic, not a
// guarantee: a genuinely new attempt inside the window is attributed to the
// old session.
const DedupWindow = 5 * time.Minute

// finishedTTL bounds how long the discard guard can observe a finish.
const finishedTTL = 30 * time.Second

// Store is the slice of the remote store the reconciler writes through.
type Store interface {
	GetStudentByAuthUser(ctx context.Context, authUserID uuid.UUID) (*models.Student, error)
	GetWorkout(ctx context.Context, workoutID uuid.UUID) (*models.Workout, error)
	GetPlanItems(ctx context.Context, workoutID uuid.UUID) ([]models.PlanItem, error)
	ResolvePlanItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
	FindInProgressSession(ctx context.Context, workoutID, studentID uuid.UUID) (*models.WorkoutSession, error)
	FindRecentCompletedSession(ctx context.Context, workoutID, studentID uuid.UUID, since time.Time) (*models.WorkoutSession, error)
	CreateSession(ctx context.Context, s *models.WorkoutSession) (uuid.UUID, error)
	CompleteSession(ctx context.Context, sessionID uuid.UUID, completedAt time.Time, durationSeconds *int, rpe *int, feedback *string) error
	UpsertSetLog(ctx context.Context, row models.SetLogRow) error
	UpsertSetLogs(ctx context.Context, rows []models.SetLogRow) (int64, error)
}

// LiveSessions is the phone-screen side: a device set event is handed to the
// live tracker when one exists, so both surfaces converge on the same state.
type LiveSessions interface {
	ApplyExternalCompletion(workoutID uuid.UUID, exIdx, setIdx int, reps, weight *float64) bool
}

// PendingQueue buffers finishes that could not be attributed to an identity.
type PendingQueue interface {
	Load() ([]models.PendingFinish, error)
	Save(list []models.PendingFinish) error
	Append(f models.PendingFinish) error
}

// Reconciler applies companion-device events against the remote store.
type Reconciler struct {
	store    Store
	id       identity.Provider
	live     LiveSessions
	queue    PendingQueue
	log      *slog.Logger
	finished *finishedCache

	// queueMu serializes every queue mutation. The replay pass rewrites the
	// list as a whole, so an Append landing between its Load and Save would be
	// erased by the rewrite.
	queueMu sync.Mutex
}

// New creates a Reconciler.
func New(store Store, id identity.Provider, live LiveSessions, queue PendingQueue, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		id:       id,
		live:     live,
		queue:    queue,
		log:      log,
		finished: newFinishedCache(finishedTTL, 256),
	}
}

// IsFinished reports whether the session finished recently, for the phone
// screen's discard guard.
func (r *Reconciler) IsFinished(sessionID uuid.UUID) bool {
	return r.finished.IsFinished(sessionID)
}

// FinishFromDevice applies a whole-workout finish reported by the companion
// device. The token is refreshed first (a long workout can outlast a token;
// refresh failure is tolerated). An unresolvable identity routes the payload
// to the offline queue and returns uuid.Nil with no error.
func (r *Reconciler) FinishFromDevice(ctx context.Context, payload models.DeviceFinishPayload) (uuid.UUID, error) {
	if err := r.id.Refresh(ctx); err != nil {
		r.log.Warn("token refresh failed, proceeding", "error", err)
	}

	authUserID, err := r.id.AuthUserID(ctx)
	if err != nil {
		r.log.Warn("identity unresolvable, queueing finish",
			"workout", payload.WorkoutID, "error", err)
		r.queueMu.Lock()
		qerr := r.queue.Append(models.PendingFinish{
			DeviceFinishPayload: payload,
			QueuedAt:            time.Now().UTC(),
		})
		r.queueMu.Unlock()
		if qerr != nil {
			return uuid.Nil, fmt.Errorf("queueing pending finish: %w", qerr)
		}
		return uuid.Nil, nil
	}

	student, err := r.store.GetStudentByAuthUser(ctx, authUserID)
	if err != nil {
		return uuid.Nil, err
	}
	return r.deliver(ctx, *student, payload)
}

// deliver runs the create-vs-reuse-vs-dedup cascade for an attributed finish,
// then upserts the payload's set data.
func (r *Reconciler) deliver(ctx context.Context, student models.Student, payload models.DeviceFinishPayload) (uuid.UUID, error) {
	now := time.Now().UTC()

	sessionID, err := r.resolveSession(ctx, student, payload, now)
	if err != nil {
		return uuid.Nil, err
	}

	if err := r.upsertPayloadSets(ctx, sessionID, payload, now); err != nil {
		return uuid.Nil, err
	}

	r.finished.Mark(sessionID)
	r.log.Info("device finish reconciled",
		"workout", payload.WorkoutID, "session", sessionID, "student", student.ID)
	return sessionID, nil
}

func (r *Reconciler) resolveSession(ctx context.Context, student models.Student, payload models.DeviceFinishPayload, now time.Time) (uuid.UUID, error) {
	rpe := optionalRPE(payload.RPE)

	// 1. An open session on the phone screen wins: close it out.
	if open, err := r.store.FindInProgressSession(ctx, payload.WorkoutID, student.ID); err != nil {
		return uuid.Nil, err
	} else if open != nil {
		duration := int(now.Sub(open.StartedAt).Seconds())
		if duration < 0 {
			duration = 0
		}
		if err := r.store.CompleteSession(ctx, open.ID, now, &duration, rpe, nil); err != nil {
			return uuid.Nil, fmt.Errorf("completing open session: %w", err)
		}
		return open.ID, nil
	}

	// 2. A completion inside the dedup window is a duplicate delivery.
	if recent, err := r.store.FindRecentCompletedSession(ctx, payload.WorkoutID, student.ID, now.Add(-DedupWindow)); err != nil {
		return uuid.Nil, err
	} else if recent != nil {
		return recent.ID, nil
	}

	// 3. Watch-only workout: the screen was never opened, so the session is
	// created already completed, backdated to the reported start.
	workout, err := r.store.GetWorkout(ctx, payload.WorkoutID)
	if err != nil {
		return uuid.Nil, err
	}
	startedAt := now
	if payload.StartedAt != nil && payload.StartedAt.Before(now) {
		startedAt = payload.StartedAt.UTC()
	}
	duration := int(now.Sub(startedAt).Seconds())
	session := &models.WorkoutSession{
		StudentID:         student.ID,
		TrainerID:         student.TrainerID,
		AssignedWorkoutID: payload.WorkoutID,
		AssignedProgramID: workout.AssignedProgramID,
		Status:            models.StatusCompleted,
		StartedAt:         startedAt,
		CompletedAt:       &now,
		DurationSeconds:   &duration,
		RPE:               rpe,
	}
	return r.store.CreateSession(ctx, session)
}

// upsertPayloadSets writes the per-exercise set data carried in the finish
// payload, resolving plan items to their planned exercise ids. Entries that
// cannot be resolved are skipped with a warning.
func (r *Reconciler) upsertPayloadSets(ctx context.Context, sessionID uuid.UUID, payload models.DeviceFinishPayload, now time.Time) error {
	if len(payload.Exercises) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(payload.Exercises))
	for _, ex := range payload.Exercises {
		ids = append(ids, ex.ID)
	}
	resolved, err := r.store.ResolvePlanItems(ctx, ids)
	if err != nil {
		return err
	}

	var rows []models.SetLogRow
	for _, ex := range payload.Exercises {
		exerciseID, ok := resolved[ex.ID]
		if !ok {
			r.log.Warn("skipping unresolvable plan item",
				"session", sessionID, "item", ex.ID)
			continue
		}
		for _, set := range ex.Sets {
			if !set.Completed {
				continue
			}
			rows = append(rows, models.SetLogRow{
				WorkoutSessionID:      sessionID,
				AssignedWorkoutItemID: ex.ID,
				PlannedExerciseID:     exerciseID,
				ExecutedExerciseID:    exerciseID,
				SwapSource:            models.SwapNone,
				SetNumber:             set.SetIndex + 1,
				Weight:                set.Weight,
				RepsCompleted:         set.Reps,
				IsCompleted:           true,
				CompletedAt:           now,
				WeightUnit:            "kg",
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	// One round trip for the whole payload; a failure is logged and swallowed,
	// the session resolution above already succeeded.
	if _, err := r.store.UpsertSetLogs(ctx, rows); err != nil {
		r.log.Warn("device set batch upsert failed",
			"session", sessionID, "sets", len(rows), "error", err)
	}
	return nil
}

// HandleSetEvent applies a single set completion from the companion device.
// A live phone-screen session absorbs it through the controlled entry point;
// otherwise the set is written straight to the store against an ensured
// session.
func (r *Reconciler) HandleSetEvent(ctx context.Context, ev models.DeviceSetEvent) error {
	if r.live.ApplyExternalCompletion(ev.WorkoutID, ev.ExerciseIndex, ev.SetIndex, ev.Reps, ev.Weight) {
		return nil
	}

	if err := r.id.Refresh(ctx); err != nil {
		r.log.Warn("token refresh failed, proceeding", "error", err)
	}
	authUserID, err := r.id.AuthUserID(ctx)
	if err != nil {
		return fmt.Errorf("resolving identity for set event: %w", err)
	}
	student, err := r.store.GetStudentByAuthUser(ctx, authUserID)
	if err != nil {
		return err
	}

	items, err := r.store.GetPlanItems(ctx, ev.WorkoutID)
	if err != nil {
		return err
	}
	if ev.ExerciseIndex < 0 || ev.ExerciseIndex >= len(items) {
		return fmt.Errorf("exercise index %d out of range for workout %s", ev.ExerciseIndex, ev.WorkoutID)
	}
	item := items[ev.ExerciseIndex]

	sessionID, err := r.ensureInProgress(ctx, *student, ev.WorkoutID)
	if err != nil {
		return err
	}

	row := models.SetLogRow{
		WorkoutSessionID:      sessionID,
		AssignedWorkoutItemID: item.ID,
		PlannedExerciseID:     item.ExerciseID,
		ExecutedExerciseID:    item.ExerciseID,
		SwapSource:            models.SwapNone,
		SetNumber:             ev.SetIndex + 1,
		IsCompleted:           true,
		CompletedAt:           time.Now().UTC(),
		WeightUnit:            "kg",
	}
	if ev.Reps != nil && storable(*ev.Reps) {
		row.RepsCompleted = int(*ev.Reps)
	}
	if ev.Weight != nil && storable(*ev.Weight) {
		row.Weight = *ev.Weight
	}
	return r.store.UpsertSetLog(ctx, row)
}

// storable reports whether a device-reported float can be recorded as is.
// Device values are unvalidated; non-finite or out-of-range values are dropped
// rather than converted.
func storable(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0 && f <= math.MaxInt32
}

func (r *Reconciler) ensureInProgress(ctx context.Context, student models.Student, workoutID uuid.UUID) (uuid.UUID, error) {
	existing, err := r.store.FindInProgressSession(ctx, workoutID, student.ID)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	workout, err := r.store.GetWorkout(ctx, workoutID)
	if err != nil {
		return uuid.Nil, err
	}
	session := &models.WorkoutSession{
		StudentID:         student.ID,
		TrainerID:         student.TrainerID,
		AssignedWorkoutID: workoutID,
		AssignedProgramID: workout.AssignedProgramID,
		Status:            models.StatusInProgress,
		StartedAt:         time.Now().UTC(),
	}
	id, err := r.store.CreateSession(ctx, session)
	if err == nil {
		return id, nil
	}
	if errors.Is(err, storage.ErrDuplicateSession) {
		winner, rerr := r.store.FindInProgressSession(ctx, workoutID, student.ID)
		if rerr != nil {
			return uuid.Nil, rerr
		}
		if winner != nil {
			return winner.ID, nil
		}
	}
	return uuid.Nil, err
}

// ReplayPending re-attempts every queued finish. When identity is still
// unresolvable the queue is left untouched. Entries that fail again stay
// queued; successes are dropped. The list is rewritten as a whole, so the
// queue lock is held across the entire pass: a finish queued mid-replay must
// not be erased by the rewrite.
func (r *Reconciler) ReplayPending(ctx context.Context) error {
	if err := r.id.Refresh(ctx); err != nil {
		r.log.Warn("token refresh failed, proceeding", "error", err)
	}
	authUserID, err := r.id.AuthUserID(ctx)
	if err != nil {
		r.log.Info("identity still unresolvable, keeping pending queue")
		return nil
	}

	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	list, err := r.queue.Load()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}

	student, err := r.store.GetStudentByAuthUser(ctx, authUserID)
	if err != nil {
		return err
	}

	var remaining []models.PendingFinish
	for _, entry := range list {
		if _, err := r.deliver(ctx, *student, entry.DeviceFinishPayload); err != nil {
			r.log.Warn("pending finish replay failed, keeping entry",
				"workout", entry.WorkoutID, "queued_at", entry.QueuedAt, "error", err)
			remaining = append(remaining, entry)
		}
	}

	r.log.Info("pending queue replayed",
		"attempted", len(list), "remaining", len(remaining))
	return r.queue.Save(remaining)
}

func optionalRPE(rpe int) *int {
	if rpe <= 0 {
		return nil
	}
	return &rpe
}
