package engine

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kinevo/sessiond/internal/models"
)

// Field selects which set cell an edit targets.
type Field string

const (
	FieldWeight Field = "weight"
	FieldReps   Field = "reps"
)

// Tracker holds the in-memory exercise/set state of one active workout.
// It is not synchronized; the owning ActiveSession serializes access.
type Tracker struct {
	workoutID uuid.UUID
	startedAt time.Time
	slots     []models.ExerciseSlot
}

// NewTracker builds the slot arena from the workout's plan items, one empty
// set row per target set.
func NewTracker(workoutID uuid.UUID, items []models.PlanItem, startedAt time.Time) *Tracker {
	slots := make([]models.ExerciseSlot, 0, len(items))
	for _, item := range items {
		sets := item.Sets
		if sets <= 0 {
			sets = 3
		}
		reps := item.Reps
		if reps == "" {
			reps = "10"
		}
		rest := item.RestSeconds
		if rest <= 0 {
			rest = 60
		}
		slots = append(slots, models.ExerciseSlot{
			PlanItemID:        item.ID,
			PlannedExerciseID: item.ExerciseID,
			ExerciseID:        item.ExerciseID,
			Name:              item.ExerciseName,
			Sets:              sets,
			TargetReps:        reps,
			RestSeconds:       rest,
			VideoURL:          item.VideoURL,
			SubstituteIDs:     item.SubstituteIDs,
			SwapSource:        models.SwapNone,
			SetsData:          models.NewSets(sets),
		})
	}
	return &Tracker{workoutID: workoutID, startedAt: startedAt, slots: slots}
}

// StartedAt returns the fixed session start timestamp.
func (t *Tracker) StartedAt() time.Time { return t.startedAt }

// Elapsed computes the session duration against wall-clock time, so it
// self-corrects across process suspension.
func (t *Tracker) Elapsed(now time.Time) time.Duration {
	d := now.Sub(t.startedAt)
	if d < 0 {
		return 0
	}
	return d
}

func (t *Tracker) checkIndex(exIdx, setIdx int) error {
	if exIdx < 0 || exIdx >= len(t.slots) {
		return fmt.Errorf("exercise index %d out of range", exIdx)
	}
	if setIdx < 0 || setIdx >= len(t.slots[exIdx].SetsData) {
		return fmt.Errorf("set index %d out of range for exercise %d", setIdx, exIdx)
	}
	return nil
}

// SetFieldValue updates one cell and propagates the value forward in a
// waterfall: each subsequent set that is empty, or still equal to the value
// just overwritten, follows the edit; the first set holding a different value
// is a deliberate override and stops the propagation.
func (t *Tracker) SetFieldValue(exIdx, setIdx int, field Field, value string) error {
	if err := t.checkIndex(exIdx, setIdx); err != nil {
		return err
	}

	sets := t.slots[exIdx].SetsData
	oldValue := getField(&sets[setIdx], field)
	setField(&sets[setIdx], field, value)

	for i := setIdx + 1; i < len(sets); i++ {
		current := getField(&sets[i], field)
		if current != "" && current != oldValue {
			break // rock in the waterfall
		}
		setField(&sets[i], field, value)
	}
	return nil
}

// ToggleSet flips the completion flag and reports whether the set is now
// completed, so the caller can fire the rest timer and persistence side
// effects only on the completing edge.
func (t *Tracker) ToggleSet(exIdx, setIdx int) (bool, error) {
	if err := t.checkIndex(exIdx, setIdx); err != nil {
		return false, err
	}
	set := &t.slots[exIdx].SetsData[setIdx]
	set.Completed = !set.Completed
	return set.Completed, nil
}

// ApplyExternalCompletion merges a completion reported by the companion
// device: reps/weight overwrite only when finite values were supplied, and
// the set is forced complete regardless of prior state.
func (t *Tracker) ApplyExternalCompletion(exIdx, setIdx int, reps, weight *float64) error {
	if err := t.checkIndex(exIdx, setIdx); err != nil {
		return err
	}
	set := &t.slots[exIdx].SetsData[setIdx]
	if reps != nil && isFinite(*reps) {
		set.Reps = strconv.Itoa(int(*reps))
	}
	if weight != nil && isFinite(*weight) {
		set.Weight = strconv.FormatFloat(*weight, 'f', -1, 64)
	}
	set.Completed = true
	return nil
}

// Slot returns a copy of one exercise slot.
func (t *Tracker) Slot(exIdx int) (models.ExerciseSlot, error) {
	if exIdx < 0 || exIdx >= len(t.slots) {
		return models.ExerciseSlot{}, fmt.Errorf("exercise index %d out of range", exIdx)
	}
	return copySlot(t.slots[exIdx]), nil
}

// Slots returns a copy of the whole arena.
func (t *Tracker) Slots() []models.ExerciseSlot {
	out := make([]models.ExerciseSlot, len(t.slots))
	for i, s := range t.slots {
		out[i] = copySlot(s)
	}
	return out
}

// ReplaceSlot installs a swapped slot, as produced by the substitution
// resolver.
func (t *Tracker) ReplaceSlot(exIdx int, slot models.ExerciseSlot) error {
	if exIdx < 0 || exIdx >= len(t.slots) {
		return fmt.Errorf("exercise index %d out of range", exIdx)
	}
	t.slots[exIdx] = copySlot(slot)
	return nil
}

func copySlot(s models.ExerciseSlot) models.ExerciseSlot {
	out := s
	out.SetsData = append([]models.SetEntry(nil), s.SetsData...)
	out.SubstituteIDs = append([]uuid.UUID(nil), s.SubstituteIDs...)
	return out
}

func getField(s *models.SetEntry, field Field) string {
	if field == FieldWeight {
		return s.Weight
	}
	return s.Reps
}

func setField(s *models.SetEntry, field Field, value string) {
	if field == FieldWeight {
		s.Weight = value
	} else {
		s.Reps = value
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
