package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kinevo/sessiond/internal/models"
)

func testItems() []models.PlanItem {
	return []models.PlanItem{
		{
			ID:           uuid.New(),
			ExerciseID:   uuid.New(),
			ExerciseName: "Bench Press",
			Sets:         3,
			Reps:         "10",
			RestSeconds:  90,
		},
		{
			ID:           uuid.New(),
			ExerciseID:   uuid.New(),
			ExerciseName: "Incline Dumbbell Press",
			Sets:         4,
			Reps:         "12",
			RestSeconds:  60,
		},
	}
}

func weights(t *testing.T, tr *Tracker, exIdx int) []string {
	t.Helper()
	slot, err := tr.Slot(exIdx)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(slot.SetsData))
	for i, s := range slot.SetsData {
		out[i] = s.Weight
	}
	return out
}

// TestWaterfallFillsForward verifies that entering a value on the first set
// auto-fills all subsequent empty sets.
func TestWaterfallFillsForward(t *testing.T) {
	tr := NewTracker(uuid.New(), testItems(), time.Now())

	if err := tr.SetFieldValue(0, 0, FieldWeight, "60"); err != nil {
		t.Fatal(err)
	}

	got := weights(t, tr, 0)
	want := []string{"60", "60", "60"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("set %d weight = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestWaterfallRespectsOverride replays the bench press example: 60 fills
// forward, set 3 is edited to 70, then editing set 1 to 65 propagates through
// set 2 (still on the old value) but stops at the deliberate 70.
func TestWaterfallRespectsOverride(t *testing.T) {
	tr := NewTracker(uuid.New(), testItems(), time.Now())

	if err := tr.SetFieldValue(0, 0, FieldWeight, "60"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetFieldValue(0, 2, FieldWeight, "70"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetFieldValue(0, 0, FieldWeight, "65"); err != nil {
		t.Fatal(err)
	}

	got := weights(t, tr, 0)
	want := []string{"65", "65", "70"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("set %d weight = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestWaterfallStopsAtRock verifies propagation halts at the first differing
// value and does not resume past it, even if later sets would match.
func TestWaterfallStopsAtRock(t *testing.T) {
	tr := NewTracker(uuid.New(), testItems(), time.Now())

	// 4-set exercise: fill 50, customize set 3, then set 2, then re-edit set 1.
	if err := tr.SetFieldValue(1, 0, FieldWeight, "50"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetFieldValue(1, 2, FieldWeight, "60"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetFieldValue(1, 1, FieldWeight, "55"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetFieldValue(1, 0, FieldWeight, "52"); err != nil {
		t.Fatal(err)
	}

	// Set 2 is a rock for the final edit; nothing past it changes.
	got := weights(t, tr, 1)
	want := []string{"52", "55", "60", "60"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("set %d weight = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestWaterfallIndependentFields verifies weight edits never touch reps.
func TestWaterfallIndependentFields(t *testing.T) {
	tr := NewTracker(uuid.New(), testItems(), time.Now())

	if err := tr.SetFieldValue(0, 0, FieldReps, "8"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetFieldValue(0, 0, FieldWeight, "100"); err != nil {
		t.Fatal(err)
	}

	slot, _ := tr.Slot(0)
	for i, s := range slot.SetsData {
		if s.Reps != "8" {
			t.Errorf("set %d reps = %q, want %q", i, s.Reps, "8")
		}
		if s.Weight != "100" {
			t.Errorf("set %d weight = %q, want %q", i, s.Weight, "100")
		}
	}
}

// TestToggleSetEdges verifies the completing edge is reported and that
// un-marking reports false.
func TestToggleSetEdges(t *testing.T) {
	tr := NewTracker(uuid.New(), testItems(), time.Now())

	completed, err := tr.ToggleSet(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !completed {
		t.Error("first toggle should complete the set")
	}

	completed, err = tr.ToggleSet(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if completed {
		t.Error("second toggle should un-complete the set")
	}
}

// TestApplyExternalCompletion verifies device values overwrite only when
// finite, and completion is forced regardless of prior state.
func TestApplyExternalCompletion(t *testing.T) {
	tr := NewTracker(uuid.New(), testItems(), time.Now())

	reps := 8.0
	weight := 55.5
	if err := tr.ApplyExternalCompletion(0, 1, &reps, &weight); err != nil {
		t.Fatal(err)
	}

	slot, _ := tr.Slot(0)
	set := slot.SetsData[1]
	if set.Reps != "8" {
		t.Errorf("reps = %q, want %q", set.Reps, "8")
	}
	if set.Weight != "55.5" {
		t.Errorf("weight = %q, want %q", set.Weight, "55.5")
	}
	if !set.Completed {
		t.Error("set should be forced complete")
	}

	// Nil values leave entered data untouched but still force completion.
	if err := tr.SetFieldValue(0, 0, FieldWeight, "60"); err != nil {
		t.Fatal(err)
	}
	if err := tr.ApplyExternalCompletion(0, 0, nil, nil); err != nil {
		t.Fatal(err)
	}
	slot, _ = tr.Slot(0)
	if slot.SetsData[0].Weight != "60" {
		t.Errorf("weight = %q, want %q", slot.SetsData[0].Weight, "60")
	}
	if !slot.SetsData[0].Completed {
		t.Error("set should be complete")
	}
}

// TestTrackerDefaults verifies missing plan values fall back to 3 sets,
// 10 reps, 60s rest.
func TestTrackerDefaults(t *testing.T) {
	items := []models.PlanItem{{ID: uuid.New(), ExerciseID: uuid.New(), ExerciseName: "Squat"}}
	tr := NewTracker(uuid.New(), items, time.Now())

	slot, _ := tr.Slot(0)
	if slot.Sets != 3 || len(slot.SetsData) != 3 {
		t.Errorf("sets = %d (%d rows), want 3", slot.Sets, len(slot.SetsData))
	}
	if slot.TargetReps != "10" {
		t.Errorf("target reps = %q, want %q", slot.TargetReps, "10")
	}
	if slot.RestSeconds != 60 {
		t.Errorf("rest = %d, want 60", slot.RestSeconds)
	}
	if slot.SwapSource != models.SwapNone {
		t.Errorf("swap source = %q, want none", slot.SwapSource)
	}
}

// TestElapsedFromWallClock verifies the duration is computed against the
// fixed start timestamp, not an accumulating counter.
func TestElapsedFromWallClock(t *testing.T) {
	start := time.Now().Add(-42 * time.Minute)
	tr := NewTracker(uuid.New(), testItems(), start)

	got := tr.Elapsed(start.Add(42 * time.Minute))
	if got != 42*time.Minute {
		t.Errorf("elapsed = %v, want 42m", got)
	}

	if tr.Elapsed(start.Add(-time.Second)) != 0 {
		t.Error("elapsed before start should clamp to zero")
	}
}

// TestIndexValidation verifies out-of-range edits are rejected.
func TestIndexValidation(t *testing.T) {
	tr := NewTracker(uuid.New(), testItems(), time.Now())

	if err := tr.SetFieldValue(9, 0, FieldWeight, "1"); err == nil {
		t.Error("expected error for exercise index out of range")
	}
	if err := tr.SetFieldValue(0, 9, FieldWeight, "1"); err == nil {
		t.Error("expected error for set index out of range")
	}
	if _, err := tr.ToggleSet(-1, 0); err == nil {
		t.Error("expected error for negative index")
	}
}
