package models

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Workout is the assigned workout a session executes against.
type Workout struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	AssignedProgramID uuid.UUID `json:"assigned_program_id"`
}

// PlanItem is one planned exercise slot inside an assigned workout, as read
// from assigned_workout_items.
type PlanItem struct {
	ID            uuid.UUID   `json:"id"`
	ExerciseID    uuid.UUID   `json:"exercise_id"`
	ExerciseName  string      `json:"exercise_name"`
	Sets          int         `json:"sets"`
	Reps          string      `json:"reps"`
	RestSeconds   int         `json:"rest_seconds"`
	OrderIndex    int         `json:"order_index"`
	VideoURL      string      `json:"video_url,omitempty"`
	SubstituteIDs []uuid.UUID `json:"substitute_exercise_ids,omitempty"`
}

// SetEntry is one tracked set. Weight and reps are kept as entered text until
// the persistence boundary converts them to numbers.
type SetEntry struct {
	Weight    string `json:"weight"`
	Reps      string `json:"reps"`
	Completed bool   `json:"completed"`
}

// ExerciseSlot is the in-memory state of one plan item during an active
// workout. ExerciseID may differ from PlannedExerciseID after a swap.
type ExerciseSlot struct {
	PlanItemID        uuid.UUID   `json:"plan_item_id"`
	PlannedExerciseID uuid.UUID   `json:"planned_exercise_id"`
	ExerciseID        uuid.UUID   `json:"exercise_id"`
	Name              string      `json:"name"`
	Sets              int         `json:"sets"`
	TargetReps        string      `json:"target_reps"`
	RestSeconds       int         `json:"rest_seconds"`
	VideoURL          string      `json:"video_url,omitempty"`
	SubstituteIDs     []uuid.UUID `json:"substitute_exercise_ids,omitempty"`
	SwapSource        SwapSource  `json:"swap_source"`
	SetsData          []SetEntry  `json:"sets_data"`
	PreviousLoad      string      `json:"previous_load,omitempty"`
}

// NewSets returns count empty, incomplete set entries.
func NewSets(count int) []SetEntry {
	sets := make([]SetEntry, count)
	return sets
}

// Exercise is a library exercise, used when proposing and applying swaps.
type Exercise struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Equipment    string    `json:"equipment,omitempty"`
	VideoURL     string    `json:"video_url,omitempty"`
	MuscleGroups []string  `json:"muscle_groups,omitempty"`
}

// SubstituteSource tags where a substitute candidate came from.
type SubstituteSource string

const (
	SubstituteManual SubstituteSource = "manual" // trainer-curated
	SubstituteAuto   SubstituteSource = "auto"   // algorithmically related
	SubstituteSearch SubstituteSource = "search" // free-text match
)

// SubstituteOption is a candidate replacement exercise. Ephemeral; recomputed
// on demand, never persisted.
type SubstituteOption struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	Equipment    string           `json:"equipment,omitempty"`
	MuscleGroups []string         `json:"muscle_groups,omitempty"`
	Source       SubstituteSource `json:"source"`
}

// ParseWeight converts entered weight text to its numeric value at the write
// boundary. Unparseable or empty input becomes 0, matching how partially
// filled sets are recorded.
func ParseWeight(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	w, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return w
}

// ParseReps converts entered rep text to its numeric value at the write
// boundary. Unparseable or empty input becomes 0.
func ParseReps(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
