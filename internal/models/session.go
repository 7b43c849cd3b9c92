package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a workout session. The only
// transition is in_progress → completed.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// SwapSource records how an exercise substitution was chosen.
type SwapSource string

const (
	SwapNone   SwapSource = "none"
	SwapManual SwapSource = "manual"
	SwapAuto   SwapSource = "auto"
)

// WorkoutSession is one student attempt at an assigned workout.
type WorkoutSession struct {
	ID                uuid.UUID      `json:"id"`
	StudentID         uuid.UUID      `json:"student_id"`
	TrainerID         uuid.UUID      `json:"trainer_id"`
	AssignedWorkoutID uuid.UUID      `json:"assigned_workout_id"`
	AssignedProgramID uuid.UUID      `json:"assigned_program_id"`
	Status            SessionStatus  `json:"status"`
	StartedAt         time.Time      `json:"started_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	DurationSeconds   *int           `json:"duration_seconds,omitempty"`
	RPE               *int           `json:"rpe,omitempty"`
	Feedback          *string        `json:"feedback,omitempty"`
}

// SetLogRow is a row ready for upsert into the set_logs table. Its natural
// key is (workout_session_id, assigned_workout_item_id, set_number).
type SetLogRow struct {
	WorkoutSessionID      uuid.UUID  `json:"workout_session_id"`
	AssignedWorkoutItemID uuid.UUID  `json:"assigned_workout_item_id"`
	PlannedExerciseID     uuid.UUID  `json:"planned_exercise_id"`
	ExecutedExerciseID    uuid.UUID  `json:"executed_exercise_id"`
	SwapSource            SwapSource `json:"swap_source"`
	SetNumber             int        `json:"set_number"`
	Weight                float64    `json:"weight"`
	RepsCompleted         int        `json:"reps_completed"`
	IsCompleted           bool       `json:"is_completed"`
	CompletedAt           time.Time  `json:"completed_at"`
	WeightUnit            string     `json:"weight_unit"`
}

// Student is the lookup result mapping an auth identity to a coaching
// relationship.
type Student struct {
	ID        uuid.UUID
	TrainerID uuid.UUID
}
