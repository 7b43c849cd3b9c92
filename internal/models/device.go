package models

import (
	"time"

	"github.com/google/uuid"
)

// Companion-device wire types. Field names follow the payloads the wearable
// bridge emits, which use camelCase.

// DeviceSet is one set reported inside a device finish payload. SetIndex is
// zero-based; ordinals on the persisted row are one-based.
type DeviceSet struct {
	SetIndex  int     `json:"setIndex"`
	Reps      int     `json:"reps"`
	Weight    float64 `json:"weight"`
	Completed bool    `json:"completed"`
}

// DeviceExercise carries the sets reported for one plan item.
type DeviceExercise struct {
	ID   uuid.UUID   `json:"id"` // assigned_workout_item_id
	Sets []DeviceSet `json:"sets"`
}

// DeviceFinishPayload is the whole-workout finish event from the companion
// device. Exercises may be empty when the device tracked only the session.
type DeviceFinishPayload struct {
	WorkoutID uuid.UUID        `json:"workoutId"`
	RPE       int              `json:"rpe"`
	StartedAt *time.Time       `json:"startedAt,omitempty"`
	Exercises []DeviceExercise `json:"exercises,omitempty"`
}

// DeviceSetEvent is a single set-completed event from the companion device.
// Reps and Weight are optional; absent values leave the tracked set untouched.
type DeviceSetEvent struct {
	WorkoutID     uuid.UUID `json:"workoutId"`
	ExerciseIndex int       `json:"exerciseIndex"`
	SetIndex      int       `json:"setIndex"`
	Reps          *float64  `json:"reps,omitempty"`
	Weight        *float64  `json:"weight,omitempty"`
}

// PendingFinish is a finish payload that could not be attributed to an
// authenticated identity when it arrived, queued for replay.
type PendingFinish struct {
	DeviceFinishPayload
	QueuedAt time.Time `json:"queuedAt"`
}
