package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kinevo/sessiond/internal/models"
)

// GetWorkout reads the assigned workout a session executes against.
// A missing row is fatal for the caller: the whole session precondition is gone.
func (db *DB) GetWorkout(ctx context.Context, workoutID uuid.UUID) (*models.Workout, error) {
	var w models.Workout
	err := db.Pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(assigned_program_id, '00000000-0000-0000-0000-000000000000')
		 FROM assigned_workouts WHERE id = $1`,
		workoutID).Scan(&w.ID, &w.Name, &w.AssignedProgramID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWorkoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workout %s: %w", workoutID, err)
	}
	return &w, nil
}

// GetPlanItems reads the exercise slots of a workout in plan order.
// Non-exercise items (rest blocks, notes) are excluded.
func (db *DB) GetPlanItems(ctx context.Context, workoutID uuid.UUID) ([]models.PlanItem, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT i.id, i.exercise_id, i.exercise_name, i.sets, i.reps, i.rest_seconds,
			i.order_index, COALESCE(e.video_url, ''), i.substitute_exercise_ids
		 FROM assigned_workout_items i
		 LEFT JOIN exercises e ON e.id = i.exercise_id
		 WHERE i.assigned_workout_id = $1 AND i.item_type = 'exercise'
		 ORDER BY i.order_index`,
		workoutID)
	if err != nil {
		return nil, fmt.Errorf("querying plan items: %w", err)
	}
	defer rows.Close()

	var result []models.PlanItem
	for rows.Next() {
		var p models.PlanItem
		if err := rows.Scan(&p.ID, &p.ExerciseID, &p.ExerciseName, &p.Sets, &p.Reps,
			&p.RestSeconds, &p.OrderIndex, &p.VideoURL, &p.SubstituteIDs); err != nil {
			return nil, fmt.Errorf("scanning plan item: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// ResolvePlanItems maps plan item ids to their planned exercise ids.
// Ids with no matching row are simply absent from the result; the caller
// skips those entries.
func (db *DB) ResolvePlanItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]uuid.UUID{}, nil
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT id, exercise_id FROM assigned_workout_items WHERE id = ANY($1)`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("resolving plan items: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]uuid.UUID, len(ids))
	for rows.Next() {
		var id, exerciseID uuid.UUID
		if err := rows.Scan(&id, &exerciseID); err != nil {
			return nil, fmt.Errorf("scanning plan item mapping: %w", err)
		}
		result[id] = exerciseID
	}
	return result, rows.Err()
}
