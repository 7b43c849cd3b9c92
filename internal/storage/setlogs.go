package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kinevo/sessiond/internal/models"
)

// UpsertSetLog writes one set log keyed on (session, plan item, ordinal).
// Replays and multi-source duplicates collapse to a single row carrying the
// most recent payload.
func (db *DB) UpsertSetLog(ctx context.Context, r models.SetLogRow) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO set_logs
			(workout_session_id, assigned_workout_item_id, planned_exercise_id,
			 executed_exercise_id, swap_source, set_number, weight, reps_completed,
			 is_completed, completed_at, weight_unit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (workout_session_id, assigned_workout_item_id, set_number)
		 DO UPDATE SET
			planned_exercise_id = EXCLUDED.planned_exercise_id,
			executed_exercise_id = EXCLUDED.executed_exercise_id,
			swap_source = EXCLUDED.swap_source,
			weight = EXCLUDED.weight,
			reps_completed = EXCLUDED.reps_completed,
			is_completed = EXCLUDED.is_completed,
			completed_at = EXCLUDED.completed_at,
			weight_unit = EXCLUDED.weight_unit`,
		r.WorkoutSessionID, r.AssignedWorkoutItemID, r.PlannedExerciseID,
		r.ExecutedExerciseID, r.SwapSource, r.SetNumber, r.Weight, r.RepsCompleted,
		r.IsCompleted, r.CompletedAt, r.WeightUnit)
	if err != nil {
		return fmt.Errorf("upserting set log: %w", err)
	}
	return nil
}

// UpsertSetLogs batch-upserts set logs. Returns count written.
func (db *DB) UpsertSetLogs(ctx context.Context, rows []models.SetLogRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `INSERT INTO set_logs (workout_session_id, assigned_workout_item_id,
		planned_exercise_id, executed_exercise_id, swap_source, set_number,
		weight, reps_completed, is_completed, completed_at, weight_unit) VALUES `
	args := make([]any, 0, len(rows)*11)
	valueStrings := make([]string, 0, len(rows))

	for i, r := range rows {
		base := i * 11
		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args, r.WorkoutSessionID, r.AssignedWorkoutItemID,
			r.PlannedExerciseID, r.ExecutedExerciseID, r.SwapSource, r.SetNumber,
			r.Weight, r.RepsCompleted, r.IsCompleted, r.CompletedAt, r.WeightUnit)
	}

	query += strings.Join(valueStrings, ",") + `
		ON CONFLICT (workout_session_id, assigned_workout_item_id, set_number)
		DO UPDATE SET
			planned_exercise_id = EXCLUDED.planned_exercise_id,
			executed_exercise_id = EXCLUDED.executed_exercise_id,
			swap_source = EXCLUDED.swap_source,
			weight = EXCLUDED.weight,
			reps_completed = EXCLUDED.reps_completed,
			is_completed = EXCLUDED.is_completed,
			completed_at = EXCLUDED.completed_at,
			weight_unit = EXCLUDED.weight_unit`

	tag, err := db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upserting set logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QuerySessionSetLogs retrieves the persisted set logs of one session,
// ordered by plan item and ordinal.
func (db *DB) QuerySessionSetLogs(ctx context.Context, sessionID uuid.UUID) ([]models.SetLogRow, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT workout_session_id, assigned_workout_item_id, planned_exercise_id,
			executed_exercise_id, swap_source, set_number, weight, reps_completed,
			is_completed, completed_at, weight_unit
		 FROM set_logs
		 WHERE workout_session_id = $1
		 ORDER BY assigned_workout_item_id, set_number`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying set logs: %w", err)
	}
	defer rows.Close()

	var result []models.SetLogRow
	for rows.Next() {
		var r models.SetLogRow
		if err := rows.Scan(&r.WorkoutSessionID, &r.AssignedWorkoutItemID, &r.PlannedExerciseID,
			&r.ExecutedExerciseID, &r.SwapSource, &r.SetNumber, &r.Weight, &r.RepsCompleted,
			&r.IsCompleted, &r.CompletedAt, &r.WeightUnit); err != nil {
			return nil, fmt.Errorf("scanning set log: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
