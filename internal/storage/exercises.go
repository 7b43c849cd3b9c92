package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kinevo/sessiond/internal/models"
)

const exerciseColumns = `e.id, e.name, COALESCE(e.equipment, ''),
	COALESCE(array_agg(mg.name) FILTER (WHERE mg.name IS NOT NULL), '{}')`

const exerciseJoins = `
	LEFT JOIN exercise_muscle_groups emg ON emg.exercise_id = e.id
	LEFT JOIN muscle_groups mg ON mg.id = emg.muscle_group_id`

// GetExercise reads one library exercise with its muscle groups.
func (db *DB) GetExercise(ctx context.Context, id uuid.UUID) (*models.Exercise, error) {
	var e models.Exercise
	err := db.Pool.QueryRow(ctx,
		`SELECT e.id, e.name, COALESCE(e.equipment, ''), COALESCE(e.video_url, ''),
			COALESCE(array_agg(mg.name) FILTER (WHERE mg.name IS NOT NULL), '{}')
		 FROM exercises e`+exerciseJoins+`
		 WHERE e.id = $1
		 GROUP BY e.id`,
		id).Scan(&e.ID, &e.Name, &e.Equipment, &e.VideoURL, &e.MuscleGroups)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("exercise %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying exercise: %w", err)
	}
	return &e, nil
}

// ExercisesByIDs reads exercises as substitute options, preserving the input
// order (trainer-curated lists are ordered by intent).
func (db *DB) ExercisesByIDs(ctx context.Context, ids []uuid.UUID, source models.SubstituteSource) ([]models.SubstituteOption, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT `+exerciseColumns+`
		 FROM exercises e`+exerciseJoins+`
		 WHERE e.id = ANY($1)
		 GROUP BY e.id`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("querying exercises by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]models.SubstituteOption, len(ids))
	for rows.Next() {
		var o models.SubstituteOption
		if err := rows.Scan(&o.ID, &o.Name, &o.Equipment, &o.MuscleGroups); err != nil {
			return nil, fmt.Errorf("scanning substitute option: %w", err)
		}
		o.Source = source
		byID[o.ID] = o
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]models.SubstituteOption, 0, len(byID))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			ordered = append(ordered, o)
		}
	}
	return ordered, nil
}

// SmartSubstitutes returns algorithmically related exercises via the
// get_smart_substitutes stored procedure. When the procedure is unavailable
// it falls back to a shared-muscle-group query.
func (db *DB) SmartSubstitutes(ctx context.Context, exerciseID uuid.UUID, limit int) ([]models.SubstituteOption, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, name FROM get_smart_substitutes($1, $2)`,
		exerciseID, limit)
	if err != nil {
		return db.relatedByMuscleGroup(ctx, exerciseID, limit)
	}
	defer rows.Close()

	var result []models.SubstituteOption
	for rows.Next() {
		var o models.SubstituteOption
		if err := rows.Scan(&o.ID, &o.Name); err != nil {
			return nil, fmt.Errorf("scanning smart substitute: %w", err)
		}
		o.Source = models.SubstituteAuto
		result = append(result, o)
	}
	return result, rows.Err()
}

// relatedByMuscleGroup is the fallback when the smart substitute procedure is
// not installed: any exercise sharing a muscle group, most overlap first.
func (db *DB) relatedByMuscleGroup(ctx context.Context, exerciseID uuid.UUID, limit int) ([]models.SubstituteOption, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+exerciseColumns+`
		 FROM exercises e`+exerciseJoins+`
		 WHERE e.id <> $1 AND emg.muscle_group_id IN (
			SELECT muscle_group_id FROM exercise_muscle_groups WHERE exercise_id = $1
		 )
		 GROUP BY e.id
		 ORDER BY count(DISTINCT emg.muscle_group_id) DESC, e.name
		 LIMIT $2`,
		exerciseID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying related exercises: %w", err)
	}
	defer rows.Close()

	var result []models.SubstituteOption
	for rows.Next() {
		var o models.SubstituteOption
		if err := rows.Scan(&o.ID, &o.Name, &o.Equipment, &o.MuscleGroups); err != nil {
			return nil, fmt.Errorf("scanning related exercise: %w", err)
		}
		o.Source = models.SubstituteAuto
		result = append(result, o)
	}
	return result, rows.Err()
}

// SearchExercises runs a free-text name search constrained to exercises
// sharing at least one muscle group with the given exercise.
func (db *DB) SearchExercises(ctx context.Context, query string, sharedWith uuid.UUID, limit int) ([]models.SubstituteOption, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+exerciseColumns+`
		 FROM exercises e`+exerciseJoins+`
		 WHERE e.id <> $2 AND e.name ILIKE '%' || $1 || '%'
		   AND emg.muscle_group_id IN (
			SELECT muscle_group_id FROM exercise_muscle_groups WHERE exercise_id = $2
		   )
		 GROUP BY e.id
		 ORDER BY e.name
		 LIMIT $3`,
		query, sharedWith, limit)
	if err != nil {
		return nil, fmt.Errorf("searching exercises: %w", err)
	}
	defer rows.Close()

	var result []models.SubstituteOption
	for rows.Next() {
		var o models.SubstituteOption
		if err := rows.Scan(&o.ID, &o.Name, &o.Equipment, &o.MuscleGroups); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		o.Source = models.SubstituteSearch
		result = append(result, o)
	}
	return result, rows.Err()
}

// LastExerciseLoad returns the most recent load hint ("80kg") the student
// lifted for an exercise, via the get_last_exercise_metrics procedure with a
// direct recency query on set_logs as fallback. Empty string when there is no
// history. Advisory only.
func (db *DB) LastExerciseLoad(ctx context.Context, studentID, exerciseID uuid.UUID) (string, error) {
	var weight float64
	var unit string

	err := db.Pool.QueryRow(ctx,
		`SELECT weight, weight_unit FROM get_last_exercise_metrics($1, $2)`,
		studentID, exerciseID).Scan(&weight, &unit)
	if err != nil {
		err = db.Pool.QueryRow(ctx,
			`SELECT sl.weight, sl.weight_unit
			 FROM set_logs sl
			 JOIN workout_sessions ws ON ws.id = sl.workout_session_id
			 WHERE ws.student_id = $1 AND sl.executed_exercise_id = $2
			 ORDER BY sl.completed_at DESC
			 LIMIT 1`,
			studentID, exerciseID).Scan(&weight, &unit)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying last exercise load: %w", err)
	}
	return fmt.Sprintf("%g%s", weight, unit), nil
}
