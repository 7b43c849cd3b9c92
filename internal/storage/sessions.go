package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kinevo/sessiond/internal/models"
)

// ErrDuplicateSession means another writer created the in_progress session
// first (unique index on student + workout + in_progress). The caller should
// re-read and reuse that session.
var ErrDuplicateSession = errors.New("in_progress session already exists")

const sessionColumns = `id, student_id, trainer_id, assigned_workout_id, assigned_program_id,
	status, started_at, completed_at, duration_seconds, rpe, feedback`

func scanSession(row pgx.Row) (*models.WorkoutSession, error) {
	var s models.WorkoutSession
	err := row.Scan(&s.ID, &s.StudentID, &s.TrainerID, &s.AssignedWorkoutID, &s.AssignedProgramID,
		&s.Status, &s.StartedAt, &s.CompletedAt, &s.DurationSeconds, &s.RPE, &s.Feedback)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindInProgressSession returns the most recent in_progress session for the
// (workout, student) pair, or nil when none exists.
func (db *DB) FindInProgressSession(ctx context.Context, workoutID, studentID uuid.UUID) (*models.WorkoutSession, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM workout_sessions
		 WHERE assigned_workout_id = $1 AND student_id = $2 AND status = 'in_progress'
		 ORDER BY started_at DESC
		 LIMIT 1`,
		workoutID, studentID)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying in_progress session: %w", err)
	}
	return s, nil
}

// FindRecentCompletedSession returns a session for (workout, student) that
// completed at or after the given cutoff, or nil. This backs the dedup window:
// a second finish signal inside the window is a duplicate delivery.
func (db *DB) FindRecentCompletedSession(ctx context.Context, workoutID, studentID uuid.UUID, since time.Time) (*models.WorkoutSession, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM workout_sessions
		 WHERE assigned_workout_id = $1 AND student_id = $2 AND status = 'completed'
		   AND completed_at >= $3
		 ORDER BY completed_at DESC
		 LIMIT 1`,
		workoutID, studentID, since)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying recent completed session: %w", err)
	}
	return s, nil
}

// CreateSession inserts a new session row and returns its id. A unique
// violation on the in_progress index is reported as ErrDuplicateSession.
func (db *DB) CreateSession(ctx context.Context, s *models.WorkoutSession) (uuid.UUID, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO workout_sessions
			(id, student_id, trainer_id, assigned_workout_id, assigned_program_id,
			 status, started_at, completed_at, duration_seconds, rpe, feedback, sync_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'synced')`,
		s.ID, s.StudentID, s.TrainerID, s.AssignedWorkoutID, s.AssignedProgramID,
		s.Status, s.StartedAt, s.CompletedAt, s.DurationSeconds, s.RPE, s.Feedback)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, ErrDuplicateSession
		}
		return uuid.Nil, fmt.Errorf("inserting workout session: %w", err)
	}
	return s.ID, nil
}

// CompleteSession transitions a session to completed, stamping completion
// time, duration, and optional subjective feedback. No further transition
// exists, so a second call just rewrites the same terminal state.
func (db *DB) CompleteSession(ctx context.Context, sessionID uuid.UUID, completedAt time.Time, durationSeconds *int, rpe *int, feedback *string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE workout_sessions
		 SET status = 'completed', completed_at = $2, duration_seconds = $3,
		     rpe = $4, feedback = $5, sync_status = 'synced'
		 WHERE id = $1`,
		sessionID, completedAt, durationSeconds, rpe, feedback)
	if err != nil {
		return fmt.Errorf("completing session %s: %w", sessionID, err)
	}
	return nil
}

// QuerySessions retrieves a student's sessions in a time range, newest first.
func (db *DB) QuerySessions(ctx context.Context, studentID uuid.UUID, start, end time.Time) ([]models.WorkoutSession, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM workout_sessions
		 WHERE student_id = $1 AND started_at >= $2 AND started_at < $3
		 ORDER BY started_at DESC`,
		studentID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var result []models.WorkoutSession
	for rows.Next() {
		var s models.WorkoutSession
		if err := rows.Scan(&s.ID, &s.StudentID, &s.TrainerID, &s.AssignedWorkoutID, &s.AssignedProgramID,
			&s.Status, &s.StartedAt, &s.CompletedAt, &s.DurationSeconds, &s.RPE, &s.Feedback); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
