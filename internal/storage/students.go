package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kinevo/sessiond/internal/models"
)

// GetStudentByAuthUser maps an authenticated identity to the student and
// coaching relationship. A missing row is fatal: nothing can be attributed
// without a student.
func (db *DB) GetStudentByAuthUser(ctx context.Context, authUserID uuid.UUID) (*models.Student, error) {
	var s models.Student
	err := db.Pool.QueryRow(ctx,
		`SELECT id, trainer_id FROM students WHERE auth_user_id = $1`,
		authUserID).Scan(&s.ID, &s.TrainerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying student: %w", err)
	}
	return &s, nil
}
