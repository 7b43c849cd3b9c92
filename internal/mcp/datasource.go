package mcp

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kinevo/sessiond/internal/models"
	"github.com/kinevo/sessiond/internal/storage"
)

// DataSource abstracts the data layer for MCP tools.
type DataSource interface {
	QuerySessions(ctx context.Context, studentID uuid.UUID, start, end time.Time) ([]models.WorkoutSession, error)
	QuerySessionSetLogs(ctx context.Context, sessionID uuid.UUID) ([]models.SetLogRow, error)
	GetWorkout(ctx context.Context, workoutID uuid.UUID) (*models.Workout, error)
	GetPlanItems(ctx context.Context, workoutID uuid.UUID) ([]models.PlanItem, error)
	LastExerciseLoad(ctx context.Context, studentID, exerciseID uuid.UUID) (string, error)
	SmartSubstitutes(ctx context.Context, exerciseID uuid.UUID, limit int) ([]models.SubstituteOption, error)
}

// Compile-time check: *storage.DB satisfies DataSource.
var _ DataSource = (*storage.DB)(nil)

// PendingSource exposes the offline finish queue to the pending resource.
type PendingSource interface {
	Load() ([]models.PendingFinish, error)
}
