package store

import (
	"context"
	"errors"

	"github.com/joescharf/hoist/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrAmbiguous = errors.New("ambiguous id prefix")
)

// Store defines the persistence interface for deployment history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, idOrPrefix string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int, host string) ([]*models.Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Stage results
	AddStageResult(ctx context.Context, result *models.StageResult) error
	ListStageResults(ctx context.Context, runID string) ([]*models.StageResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
