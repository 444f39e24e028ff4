package db

import (
	"context"
	"time"

	"github.com/not-nullexception/image-orchestrator/internal/db/models"
)

// ImageRepository owns image records and their lifecycle
type ImageRepository interface {
	Register(ctx context.Context, path string) (models.ID, error)
	Scan(ctx context.Context, dirs ...string) (int, error)
	Describe(id models.ID) (*models.Image, error)
	List() []models.ImageSummary
	Count() int

	CanAcceptTask(id models.ID) bool
	MarkUsed(id, taskID models.ID) error
	ReleaseUsed(id, taskID models.ID) error

	MarkForDeletion(id models.ID) (int, error)
	TryDelete(id models.ID) (bool, error)
	TryDeferredDelete(id models.ID) (bool, error)

	RecordCompletion(id models.ID, filters []string, processingTime time.Duration, sizeAfter int64) error
}

// TaskRepository owns task records and their status
type TaskRepository interface {
	CreateTask(ctx context.Context, imageID models.ID, outputFile string, transformations []models.Transformation) (*models.Task, error)
	SetStatus(id models.ID, status models.TaskStatus, errMsg string) error
	Get(id models.ID) (*models.Task, error)
	List() []*models.Task
	Count() int
	WaitTerminal(ctx context.Context, id models.ID) (*models.Task, error)
}
