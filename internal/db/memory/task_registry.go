package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
	"github.com/not-nullexception/image-orchestrator/internal/db"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/rs/zerolog"
)

type taskEntry struct {
	task models.Task
	// changed is closed and replaced on every status write, waking all
	// waiters that captured it under the same lock.
	changed chan struct{}
}

// TaskRegistry keeps task records in memory. It holds only image ids and
// goes through the image registry for usage marks. Lock order is always
// task registry, then image registry.
type TaskRegistry struct {
	mu     sync.Mutex
	tasks  map[models.ID]*taskEntry
	nextID models.ID
	images db.ImageRepository
	clock  clockwork.Clock
	logger zerolog.Logger
}

var _ db.TaskRepository = (*TaskRegistry)(nil)

func NewTaskRegistry(images db.ImageRepository, clock clockwork.Clock) *TaskRegistry {
	return &TaskRegistry{
		tasks:  make(map[models.ID]*taskEntry),
		images: images,
		clock:  clock,
		logger: logger.GetLogger("task-registry"),
	}
}

// CreateTask allocates a task in the waiting state and marks the image as
// used by it. It fails without creating anything when the image is unknown
// or marked for deletion.
func (r *TaskRegistry) CreateTask(ctx context.Context, imageID models.ID, outputFile string, transformations []models.Transformation) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID + 1
	if err := r.images.MarkUsed(imageID, id); err != nil {
		return nil, fmt.Errorf("error creating task: %w", err)
	}
	r.nextID = id

	entry := &taskEntry{
		task: models.Task{
			ID:              id,
			ImageID:         imageID,
			Transformations: append([]models.Transformation(nil), transformations...),
			OutputFile:      outputFile,
			Status:          models.StatusWaiting,
			CreatedAt:       r.clock.Now(),
		},
		changed: make(chan struct{}),
	}
	r.tasks[id] = entry

	logger.FromContext(ctx).Debug().
		Str("task_id", id.String()).
		Str("image_id", imageID.String()).
		Strs("transformations", models.Names(transformations)).
		Msg("Task created")

	return entry.task.Clone(), nil
}

// SetStatus moves the task forward and wakes every waiter.
func (r *TaskRegistry) SetStatus(id models.ID, status models.TaskStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tasks[id]
	if !ok {
		return apperrors.NotFound("task %d not found", id)
	}
	if !entry.task.Status.CanTransitionTo(status) {
		return apperrors.Conflict("task %d cannot move from %s to %s", id, entry.task.Status, status)
	}

	now := r.clock.Now()
	entry.task.Status = status
	switch {
	case status == models.StatusRunning:
		entry.task.StartedAt = &now
	case status.IsTerminal():
		entry.task.FinishedAt = &now
		entry.task.Error = errMsg
	}

	close(entry.changed)
	entry.changed = make(chan struct{})

	r.logger.Debug().
		Str("task_id", id.String()).
		Str("status", string(status)).
		Msg("Task status updated")
	return nil
}

func (r *TaskRegistry) Get(id models.ID) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task %d not found", id)
	}
	return entry.task.Clone(), nil
}

// List returns every task ordered by id.
func (r *TaskRegistry) List() []*models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]*models.Task, 0, len(r.tasks))
	for _, entry := range r.tasks {
		list = append(list, entry.task.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (r *TaskRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// WaitTerminal blocks until the task is finished or failed, or ctx is done.
func (r *TaskRegistry) WaitTerminal(ctx context.Context, id models.ID) (*models.Task, error) {
	for {
		r.mu.Lock()
		entry, ok := r.tasks[id]
		if !ok {
			r.mu.Unlock()
			return nil, apperrors.NotFound("task %d not found", id)
		}
		if entry.task.Status.IsTerminal() {
			task := entry.task.Clone()
			r.mu.Unlock()
			return task, nil
		}
		changed := entry.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
