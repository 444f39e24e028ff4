// Package dispatcher validates commands and routes them to the registries
// and the worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
	"github.com/not-nullexception/image-orchestrator/internal/db"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/not-nullexception/image-orchestrator/internal/job"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/not-nullexception/image-orchestrator/internal/metrics"
	"github.com/not-nullexception/image-orchestrator/internal/output"
	"github.com/not-nullexception/image-orchestrator/internal/tracing"
	"github.com/not-nullexception/image-orchestrator/internal/worker"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
)

// Pool accepts jobs for asynchronous execution.
type Pool interface {
	Accepting() bool
	Submit(ctx context.Context, job worker.Job) error
	Fail(ctx context.Context, job worker.Job, cause error)
}

// DeleteResult reports what a delete request did.
type DeleteResult struct {
	ImageID models.ID `json:"image_id"`
	Deleted bool      `json:"deleted"`
	InUse   int       `json:"in_use"`
}

type Dispatcher struct {
	images db.ImageRepository
	tasks  db.TaskRepository
	pool   Pool
	fs     afero.Fs
	out    output.Reporter
	sem    chan struct{} // Semaphore to limit concurrent commands
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func New(
	images db.ImageRepository,
	tasks db.TaskRepository,
	pool Pool,
	fs afero.Fs,
	out output.Reporter,
	concurrency int,
) *Dispatcher {
	return &Dispatcher{
		images: images,
		tasks:  tasks,
		pool:   pool,
		fs:     fs,
		out:    out,
		sem:    make(chan struct{}, concurrency),
		logger: logger.GetLogger("dispatcher"),
	}
}

// Dispatch runs cmd on its own goroutine and reports the result through the
// output sink. It blocks while the concurrency limit is reached.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) {
	d.sem <- struct{}{}
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()

		d.out.Send(d.Execute(ctx, cmd))
	}()
}

// Wait blocks until every dispatched command has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Execute runs cmd synchronously and returns the user-visible message.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) string {
	ctx, span := tracing.StartSpan(ctx, "dispatcher."+cmd.Name, attribute.String("argument", cmd.Arg))
	defer span.End()

	log := logger.GetLoggerWithContext(ctx, "dispatcher").With().
		Str("command", cmd.Name).
		Str("argument", cmd.Arg).
		Logger()
	ctx = logger.ToContext(ctx, log)

	msg, err := d.execute(ctx, cmd)
	metrics.RecordCommand(cmd.Name, err)
	if err != nil {
		tracing.RecordError(ctx, err)
		log.Warn().Err(err).Msg("Command failed")
		return "Error: " + err.Error()
	}

	log.Debug().Msg("Command completed")
	return msg
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Name {
	case CmdAdd:
		id, err := d.AddImage(ctx, cmd.Arg)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Image added with ID: %s", id), nil

	case CmdProcess:
		desc, err := job.Load(d.fs, cmd.Arg)
		if err != nil {
			return "", err
		}
		task, err := d.Process(ctx, desc)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Task %s created for image %s", task.ID, task.ImageID), nil

	case CmdDelete:
		id, err := parseImageID(cmd.Arg)
		if err != nil {
			return "", err
		}
		result, err := d.Delete(ctx, id)
		if err != nil {
			return "", err
		}
		if result.Deleted {
			return fmt.Sprintf("Image %s deleted", id), nil
		}
		return fmt.Sprintf("Deletion of image %s deferred, in use by %d tasks", id, result.InUse), nil

	case CmdList:
		return FormatImages(d.ListImages()), nil

	case CmdDescribe:
		id, err := parseImageID(cmd.Arg)
		if err != nil {
			return "", err
		}
		img, err := d.DescribeImage(id)
		if err != nil {
			return "", err
		}
		return FormatImage(img), nil

	case CmdTasks:
		return FormatTasks(d.Tasks()), nil

	default:
		return "", apperrors.Validation("command %s cannot be dispatched", cmd.Name)
	}
}

func parseImageID(s string) (models.ID, error) {
	id, err := models.ParseID(s)
	if err != nil {
		return 0, apperrors.Validation("%v", err)
	}
	return id, nil
}

// AddImage registers the file at path.
func (d *Dispatcher) AddImage(ctx context.Context, path string) (models.ID, error) {
	return d.images.Register(ctx, path)
}

// Process creates a task for a validated descriptor and queues its job. No
// task is created when the image is unknown or marked for deletion.
func (d *Dispatcher) Process(ctx context.Context, desc *job.Descriptor) (*models.Task, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	if !d.images.CanAcceptTask(desc.ImageID) {
		if _, err := d.images.Describe(desc.ImageID); err != nil {
			return nil, err
		}
		return nil, apperrors.Conflict("image %s is marked for deletion", desc.ImageID)
	}
	if !d.pool.Accepting() {
		return nil, apperrors.Internal(worker.ErrPoolClosed, "image %s cannot be processed", desc.ImageID)
	}

	task, err := d.tasks.CreateTask(ctx, desc.ImageID, desc.OutputFile, desc.Steps())
	if err != nil {
		return nil, err
	}

	j := worker.NewJob(task)
	if err := d.pool.Submit(context.WithoutCancel(ctx), j); err != nil {
		d.pool.Fail(ctx, j, err)
		return nil, apperrors.Internal(err, "task %s could not be queued", task.ID)
	}

	logger.FromContext(ctx).Info().
		Str("task_id", task.ID.String()).
		Str("image_id", task.ImageID.String()).
		Msg("Task queued")
	return task, nil
}

// Delete flags the image and removes it at once when no task uses it.
// Otherwise the deletion completes when the last task finishes.
func (d *Dispatcher) Delete(ctx context.Context, id models.ID) (*DeleteResult, error) {
	inUse, err := d.images.MarkForDeletion(id)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{ImageID: id, InUse: inUse}
	if inUse == 0 {
		deleted, err := d.images.TryDelete(id)
		switch {
		case apperrors.IsNotFound(err):
			// The monitor completed the flagged deletion first.
			result.Deleted = true
			return result, nil
		case err != nil:
			return nil, err
		}
		result.Deleted = deleted
	}

	if result.Deleted {
		metrics.RecordDeletion("immediate")
	} else {
		logger.FromContext(ctx).Info().
			Str("image_id", id.String()).
			Int("in_use", inUse).
			Msg("Image deletion deferred")
	}
	return result, nil
}

func (d *Dispatcher) ListImages() []models.ImageSummary {
	return d.images.List()
}

func (d *Dispatcher) DescribeImage(id models.ID) (*models.Image, error) {
	return d.images.Describe(id)
}

func (d *Dispatcher) Task(id models.ID) (*models.Task, error) {
	return d.tasks.Get(id)
}

func (d *Dispatcher) Tasks() []*models.Task {
	return d.tasks.List()
}

// WaitTask blocks until the task is terminal or ctx is done.
func (d *Dispatcher) WaitTask(ctx context.Context, id models.ID) (*models.Task, error) {
	return d.tasks.WaitTerminal(ctx, id)
}

// ImageCount and TaskCount feed the health endpoint.
func (d *Dispatcher) ImageCount() int { return d.images.Count() }
func (d *Dispatcher) TaskCount() int  { return d.tasks.Count() }
