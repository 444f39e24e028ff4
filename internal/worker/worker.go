package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/not-nullexception/image-orchestrator/config"
	"github.com/not-nullexception/image-orchestrator/internal/db"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/not-nullexception/image-orchestrator/internal/events"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/not-nullexception/image-orchestrator/internal/metrics"
	"github.com/not-nullexception/image-orchestrator/internal/mirror"
	"github.com/not-nullexception/image-orchestrator/internal/output"
	imageprocessor "github.com/not-nullexception/image-orchestrator/internal/processor/image"
	"github.com/not-nullexception/image-orchestrator/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrPoolClosed is returned by Submit once Stop has been called.
var ErrPoolClosed = errors.New("worker pool is closed")

// Processor runs a transformation pipeline from src to dst.
type Processor interface {
	Process(ctx context.Context, src, dst string, steps []models.Transformation) (*imageprocessor.ProcessingResult, error)
}

// Notifier is told about every task that reached a terminal status.
type Notifier interface {
	Notify(taskID models.ID)
}

// Job is one unit of work, tagged with the task it belongs to.
type Job struct {
	TaskID          models.ID
	ImageID         models.ID
	OutputFile      string
	Transformations []models.Transformation
}

// NewJob builds the job for a freshly created task.
func NewJob(task *models.Task) Job {
	return Job{
		TaskID:          task.ID,
		ImageID:         task.ImageID,
		OutputFile:      task.OutputFile,
		Transformations: task.Transformations,
	}
}

// Dependencies are the collaborators of a Pool. Publisher and Mirror are
// optional.
type Dependencies struct {
	Images    db.ImageRepository
	Tasks     db.TaskRepository
	Processor Processor
	Notifier  Notifier
	Output    output.Reporter
	Publisher events.Publisher
	Mirror    mirror.Uploader
	Clock     clockwork.Clock
}

// Pool runs jobs on a fixed number of worker goroutines fed by a bounded
// queue.
type Pool struct {
	deps    Dependencies
	workers int
	jobs    chan Job
	active  atomic.Int32
	mu      sync.RWMutex // guards closed against concurrent Submit
	closed  bool
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

func New(cfg config.WorkerConfig, deps Dependencies) *Pool {
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Mirror == nil {
		deps.Mirror = mirror.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	return &Pool{
		deps:    deps,
		workers: cfg.Count,
		jobs:    make(chan Job, cfg.QueueSize),
		logger:  logger.GetLogger("worker"),
	}
}

// Start launches the workers. Jobs run detached from ctx cancellation.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info().
		Int("worker_count", p.workers).
		Int("queue_size", cap(p.jobs)).
		Msg("Starting worker pool")

	ctx = context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(slot int) {
			defer p.wg.Done()
			for job := range p.jobs {
				p.process(ctx, slot, job)
			}
		}(i)
	}
}

// Submit queues job, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		metrics.UpdateQueueDepth(len(p.jobs))
		p.logger.Debug().
			Str("task_id", job.TaskID.String()).
			Int("queue_depth", len(p.jobs)).
			Msg("Job queued")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("error queueing task %s: %w", job.TaskID, ctx.Err())
	}
}

// Accepting reports whether Submit still queues jobs.
func (p *Pool) Accepting() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Stop stops accepting jobs and waits until every queued job has finished.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info().Msg("Stopping worker pool")
	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
}

// Fail settles a job that never reached a worker: the task passes through
// running, its usage is released and it is marked failed.
func (p *Pool) Fail(ctx context.Context, job Job, cause error) {
	log := logger.GetLoggerWithContext(ctx, "worker").With().
		Str("task_id", job.TaskID.String()).
		Str("image_id", job.ImageID.String()).
		Logger()
	ctx = logger.ToContext(ctx, log)

	if err := p.deps.Tasks.SetStatus(job.TaskID, models.StatusRunning, ""); err != nil {
		log.Error().Err(err).Msg("Error updating task status")
	}
	p.fail(ctx, job, 0, cause)
}

func (p *Pool) process(ctx context.Context, slot int, job Job) {
	ctx, span := tracing.StartSpan(ctx, "worker.process",
		attribute.String("task_id", job.TaskID.String()),
		attribute.String("image_id", job.ImageID.String()),
		attribute.Int("worker_slot", slot),
	)
	defer span.End()

	log := logger.GetLoggerWithContext(ctx, "worker").With().
		Str("task_id", job.TaskID.String()).
		Str("image_id", job.ImageID.String()).
		Int("worker_slot", slot).
		Logger()
	ctx = logger.ToContext(ctx, log)

	metrics.UpdateQueueDepth(len(p.jobs))
	metrics.UpdateWorkerUtilization(int(p.active.Add(1)), p.workers)
	defer func() {
		metrics.UpdateWorkerUtilization(int(p.active.Add(-1)), p.workers)
	}()

	if err := p.deps.Tasks.SetStatus(job.TaskID, models.StatusRunning, ""); err != nil {
		p.fail(ctx, job, 0, fmt.Errorf("error updating task status: %w", err))
		return
	}
	p.publish(ctx, job.TaskID)

	log.Info().
		Strs("transformations", models.Names(job.Transformations)).
		Str("output_file", job.OutputFile).
		Msg("Processing image")

	start := p.deps.Clock.Now()
	img, result, err := p.execute(ctx, job)
	elapsed := p.deps.Clock.Since(start)
	if err != nil {
		p.fail(ctx, job, elapsed, err)
		return
	}

	err = p.deps.Images.RecordCompletion(job.ImageID, models.Names(job.Transformations), elapsed, result.SizeAfter)
	if err != nil {
		p.fail(ctx, job, elapsed, fmt.Errorf("error recording completion: %w", err))
		return
	}

	metrics.RecordProcessingTime(ctx, string(models.StatusFinished), elapsed)
	if img.SizeBefore != nil {
		metrics.RecordSizeChange(ctx, *img.SizeBefore, result.SizeAfter)
	}

	p.release(ctx, job)
	if err := p.deps.Tasks.SetStatus(job.TaskID, models.StatusFinished, ""); err != nil {
		log.Error().Err(err).Msg("Error updating task status")
	}
	p.deps.Notifier.Notify(job.TaskID)
	p.publish(ctx, job.TaskID)
	p.mirror(ctx, result.OutputPath)

	log.Info().
		Str("output_file", result.OutputPath).
		Int64("size_after", result.SizeAfter).
		Dur("processing_time", elapsed).
		Msg("Image processed successfully")

	p.deps.Output.Send(fmt.Sprintf("Task %s finished, processed image saved to: %s", job.TaskID, result.OutputPath))
}

func (p *Pool) execute(ctx context.Context, job Job) (*models.Image, *imageprocessor.ProcessingResult, error) {
	img, err := p.deps.Images.Describe(job.ImageID)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading image record: %w", err)
	}

	tracing.AddAttribute(ctx, "source_path", img.Path)
	result, err := p.deps.Processor.Process(ctx, img.Path, job.OutputFile, job.Transformations)
	if err != nil {
		return nil, nil, err
	}
	tracing.AddEvent(ctx, "image.saved", attribute.Int64("size_after", result.SizeAfter))
	return img, result, nil
}

// fail releases the job's usage before the terminal status is written, so a
// reader that sees failed also sees the released usage.
func (p *Pool) fail(ctx context.Context, job Job, elapsed time.Duration, cause error) {
	log := logger.FromContext(ctx)
	log.Error().Err(cause).Msg("Error processing image")

	tracing.RecordError(ctx, cause)
	metrics.RecordProcessingTime(ctx, string(models.StatusFailed), elapsed)

	p.release(ctx, job)
	if err := p.deps.Tasks.SetStatus(job.TaskID, models.StatusFailed, cause.Error()); err != nil {
		log.Error().Err(err).Msg("Error updating task status")
	}
	p.deps.Notifier.Notify(job.TaskID)
	p.publish(ctx, job.TaskID)

	p.deps.Output.Send(fmt.Sprintf("Task %s failed: %v", job.TaskID, cause))
}

func (p *Pool) release(ctx context.Context, job Job) {
	if err := p.deps.Images.ReleaseUsed(job.ImageID, job.TaskID); err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("Error releasing image usage")
	}
}

func (p *Pool) publish(ctx context.Context, taskID models.ID) {
	task, err := p.deps.Tasks.Get(taskID)
	if err != nil {
		return
	}
	if err := p.deps.Publisher.Publish(ctx, events.NewTaskEvent(task, p.deps.Clock.Now())); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Error publishing task event")
	}
}

func (p *Pool) mirror(ctx context.Context, path string) {
	object, err := p.deps.Mirror.Upload(ctx, path)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("path", path).Msg("Error mirroring output file")
		return
	}
	if object != "" {
		tracing.AddAttribute(ctx, "mirror_object", object)
	}
}
