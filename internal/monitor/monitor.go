// Package monitor reconciles finished tasks with pending image deletions.
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/not-nullexception/image-orchestrator/internal/db"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/not-nullexception/image-orchestrator/internal/metrics"
	"github.com/not-nullexception/image-orchestrator/internal/output"
	"github.com/rs/zerolog"
)

// sentinel ends Run once every id queued before it has been handled.
const sentinel models.ID = 0

// Monitor consumes ids of tasks that reached a terminal status and completes
// deferred deletions of the images they used.
type Monitor struct {
	tasks        db.TaskRepository
	images       db.ImageRepository
	out          output.Reporter
	finished     chan models.ID
	pollInterval time.Duration
	clock        clockwork.Clock
	stopped      atomic.Bool
	done         chan struct{}
	logger       zerolog.Logger
}

func New(
	tasks db.TaskRepository,
	images db.ImageRepository,
	out output.Reporter,
	bufferSize int,
	pollInterval time.Duration,
	clock clockwork.Clock,
) *Monitor {
	return &Monitor{
		tasks:        tasks,
		images:       images,
		out:          out,
		finished:     make(chan models.ID, bufferSize),
		pollInterval: pollInterval,
		clock:        clock,
		done:         make(chan struct{}),
		logger:       logger.GetLogger("monitor"),
	}
}

// Notify queues a finished task id. It never blocks once Run has returned.
func (m *Monitor) Notify(taskID models.ID) {
	select {
	case m.finished <- taskID:
	case <-m.done:
		m.logger.Warn().Str("task_id", taskID.String()).Msg("Monitor stopped, dropping task notification")
	}
}

// Run handles ids until the sentinel queued by Stop arrives, or until the
// stop flag set by Abort is seen at a poll timeout.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)
	m.logger.Info().Msg("Completion monitor started")

	for {
		select {
		case id := <-m.finished:
			if id == sentinel {
				m.logger.Info().Msg("Completion monitor stopped")
				return
			}
			m.reconcile(ctx, id)
		case <-m.clock.After(m.pollInterval):
			if m.stopped.Load() {
				m.logger.Info().Msg("Completion monitor aborted")
				return
			}
		}
	}
}

// Stop queues the sentinel behind every notification already sent.
func (m *Monitor) Stop() {
	select {
	case m.finished <- sentinel:
	case <-m.done:
	}
}

// Abort makes Run return at its next poll timeout without draining.
func (m *Monitor) Abort() {
	m.stopped.Store(true)
}

// Done is closed once Run has returned.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) reconcile(ctx context.Context, taskID models.ID) {
	log := logger.GetLoggerWithContext(ctx, "monitor").With().Str("task_id", taskID.String()).Logger()

	task, err := m.tasks.Get(taskID)
	if err != nil {
		log.Warn().Err(err).Msg("Finished task not found")
		return
	}
	if !task.Status.IsTerminal() {
		log.Warn().Str("status", string(task.Status)).Msg("Task is not terminal, skipping")
		return
	}

	deleted, err := m.images.TryDeferredDelete(task.ImageID)
	if err != nil {
		log.Error().Err(err).Str("image_id", task.ImageID.String()).Msg("Error deleting image")
		m.out.Send(err.Error())
		return
	}
	if !deleted {
		return
	}

	metrics.RecordDeletion("deferred")
	log.Info().Str("image_id", task.ImageID.String()).Msg("Deferred deletion completed")
	m.out.Send("Image " + task.ImageID.String() + " deleted after its last task finished")
}
