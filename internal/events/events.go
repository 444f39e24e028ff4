// Package events publishes task lifecycle events to interested listeners.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
)

// Event describes one task status change.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	TaskID     models.ID         `json:"task_id"`
	ImageID    models.ID         `json:"image_id"`
	Status     models.TaskStatus `json:"status"`
	OutputFile string            `json:"output_file,omitempty"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Publisher defines the interface for event delivery
type Publisher interface {
	Publish(ctx context.Context, event Event) error

	// Close releases the underlying connection
	Close() error
}

// TypeFor returns the event type for a status, e.g. "task.finished".
func TypeFor(status models.TaskStatus) string {
	return "task." + string(status)
}

// NewTaskEvent builds the event for the task's current status.
func NewTaskEvent(task *models.Task, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeFor(task.Status),
		TaskID:     task.ID,
		ImageID:    task.ImageID,
		Status:     task.Status,
		OutputFile: task.OutputFile,
		Error:      task.Error,
		Timestamp:  at,
	}
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
