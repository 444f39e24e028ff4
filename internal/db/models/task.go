package models

import (
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusWaiting  TaskStatus = "waiting"
	StatusRunning  TaskStatus = "running"
	StatusFinished TaskStatus = "finished"
	StatusFailed   TaskStatus = "failed"
)

// IsTerminal reports whether no further transitions are permitted.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// CanTransitionTo enforces waiting -> running -> finished|failed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case StatusWaiting:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusFinished || next == StatusFailed
	default:
		return false
	}
}

// TransformName names one pixel transform.
type TransformName string

const (
	TransformGrayscale  TransformName = "grayscale"
	TransformBlur       TransformName = "blur"
	TransformBrightness TransformName = "brightness"
)

// ParseTransformName returns the transform for a descriptor entry.
func ParseTransformName(s string) (TransformName, error) {
	switch name := TransformName(strings.ToLower(strings.TrimSpace(s))); name {
	case TransformGrayscale, TransformBlur, TransformBrightness:
		return name, nil
	default:
		return "", fmt.Errorf("unknown transformation %q", s)
	}
}

// Transformation is one step of a pipeline. Level is the blur sigma or
// the brightness factor; grayscale ignores it.
type Transformation struct {
	Name  TransformName `json:"name"`
	Level float64       `json:"level,omitempty"`
}

// Names returns the transform names in application order.
func Names(ts []Transformation) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = string(t.Name)
	}
	return names
}

// Task represents one scheduled transformation job
type Task struct {
	ID              ID               `json:"id"`
	ImageID         ID               `json:"image_id"`
	Transformations []Transformation `json:"transformations"`
	OutputFile      string           `json:"output_file"`
	Status          TaskStatus       `json:"status"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	c.Transformations = append([]Transformation(nil), t.Transformations...)
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.FinishedAt != nil {
		v := *t.FinishedAt
		c.FinishedAt = &v
	}
	return &c
}
