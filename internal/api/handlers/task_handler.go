package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/not-nullexception/image-orchestrator/internal/job"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
)

type TaskHandler struct {
	svc         Service
	waitTimeout time.Duration
}

type TaskListResponse struct {
	Tasks []*models.Task `json:"tasks"`
	Total int            `json:"total"`
}

func NewTaskHandler(svc Service, waitTimeout time.Duration) *TaskHandler {
	return &TaskHandler{svc: svc, waitTimeout: waitTimeout}
}

// CreateTask accepts a job descriptor as the request body
func (h *TaskHandler) CreateTask(c *gin.Context) {
	reqLogger := logger.FromContext(c.Request.Context())

	body, err := c.GetRawData()
	if err != nil {
		respondError(c, apperrors.Validation("error reading request body: %v", err))
		return
	}

	desc, err := job.Parse(body)
	if err != nil {
		respondError(c, err)
		return
	}

	task, err := h.svc.Process(c.Request.Context(), desc)
	if err != nil {
		respondError(c, err)
		return
	}

	reqLogger.Info().
		Str("task_id", task.ID.String()).
		Str("image_id", task.ImageID.String()).
		Msg("Task accepted")
	c.JSON(http.StatusAccepted, task)
}

// ListTasks lists every task ordered by id
func (h *TaskHandler) ListTasks(c *gin.Context) {
	tasks := h.svc.Tasks()
	c.JSON(http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// GetTask returns a task. With wait=true it blocks until the task is
// finished or failed, or the wait timeout expires.
func (h *TaskHandler) GetTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	wait, _ := strconv.ParseBool(c.DefaultQuery("wait", "false"))
	if !wait {
		task, err := h.svc.Task(id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.waitTimeout)
	defer cancel()

	task, err := h.svc.WaitTask(ctx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		logger.FromContext(c.Request.Context()).Debug().
			Str("task_id", id.String()).
			Msg("Wait timed out, returning current status")
		task, err = h.svc.Task(id)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
