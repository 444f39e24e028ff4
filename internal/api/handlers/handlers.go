package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/not-nullexception/image-orchestrator/internal/dispatcher"
	"github.com/not-nullexception/image-orchestrator/internal/job"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
)

// Service is the set of orchestrator operations exposed over HTTP.
type Service interface {
	AddImage(ctx context.Context, path string) (models.ID, error)
	Process(ctx context.Context, desc *job.Descriptor) (*models.Task, error)
	Delete(ctx context.Context, id models.ID) (*dispatcher.DeleteResult, error)
	ListImages() []models.ImageSummary
	DescribeImage(id models.ID) (*models.Image, error)
	Task(id models.ID) (*models.Task, error)
	Tasks() []*models.Task
	WaitTask(ctx context.Context, id models.ID) (*models.Task, error)
	ImageCount() int
	TaskCount() int
}

type ErrorResponse struct {
	Error string              `json:"error"`
	Type  apperrors.ErrorType `json:"type"`
}

// respondError maps err to its HTTP status and logs server-side failures.
func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	reqLogger := logger.FromContext(c.Request.Context())
	if status >= http.StatusInternalServerError {
		reqLogger.Error().Err(err).Msg("Request failed")
	} else {
		reqLogger.Warn().Err(err).Msg("Request rejected")
	}

	c.JSON(status, ErrorResponse{Error: err.Error(), Type: apperrors.TypeOf(err)})
}

func parseID(c *gin.Context) (models.ID, bool) {
	id, err := models.ParseID(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.Validation("%v", err))
		return 0, false
	}
	return id, true
}
