package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
)

type HealthHandler struct {
	svc     Service
	version string
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Images    int       `json:"images"`
	Tasks     int       `json:"tasks"`
}

func NewHealthHandler(svc Service, version string) *HealthHandler {
	return &HealthHandler{svc: svc, version: version}
}

// Check handles health check requests
func (h *HealthHandler) Check(c *gin.Context) {
	reqLogger := logger.FromContext(c.Request.Context())
	reqLogger.Debug().Msg("Processing health check request")

	c.JSON(http.StatusOK, HealthResponse{
		Status:    "UP",
		Timestamp: time.Now(),
		Version:   h.version,
		Images:    h.svc.ImageCount(),
		Tasks:     h.svc.TaskCount(),
	})
}
