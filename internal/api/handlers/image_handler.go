package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
)

type ImageHandler struct {
	svc Service
}

type AddImageRequest struct {
	Path string `json:"path" binding:"required"`
}

type AddImageResponse struct {
	ID models.ID `json:"id"`
}

type ImageListResponse struct {
	Images []models.ImageSummary `json:"images"`
	Total  int                   `json:"total"`
}

type DeleteImageResponse struct {
	ID     models.ID `json:"id"`
	Status string    `json:"status"`
	InUse  int       `json:"in_use"`
}

func NewImageHandler(svc Service) *ImageHandler {
	return &ImageHandler{svc: svc}
}

// AddImage registers a file that is readable by the server
func (h *ImageHandler) AddImage(c *gin.Context) {
	reqLogger := logger.FromContext(c.Request.Context())

	var req AddImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body: %v", err))
		return
	}

	id, err := h.svc.AddImage(c.Request.Context(), req.Path)
	if err != nil {
		respondError(c, err)
		return
	}

	reqLogger.Info().Str("image_id", id.String()).Str("path", req.Path).Msg("Image added")
	c.JSON(http.StatusCreated, AddImageResponse{ID: id})
}

// ListImages lists all images in insertion order
func (h *ImageHandler) ListImages(c *gin.Context) {
	images := h.svc.ListImages()
	c.JSON(http.StatusOK, ImageListResponse{Images: images, Total: len(images)})
}

// GetImage returns the full image record
func (h *ImageHandler) GetImage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	img, err := h.svc.DescribeImage(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, img)
}

// DeleteImage deletes an image now, or once its last task finishes
func (h *ImageHandler) DeleteImage(c *gin.Context) {
	reqLogger := logger.FromContext(c.Request.Context())

	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.svc.Delete(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	if result.Deleted {
		reqLogger.Info().Str("image_id", id.String()).Msg("Image deleted")
		c.JSON(http.StatusOK, DeleteImageResponse{ID: id, Status: "deleted"})
		return
	}

	reqLogger.Info().Str("image_id", id.String()).Int("in_use", result.InUse).Msg("Image deletion deferred")
	c.JSON(http.StatusAccepted, DeleteImageResponse{ID: id, Status: "deferred", InUse: result.InUse})
}
