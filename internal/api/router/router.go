package router

import (
	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/image-orchestrator/config"
	"github.com/not-nullexception/image-orchestrator/internal/api/handlers"
	"github.com/not-nullexception/image-orchestrator/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func Setup(cfg *config.Config, svc handlers.Service) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// Tracing must run first so the request logger sees the span.
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(middleware.RequestID())
	r.Use(middleware.ContextualLogger("api"))
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics())
	}

	imageHandler := handlers.NewImageHandler(svc)
	taskHandler := handlers.NewTaskHandler(svc, cfg.Server.WaitTimeout)
	healthHandler := handlers.NewHealthHandler(svc, cfg.Tracing.ServiceVersion)

	r.GET("/health", healthHandler.Check)

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	{
		images := api.Group("/images")
		{
			images.POST("", imageHandler.AddImage)
			images.GET("", imageHandler.ListImages)
			images.GET("/:id", imageHandler.GetImage)
			images.DELETE("/:id", imageHandler.DeleteImage)
		}

		tasks := api.Group("/tasks")
		{
			tasks.POST("", taskHandler.CreateTask)
			tasks.GET("", taskHandler.ListTasks)
			tasks.GET("/:id", taskHandler.GetTask)
		}
	}

	return r
}
