package api

import (
	"convertd/config"
	"convertd/task"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(tm *task.Manager, cfg *config.Config, logger hclog.Logger) *gin.Engine {
	r := gin.Default()
	r.Use(MetricsMiddleware())
	h := NewHandler(tm, cfg, logger.Named("api"))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	if cfg.MetricsEnable {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/tasks", h.handleCreateTask)
		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTaskStatus)
		v1.PATCH("/tasks/:taskId/cancel", h.handleCancelTask)
		v1.POST("/tasks/cancel-all", h.handleCancelAll)

		v1.GET("/presets", h.handleListPresets)
		v1.GET("/formats", h.handleListFormats)
		v1.GET("/formats/:ext", h.handleGetFormat)
		v1.POST("/probe", h.handleProbe)
	}
	return r
}
