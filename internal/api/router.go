package api

import (
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"resilience-notifier/internal/config"
	"resilience-notifier/internal/detector"
	"resilience-notifier/internal/dispatcher"
)

// NewRouter wires the HTTP surface: breach lifecycle, queue management,
// batch jobs, metrics, and the live alert WebSocket.
func NewRouter(store Store, det *detector.Detector, disp *dispatcher.Dispatcher, hub *AlertHub, logger *logrus.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))

	h := &Handler{
		store:  store,
		det:    det,
		disp:   disp,
		hub:    hub,
		logger: logger,
		cfg:    cfg,
	}

	v1 := r.Group(cfg.API.BasePath, OrgID())
	{
		v1.POST("/breaches", h.CreateBreach)
		v1.GET("/breaches", h.ListBreaches)
		v1.GET("/breaches/:id", h.GetBreach)
		v1.POST("/breaches/:id/escalate", h.EscalateBreach)
		v1.POST("/breaches/:id/acknowledge", h.AcknowledgeBreach)
		v1.POST("/breaches/:id/progress", h.ProgressBreach)
		v1.POST("/breaches/:id/resolve", h.ResolveBreach)
		v1.POST("/breaches/:id/board-report", h.MarkBoardReported)

		v1.POST("/notifications", h.EnqueueNotification)
		v1.GET("/notifications", h.ListNotifications)
		v1.GET("/notifications/:id", h.GetNotification)
		v1.POST("/notifications/:id/cancel", h.CancelNotification)

		v1.POST("/batch-jobs", h.CreateBatchJob)
		v1.GET("/batch-jobs/:id", h.GetBatchJob)
		v1.POST("/batch-jobs/:id/cancel", h.CancelBatchJob)

		v1.GET("/queue/metrics", h.QueueMetrics)
		v1.GET("/ws/alerts", h.AlertStream)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", func(c *gin.Context) {
		metrics.WritePrometheus(c.Writer, true)
	})

	return r
}
