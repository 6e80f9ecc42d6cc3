package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OrgID resolves the caller's organization from the X-Org-ID header. The
// upstream session layer is trusted to have authenticated the value.
func OrgID() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-Org-ID")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing X-Org-ID header"})
			return
		}
		orgID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid X-Org-ID header"})
			return
		}
		c.Set("org_id", orgID)
		c.Next()
	}
}

func orgFromContext(c *gin.Context) uuid.UUID {
	return c.MustGet("org_id").(uuid.UUID)
}

// RequestLogger logs each request with method, path, status, and latency.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("Request handled")
	}
}
