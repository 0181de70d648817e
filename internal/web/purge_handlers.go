// internal/web/purge_handlers.go - Manual event purging
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// POST /api/checkers/:name/purge?older_than=<epoch> deletes the checker's
// events with a timestamp before older_than.
func (s *Server) purgeChecker(c *gin.Context) {
	name := c.Param("name")

	raw := c.Query("older_than")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than is required"})
		return
	}
	olderThan, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than must be epoch seconds"})
		return
	}

	if !s.knownChecker(c, name) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	deleted, err := s.store.DeleteEventsBefore(ctx, name, olderThan)
	if err != nil {
		logrus.WithError(err).WithField("checker", name).Error("Failed to purge events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge events"})
		return
	}
	s.metrics.RecordPurge(name, deleted)

	logrus.WithFields(logrus.Fields{
		"checker":    name,
		"older_than": olderThan,
		"deleted":    deleted,
	}).Info("Purged events via API")

	c.JSON(http.StatusOK, gin.H{
		"message":   "Events purged successfully",
		"checker":   name,
		"deleted":   deleted,
		"timestamp": time.Now(),
	})
}
