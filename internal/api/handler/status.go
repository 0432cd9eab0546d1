package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mwirth/immoharvest/internal/harvest"
)

// SnapshotProvider exposes the live state of the running harvest.
type SnapshotProvider interface {
	Snapshot() []harvest.SourceSnapshot
}

// StatusHandler serves the run progress endpoint.
type StatusHandler struct {
	provider SnapshotProvider
	runID    string
	started  time.Time
}

// NewStatusHandler creates a status handler backed by the supervisor.
func NewStatusHandler(provider SnapshotProvider, runID string) *StatusHandler {
	return &StatusHandler{
		provider: provider,
		runID:    runID,
		started:  time.Now(),
	}
}

// Status returns per-source progress counters for the current run.
func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"run_id":     h.runID,
		"uptime_s":   int64(time.Since(h.started).Seconds()),
		"sources":    h.provider.Snapshot(),
		"checked_at": time.Now().UTC(),
	})
}
