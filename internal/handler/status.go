// Package handler exposes the read-only operational surface of the mirror
// fund process.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mirrorfund/internal/ingest"
	"mirrorfund/internal/mirror"
)

// StatusHandler serves liveness, readiness and the counter snapshot.
type StatusHandler struct {
	Pipeline *ingest.Pipeline
	Mirror   *mirror.Service

	FundName  string
	IndexName string
	DryRun    bool
}

func (h *StatusHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
	r.GET("/api/status", h.status)
}

func (h *StatusHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ready reports 200 once the ingestion loop has completed at least one poll.
func (h *StatusHandler) ready(c *gin.Context) {
	if h.Pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "pipeline_missing"})
		return
	}
	if h.Pipeline.Stats().Polls == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "waiting_for_first_poll"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *StatusHandler) status(c *gin.Context) {
	if h.Pipeline == nil {
		Error(c, http.StatusServiceUnavailable, "pipeline not running")
		return
	}
	data := gin.H{
		"fund":   h.FundName,
		"index":  h.IndexName,
		"dryRun": h.DryRun,
		"ingest": h.Pipeline.Stats(),
	}
	if h.Mirror != nil {
		data["mirror"] = h.Mirror.Stats()
	}
	Ok(c, data)
}
