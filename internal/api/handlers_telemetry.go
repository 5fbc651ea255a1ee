package api

import (
	"net/http"
	"strconv"
	"time"

	"ea-license-server/internal/database"

	"github.com/gin-gonic/gin"
)

// handleGetTelemetry returns the latest snapshot for a license
func (s *Server) handleGetTelemetry(c *gin.Context) {
	snap, err := s.ingester.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.WithError(err).Error("telemetry lookup failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if snap == nil {
		errorResponse(c, http.StatusNotFound, "agent has never reported")
		return
	}

	online := false
	if s.cacheService != nil {
		online, _ = s.cacheService.AgentOnline(c.Request.Context(), snap.LicenseID)
	}

	successResponse(c, gin.H{
		"snapshot":     snap,
		"agent_online": online,
	})
}

// handleStaleAgents lists agents that have gone quiet
func (s *Server) handleStaleAgents(c *gin.Context) {
	threshold := time.Duration(s.agentCfg.StaleAfterMinutes) * time.Minute
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}

	snaps, err := s.ingester.StaleAgents(c.Request.Context(), threshold)
	if err != nil {
		s.logger.WithError(err).Error("stale agent list failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if snaps == nil {
		snaps = []database.TelemetrySnapshot{}
	}
	successResponse(c, gin.H{
		"stale_after_minutes": int(threshold.Minutes()),
		"agents":              snaps,
	})
}

// handleListActionLogs returns an agent's diagnostic history
func (s *Server) handleListActionLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))

	logs, err := s.recorder.History(c.Request.Context(), c.Param("id"), c.Query("type"), limit)
	if err != nil {
		s.logger.WithError(err).Error("action log list failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if logs == nil {
		logs = []database.ActionLogEntry{}
	}
	successResponse(c, gin.H{"logs": logs})
}
