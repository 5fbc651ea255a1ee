package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ea-license-server/internal/cache"
	"ea-license-server/internal/commands"
	"ea-license-server/internal/database"
	"ea-license-server/internal/license"
	"ea-license-server/internal/telemetry"

	"github.com/gin-gonic/gin"
)

// agentCredentials is the envelope every agent request carries
type agentCredentials struct {
	LicenseKey string `json:"license_key" binding:"required"`
	AccountID  string `json:"account_id" binding:"required"`
	HardwareID string `json:"hardware_id"`
}

// rejectAgent sends a business rejection. HTTP 200 on purpose: the
// agent distinguishes transport failures (retry) from license
// rejections (stop trading) by the body, not the status code.
func rejectAgent(c *gin.Context, code, message string) {
	c.JSON(http.StatusOK, gin.H{
		"success": false,
		"valid":   false,
		"code":    code,
		"message": message,
	})
}

// handleVerify is the agent's license check, run on startup and then
// periodically
func (s *Server) handleVerify(c *gin.Context) {
	var req struct {
		agentCredentials
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		// Even an attempt the server cannot parse lands in the
		// verification log before the rejection goes out
		reason := "Invalid request payload"
		switch {
		case req.LicenseKey == "":
			reason = "License key is required"
		case req.AccountID == "":
			reason = "MT5 account is required"
		}
		if aerr := s.authority.RecordAttempt(c.Request.Context(), nil, license.VerifyRequest{
			LicenseKey: req.LicenseKey,
			AccountID:  req.AccountID,
			HardwareID: req.HardwareID,
			SourceIP:   c.ClientIP(),
		}, false, reason); aerr != nil {
			s.logger.WithError(aerr).Error("failed to audit malformed verification attempt")
			errorResponse(c, http.StatusInternalServerError, "Internal error")
			return
		}
		rejectAgent(c, license.CodeMalformedPayload, reason)
		return
	}

	key := license.NormalizeKey(req.LicenseKey)

	// Fast path: a recent positive verification short-circuits the
	// pipeline. Only positive results are ever cached, and the served
	// hit still gets its own verification-log row.
	if s.cacheService != nil {
		if cached, err := s.cacheService.GetVerifyResult(c.Request.Context(), key, req.AccountID); err == nil && cached != nil {
			licID := cached.LicenseID
			if aerr := s.authority.RecordAttempt(c.Request.Context(), &licID, license.VerifyRequest{
				LicenseKey: req.LicenseKey,
				AccountID:  req.AccountID,
				HardwareID: req.HardwareID,
				SourceIP:   c.ClientIP(),
			}, true, "OK (cached)"); aerr != nil {
				s.logger.WithError(aerr).Error("failed to audit cached verification")
				errorResponse(c, http.StatusInternalServerError, "Internal error")
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"success":        true,
				"valid":          true,
				"message":        "License valid",
				"expires_at":     cached.ExpiresAt,
				"days_remaining": cached.DaysRemaining,
				"bound_account":  req.AccountID,
			})
			return
		}
	}

	result, err := s.authority.Verify(c.Request.Context(), license.VerifyRequest{
		LicenseKey: req.LicenseKey,
		AccountID:  req.AccountID,
		HardwareID: req.HardwareID,
		SourceIP:   c.ClientIP(),
	})
	if err != nil {
		s.logger.WithError(err).Error("verification pipeline failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}

	if !result.Valid {
		body := gin.H{
			"success": false,
			"valid":   false,
			"code":    result.Code,
			"message": result.Message,
		}
		if result.License != nil {
			body["status"] = result.License.Status
		}
		c.JSON(http.StatusOK, body)
		return
	}

	if s.cacheService != nil && s.agentCfg.VerifyCacheSeconds > 0 {
		ttl := time.Duration(s.agentCfg.VerifyCacheSeconds) * time.Second
		_ = s.cacheService.SetVerifyResult(c.Request.Context(), key, req.AccountID, &cache.CachedVerifyResult{
			Valid:         true,
			LicenseID:     result.License.ID,
			ExpiresAt:     result.ExpiresAt,
			DaysRemaining: result.DaysRemaining,
		}, ttl)
	}
	s.touchPresence(c, result.License.ID)

	if s.eventBus != nil {
		s.eventBus.PublishLicenseVerified(result.License.ID, req.AccountID)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"valid":          true,
		"message":        result.Message,
		"expires_at":     result.ExpiresAt,
		"days_remaining": result.DaysRemaining,
		"plan":           result.License.PlanName,
		"max_accounts":   result.License.PlanMaxAccounts,
		"bound_account":  req.AccountID,
	})
}

// resolveAgent authenticates the credential envelope carried by
// non-verify agent calls. Returns nil after writing the rejection.
func (s *Server) resolveAgent(c *gin.Context, creds agentCredentials) *database.License {
	lic, code, err := s.authority.Authenticate(c.Request.Context(), creds.LicenseKey, creds.AccountID, creds.HardwareID)
	if err != nil {
		s.logger.WithError(err).Error("agent authentication failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return nil
	}
	if code != "" {
		rejectAgent(c, code, "License check failed")
		return nil
	}
	s.touchPresence(c, lic.ID)
	return lic
}

// resolveReporter resolves the license for telemetry without a state
// gate. Suspended and expired agents keep reporting so the operator
// retains visibility into them; only an unknown key is turned away.
func (s *Server) resolveReporter(c *gin.Context, creds agentCredentials) *database.License {
	lic, code, err := s.authority.Resolve(c.Request.Context(), creds.LicenseKey)
	if err != nil {
		s.logger.WithError(err).Error("agent license resolution failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return nil
	}
	if code != "" {
		rejectAgent(c, code, "License check failed")
		return nil
	}
	s.touchPresence(c, lic.ID)
	return lic
}

func (s *Server) touchPresence(c *gin.Context, licenseID string) {
	if s.cacheService == nil {
		return
	}
	if err := s.cacheService.TouchAgentPresence(c.Request.Context(), licenseID); err == nil {
		return
	}
	// Presence is advisory; degradation is already logged by the cache
}

// handleTelemetry ingests a periodic state report from an agent.
// Reports are accepted regardless of license state so a suspended or
// lapsed agent stays visible to the operator.
func (s *Server) handleTelemetry(c *gin.Context) {
	var req struct {
		agentCredentials
		telemetry.Report
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		rejectAgent(c, license.CodeMalformedPayload, "Invalid request payload")
		return
	}

	lic := s.resolveReporter(c, req.agentCredentials)
	if lic == nil {
		return
	}

	snap, err := s.ingester.Ingest(c.Request.Context(), lic.ID, &req.Report)
	if err != nil {
		s.logger.WithError(err).Error("telemetry ingest failed", "license_id", lic.ID)
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"closed_history": len(snap.ClosedPositions),
	})
}

// handlePollCommands returns the agent's pending commands, expiring
// overdue ones first
func (s *Server) handlePollCommands(c *gin.Context) {
	var req struct {
		agentCredentials
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		rejectAgent(c, license.CodeMalformedPayload, "Invalid request payload")
		return
	}

	lic := s.resolveAgent(c, req.agentCredentials)
	if lic == nil {
		return
	}

	pending, err := s.queue.Poll(c.Request.Context(), lic.ID)
	if err != nil {
		s.logger.WithError(err).Error("command poll failed", "license_id", lic.ID)
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}

	if pending == nil {
		pending = []database.TradeCommand{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"commands": pending,
	})
}

// handleReportCommand records the agent's execution result
func (s *Server) handleReportCommand(c *gin.Context) {
	var req struct {
		agentCredentials
		CommandID  string          `json:"command_id" binding:"required"`
		Success    bool            `json:"success"`
		Message    string          `json:"message"`
		ResultData json.RawMessage `json:"result_data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		rejectAgent(c, license.CodeMalformedPayload, "Invalid request payload")
		return
	}

	lic := s.resolveAgent(c, req.agentCredentials)
	if lic == nil {
		return
	}

	cmd, err := s.queue.Report(c.Request.Context(), lic.ID, req.CommandID, req.Success, req.Message, req.ResultData)
	if err != nil {
		switch {
		case errors.Is(err, commands.ErrCommandNotFound):
			rejectAgent(c, "COMMAND_NOT_FOUND", "Command not found")
		case errors.Is(err, commands.ErrCommandAlreadyTerminal):
			rejectAgent(c, "COMMAND_ALREADY_TERMINAL", "Command result already recorded")
		default:
			s.logger.WithError(err).Error("command report failed", "license_id", lic.ID)
			errorResponse(c, http.StatusInternalServerError, "Internal error")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"command": cmd,
	})
}

// handleAgentLogs records a batch of diagnostic entries
func (s *Server) handleAgentLogs(c *gin.Context) {
	var req struct {
		agentCredentials
		Logs []database.ActionLogEntry `json:"logs" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		rejectAgent(c, license.CodeMalformedPayload, "Invalid request payload")
		return
	}

	lic := s.resolveAgent(c, req.agentCredentials)
	if lic == nil {
		return
	}

	n, err := s.recorder.Record(c.Request.Context(), lic.ID, req.Logs)
	if err != nil {
		s.logger.WithError(err).Error("action log write failed", "license_id", lic.ID)
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"recorded": n,
	})
}
