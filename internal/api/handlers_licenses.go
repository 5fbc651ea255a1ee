package api

import (
	"errors"
	"net/http"
	"strconv"

	"ea-license-server/internal/license"

	"github.com/gin-gonic/gin"
)

// handleListLicenses returns a paginated license list, optionally
// filtered by status
func (s *Server) handleListLicenses(c *gin.Context) {
	status := c.Query("status")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	licenses, total, err := s.repo.ListLicenses(c.Request.Context(), status, limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("license list failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}

	successResponse(c, gin.H{
		"licenses": licenses,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// handleIssueLicense creates a license and mails the key to the buyer
// when SMTP is configured
func (s *Server) handleIssueLicense(c *gin.Context) {
	var req struct {
		PlanID     string `json:"plan_id" binding:"required"`
		UserEmail  string `json:"user_email"`
		MT5Account string `json:"mt5_account"`
		Notes      string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "plan_id is required")
		return
	}

	lic, err := s.authority.Issue(c.Request.Context(), license.IssueRequest{
		PlanID:     req.PlanID,
		UserEmail:  req.UserEmail,
		MT5Account: req.MT5Account,
		Notes:      req.Notes,
	})
	if err != nil {
		if errors.Is(err, license.ErrPlanNotFound) {
			errorResponse(c, http.StatusBadRequest, "subscription plan not found")
			return
		}
		s.logger.WithError(err).Error("license issue failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}

	if s.emailService != nil && lic.UserEmail != "" {
		if err := s.emailService.SendLicenseIssued(c.Request.Context(), lic); err != nil {
			s.logger.WithError(err).Warn("license issued but email delivery failed", "license_id", lic.ID)
		}
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": lic})
}

// handleGetLicense returns one license with its bindings
func (s *Server) handleGetLicense(c *gin.Context) {
	lic, err := s.repo.GetLicenseByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.WithError(err).Error("license lookup failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if lic == nil {
		errorResponse(c, http.StatusNotFound, "license not found")
		return
	}

	bindings, err := s.authority.Bindings(c.Request.Context(), lic.ID)
	if err != nil {
		s.logger.WithError(err).Error("binding list failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}

	online := false
	if s.cacheService != nil {
		online, _ = s.cacheService.AgentOnline(c.Request.Context(), lic.ID)
	}

	successResponse(c, gin.H{
		"license":      lic,
		"bindings":     bindings,
		"agent_online": online,
	})
}

// licenseTransition runs one admin state change and translates the
// domain errors
func (s *Server) licenseTransition(c *gin.Context, op func() error) {
	err := op()
	switch {
	case err == nil:
		s.invalidateVerifyCache(c)
		successResponse(c, gin.H{"updated": true})
	case errors.Is(err, license.ErrNotFound):
		errorResponse(c, http.StatusNotFound, "license not found")
	case errors.Is(err, license.ErrStateMismatch):
		errorResponse(c, http.StatusConflict, err.Error())
	default:
		s.logger.WithError(err).Error("license transition failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
	}
}

// invalidateVerifyCache drops cached verify results for the license
// in the current request so state changes bite immediately
func (s *Server) invalidateVerifyCache(c *gin.Context) {
	if s.cacheService == nil {
		return
	}
	lic, err := s.repo.GetLicenseByID(c.Request.Context(), c.Param("id"))
	if err != nil || lic == nil {
		return
	}
	_ = s.cacheService.InvalidateLicense(c.Request.Context(), lic.Key)
}

func (s *Server) handleSuspendLicense(c *gin.Context) {
	s.licenseTransition(c, func() error {
		return s.authority.Suspend(c.Request.Context(), c.Param("id"))
	})
}

func (s *Server) handleReactivateLicense(c *gin.Context) {
	s.licenseTransition(c, func() error {
		return s.authority.Reactivate(c.Request.Context(), c.Param("id"))
	})
}

func (s *Server) handleCancelLicense(c *gin.Context) {
	s.licenseTransition(c, func() error {
		return s.authority.Cancel(c.Request.Context(), c.Param("id"))
	})
}

// handleExtendLicense renews a license by one plan period
func (s *Server) handleExtendLicense(c *gin.Context) {
	lic, err := s.authority.Extend(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		s.invalidateVerifyCache(c)
		successResponse(c, gin.H{"license": lic})
	case errors.Is(err, license.ErrNotFound):
		errorResponse(c, http.StatusNotFound, "license not found")
	case errors.Is(err, license.ErrStateMismatch):
		errorResponse(c, http.StatusConflict, err.Error())
	default:
		s.logger.WithError(err).Error("license extension failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
	}
}

// handleDeleteLicense removes a license and everything hanging off it
func (s *Server) handleDeleteLicense(c *gin.Context) {
	s.invalidateVerifyCache(c)
	if err := s.repo.DeleteLicense(c.Request.Context(), c.Param("id")); err != nil {
		s.logger.WithError(err).Error("license delete failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	successResponse(c, gin.H{"deleted": true})
}

// handleListBindings returns the accounts bound to a license
func (s *Server) handleListBindings(c *gin.Context) {
	bindings, err := s.authority.Bindings(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.WithError(err).Error("binding list failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	successResponse(c, gin.H{"bindings": bindings})
}

// handleUnbindAccount releases one account slot
func (s *Server) handleUnbindAccount(c *gin.Context) {
	err := s.authority.Unbind(c.Request.Context(), c.Param("id"), c.Param("account"))
	switch {
	case err == nil:
		successResponse(c, gin.H{"unbound": true})
	case errors.Is(err, license.ErrNotFound):
		errorResponse(c, http.StatusNotFound, "license not found")
	default:
		s.logger.WithError(err).Error("unbind failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
	}
}

// handleListVerifications returns the verification audit trail,
// server-wide or scoped to one license
func (s *Server) handleListVerifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := s.repo.ListVerificationLogs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.logger.WithError(err).Error("verification log list failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	successResponse(c, gin.H{"verifications": logs})
}
