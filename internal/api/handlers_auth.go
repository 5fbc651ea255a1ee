package api

import (
	"net/http"

	"ea-license-server/internal/auth"

	"github.com/gin-gonic/gin"
)

// handleLogin authenticates an operator and issues a session token
func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "email and password are required")
		return
	}

	resp, err := s.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if authErr, ok := err.(auth.AuthError); ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}
		s.logger.WithError(err).Error("login failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleMe returns the authenticated operator's profile
func (s *Server) handleMe(c *gin.Context) {
	if !s.authEnabled {
		successResponse(c, gin.H{"auth_enabled": false})
		return
	}

	claims := auth.ClaimsFromContext(c)
	if claims == nil {
		errorResponse(c, http.StatusUnauthorized, "authentication required")
		return
	}
	successResponse(c, claims)
}

// handleChangePassword rotates the operator's own password
func (s *Server) handleChangePassword(c *gin.Context) {
	if !s.authEnabled {
		errorResponse(c, http.StatusBadRequest, "authentication is disabled")
		return
	}

	var req auth.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "current and new password are required")
		return
	}

	claims := auth.ClaimsFromContext(c)
	if claims == nil {
		errorResponse(c, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := s.authService.ChangePassword(c.Request.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		if authErr, ok := err.(auth.AuthError); ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}
		s.logger.WithError(err).Error("password change failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}

	successResponse(c, gin.H{"changed": true})
}
