package api

import (
	"net/http"

	"ea-license-server/internal/database"

	"github.com/gin-gonic/gin"
)

// handleListPlans is the public catalog of purchasable plans
func (s *Server) handleListPlans(c *gin.Context) {
	plans, err := s.repo.ListPlans(c.Request.Context(), true)
	if err != nil {
		s.logger.WithError(err).Error("plan list failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if plans == nil {
		plans = []database.SubscriptionPlan{}
	}
	successResponse(c, gin.H{"plans": plans})
}

// handleListAllPlans returns every plan including retired ones
func (s *Server) handleListAllPlans(c *gin.Context) {
	plans, err := s.repo.ListPlans(c.Request.Context(), false)
	if err != nil {
		s.logger.WithError(err).Error("plan list failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if plans == nil {
		plans = []database.SubscriptionPlan{}
	}
	successResponse(c, gin.H{"plans": plans})
}

type planRequest struct {
	Name         string  `json:"name" binding:"required"`
	Description  string  `json:"description"`
	Price        float64 `json:"price"`
	DurationDays int     `json:"duration_days" binding:"required,min=1"`
	MaxAccounts  int     `json:"max_accounts" binding:"required,min=1"`
	IsActive     *bool   `json:"is_active"`
}

// handleCreatePlan adds a plan to the catalog
func (s *Server) handleCreatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "name, duration_days and max_accounts are required")
		return
	}

	plan := &database.SubscriptionPlan{
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		MaxAccounts:  req.MaxAccounts,
		IsActive:     req.IsActive == nil || *req.IsActive,
	}
	if err := s.repo.CreatePlan(c.Request.Context(), plan); err != nil {
		s.logger.WithError(err).Error("plan create failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": plan})
}

// handleUpdatePlan edits a plan. Existing licenses keep the terms
// they were issued with; duration changes apply to future issues and
// extensions only.
func (s *Server) handleUpdatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "name, duration_days and max_accounts are required")
		return
	}

	existing, err := s.repo.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.WithError(err).Error("plan lookup failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if existing == nil {
		errorResponse(c, http.StatusNotFound, "plan not found")
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.Price = req.Price
	existing.DurationDays = req.DurationDays
	existing.MaxAccounts = req.MaxAccounts
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}

	if err := s.repo.UpdatePlan(c.Request.Context(), existing); err != nil {
		s.logger.WithError(err).Error("plan update failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	successResponse(c, existing)
}

// handleDeactivatePlan retires a plan from the catalog
func (s *Server) handleDeactivatePlan(c *gin.Context) {
	if err := s.repo.DeactivatePlan(c.Request.Context(), c.Param("id")); err != nil {
		s.logger.WithError(err).Error("plan deactivate failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	successResponse(c, gin.H{"deactivated": true})
}
