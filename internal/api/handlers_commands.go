package api

import (
	"errors"
	"net/http"
	"strconv"

	"ea-license-server/internal/commands"
	"ea-license-server/internal/database"

	"github.com/gin-gonic/gin"
)

// handleCommandHistory returns recent commands for a license
func (s *Server) handleCommandHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	cmds, err := s.queue.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.logger.WithError(err).Error("command history failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if cmds == nil {
		cmds = []database.TradeCommand{}
	}
	successResponse(c, gin.H{"commands": cmds})
}

// respondEnqueued writes the outcome of a command enqueue
func (s *Server) respondEnqueued(c *gin.Context, cmd *database.TradeCommand, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": cmd})
	case errors.Is(err, commands.ErrNoOpenPositions):
		errorResponse(c, http.StatusConflict, "no open positions to close")
	case errors.Is(err, commands.ErrUnknownCommandType):
		errorResponse(c, http.StatusBadRequest, err.Error())
	default:
		s.logger.WithError(err).Error("command enqueue failed")
		errorResponse(c, http.StatusInternalServerError, "Internal error")
	}
}

// handleClosePosition queues a close for a single ticket
func (s *Server) handleClosePosition(c *gin.Context) {
	var req struct {
		Ticket int64 `json:"ticket" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "ticket is required")
		return
	}

	cmd, err := s.queue.ClosePosition(c.Request.Context(), c.Param("id"), req.Ticket)
	s.respondEnqueued(c, cmd, err)
}

// handleCloseBulk queues a close for an explicit ticket list
func (s *Server) handleCloseBulk(c *gin.Context) {
	var req struct {
		Tickets []int64 `json:"tickets" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "tickets list is required")
		return
	}

	cmd, err := s.queue.CloseBulk(c.Request.Context(), c.Param("id"), req.Tickets)
	s.respondEnqueued(c, cmd, err)
}

// handleCloseTopLoss queues a close of the n worst open positions
func (s *Server) handleCloseTopLoss(c *gin.Context) {
	var req struct {
		Count int    `json:"count"`
		Side  string `json:"side"` // buy, sell, or empty for both
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Count <= 0 {
		req.Count = 1
	}

	cmd, err := s.queue.CloseTopLoss(c.Request.Context(), c.Param("id"), req.Count, req.Side)
	s.respondEnqueued(c, cmd, err)
}

func (s *Server) handleCloseAll(c *gin.Context) {
	cmd, err := s.queue.Enqueue(c.Request.Context(), c.Param("id"), database.CommandCloseAll, nil)
	s.respondEnqueued(c, cmd, err)
}

func (s *Server) handleCloseAllBuy(c *gin.Context) {
	cmd, err := s.queue.Enqueue(c.Request.Context(), c.Param("id"), database.CommandCloseAllBuy, nil)
	s.respondEnqueued(c, cmd, err)
}

func (s *Server) handleCloseAllSell(c *gin.Context) {
	cmd, err := s.queue.Enqueue(c.Request.Context(), c.Param("id"), database.CommandCloseAllSell, nil)
	s.respondEnqueued(c, cmd, err)
}
