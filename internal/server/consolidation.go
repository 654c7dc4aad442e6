package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	consolidationdomain "github.com/smallbiznis/reminder/internal/consolidation/domain"
)

func (s *Server) ListCandidates(c *gin.Context) {
	eligibleOnly, err := parseOptionalBool(c.Query("eligible_only"))
	if err != nil {
		AbortWithError(c, newValidationError("eligible_only", "invalid_eligible_only", "invalid eligible_only"))
		return
	}
	offset, err := parseOptionalInt(c.Query("offset"))
	if err != nil {
		AbortWithError(c, newValidationError("offset", "invalid_offset", "invalid offset"))
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	req := consolidationdomain.ListCandidatesRequest{}
	if eligibleOnly != nil {
		req.EligibleOnly = *eligibleOnly
	}
	if offset != nil {
		req.Offset = *offset
	}
	if limit != nil {
		req.Limit = *limit
	}

	resp, err := s.consolidationSvc.ListCandidates(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CheckEligibility(c *gin.Context) {
	resp, err := s.consolidationSvc.CheckEligibility(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type sendConsolidatedRequest struct {
	CustomerIDs    []string `json:"customer_ids"`
	ScheduledFor   string   `json:"scheduled_for"`
	SendNow        bool     `json:"send_now"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

func (s *Server) SendConsolidated(c *gin.Context) {
	var req sendConsolidatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	scheduledFor, err := parseOptionalTime(req.ScheduledFor)
	if err != nil {
		AbortWithError(c, newValidationError("scheduled_for", "invalid_scheduled_for", "invalid scheduled_for"))
		return
	}
	if scheduledFor != nil && req.SendNow {
		AbortWithError(c, newValidationError("send_now", "conflicting_send_now", "send_now cannot be combined with scheduled_for"))
		return
	}

	customerIDs := make([]string, 0, len(req.CustomerIDs))
	for _, id := range req.CustomerIDs {
		customerIDs = append(customerIDs, strings.TrimSpace(id))
	}

	resp, err := s.consolidationSvc.SendConsolidated(c.Request.Context(), consolidationdomain.SendConsolidatedRequest{
		CustomerIDs:   customerIDs,
		RequestedTime: scheduledFor,
		SendNow:       req.SendNow,
		Timeout:       time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetReminder(c *gin.Context) {
	resp, err := s.consolidationSvc.GetReminder(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type deliveryStatusRequest struct {
	Status     string `json:"status"`
	DispatchID string `json:"dispatch_id"`
	Reason     string `json:"reason"`
	OccurredAt string `json:"occurred_at"`
}

func (s *Server) RecordDeliveryStatus(c *gin.Context) {
	var req deliveryStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	status := consolidationdomain.DeliveryStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		AbortWithError(c, newValidationError("status", "invalid_status", "status must be sent, failed or bounced"))
		return
	}
	occurredAt, err := parseOptionalTime(req.OccurredAt)
	if err != nil {
		AbortWithError(c, newValidationError("occurred_at", "invalid_occurred_at", "invalid occurred_at"))
		return
	}

	resp, err := s.consolidationSvc.RecordDeliveryStatus(c.Request.Context(), consolidationdomain.DeliveryStatusUpdate{
		ReminderID: strings.TrimSpace(c.Param("id")),
		DispatchID: strings.TrimSpace(req.DispatchID),
		Status:     status,
		Reason:     strings.TrimSpace(req.Reason),
		OccurredAt: occurredAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
