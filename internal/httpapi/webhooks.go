package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voip-billing/internal/calls"
	"voip-billing/internal/monitor"
	"voip-billing/internal/rates"
	"voip-billing/pkg/logger"
)

// CallEvents receives call lifecycle events from the switch event bridge.
//
// NOTE: In production these endpoints must be protected by switch-side
// authentication (shared secret or mTLS); they are not customer-facing.
type CallEvents struct {
	Monitor *monitor.Manager
}

type callStartedRequest struct {
	CallID      string    `json:"call_id"`
	AccountID   string    `json:"account_id"`
	Destination string    `json:"destination"`
	StartTime   time.Time `json:"start_time"`
}

// CallStarted admits a new call into real-time billing. A destination with
// no rate is rejected up front so the switch can refuse the call.
func (h CallEvents) CallStarted(c *gin.Context) {
	var req callStartedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.StartTime.IsZero() {
		req.StartTime = time.Now().UTC()
	}

	err := h.Monitor.Watch(c.Request.Context(), calls.Session{
		CallID:      req.CallID,
		AccountID:   req.AccountID,
		Destination: req.Destination,
		StartTime:   req.StartTime,
		Status:      calls.StatusInitiated,
		CreatedAt:   time.Now().UTC(),
	})
	switch {
	case err == nil:
		logger.FromGin(c).Info("call admitted",
			"call_id", req.CallID, "account_id", req.AccountID, "destination", req.Destination)
		c.JSON(http.StatusAccepted, gin.H{"status": "watching"})
	case errors.Is(err, rates.ErrRateNotFound):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "no rate for destination"})
	case errors.Is(err, monitor.ErrTooManyCalls):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "concurrent call limit reached"})
	case errors.Is(err, monitor.ErrAlreadyWatched):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already watched"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type callStatusRequest struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

// CallStatus applies a progress event (ringing, answered, in_progress).
func (h CallEvents) CallStatus(c *gin.Context) {
	var req callStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	err := h.Monitor.MarkStatus(c.Request.Context(), req.CallID, calls.Status(req.Status))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, calls.ErrSessionNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
	case errors.Is(err, calls.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

type callEndedRequest struct {
	CallID          string `json:"call_id"`
	DurationSeconds int    `json:"duration_seconds"`
	Status          string `json:"status"`
}

// CallEnded triggers the final reconciliation charge and freezes the bill.
func (h CallEvents) CallEnded(c *gin.Context) {
	var req callEndedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status := calls.Status(req.Status)
	if status == "" {
		status = calls.StatusCompleted
	}

	err := h.Monitor.CallEnded(c.Request.Context(), req.CallID, req.DurationSeconds, status)
	switch {
	case err == nil:
		logger.FromGin(c).Info("call ended",
			"call_id", req.CallID, "duration_seconds", req.DurationSeconds, "status", string(status))
		c.JSON(http.StatusOK, gin.H{"status": "reconciling"})
	case errors.Is(err, monitor.ErrNotWatched):
		// The monitor never saw this call; the CDR settlement path owns it.
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not watched"})
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
