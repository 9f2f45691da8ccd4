package disputes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/logging"
	"github.com/stockhaul/stockhaul/internal/payments"
	"github.com/stockhaul/stockhaul/internal/trips"
	"github.com/stockhaul/stockhaul/internal/validation"
)

// Handler exposes dispute endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers party-facing dispute routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	authed := r.Group("", identity.RequireIdentity())
	authed.POST("/trips/:id/disputes", h.OpenDispute)
	authed.GET("/disputes/:id", h.GetDispute)
	authed.POST("/disputes/:id/cancel", h.CancelDispute)
}

// RegisterAdminRoutes registers adjudication routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/disputes/:id/start-review", h.StartReview)
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
}

// OpenRequest is the payload for raising a dispute.
type OpenRequest struct {
	ReasonCode      string `json:"reasonCode" binding:"required"`
	Description     string `json:"description"`
	RequestedAction string `json:"requestedAction"`
}

func (h *Handler) OpenDispute(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	tripID, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid trip id"})
		return
	}

	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": err.Error()})
		return
	}

	dispute, err := h.service.Open(c.Request.Context(), caller, tripID, OpenParams{
		ReasonCode:      validation.SanitizeString(req.ReasonCode, 64),
		Description:     validation.SanitizeString(req.Description, validation.MaxReasonLength),
		RequestedAction: validation.SanitizeString(req.RequestedAction, 64),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

func (h *Handler) GetDispute(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid dispute id"})
		return
	}

	dispute, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

func (h *Handler) CancelDispute(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid dispute id"})
		return
	}

	dispute, err := h.service.Cancel(c.Request.Context(), caller, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

func (h *Handler) StartReview(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid dispute id"})
		return
	}

	dispute, err := h.service.StartReview(c.Request.Context(), caller, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// ResolveRequest is the adjudication payload. Split outcomes carry both
// amounts in minor units.
type ResolveRequest struct {
	Outcome         Outcome `json:"outcome" binding:"required"`
	AmountToHauler  int64   `json:"amountToHauler"`
	AmountToShipper int64   `json:"amountToShipper"`
}

func (h *Handler) ResolveDispute(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid dispute id"})
		return
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": err.Error()})
		return
	}

	dispute, err := h.service.Resolve(c.Request.Context(), caller, id, req.Outcome, req.AmountToHauler, req.AmountToShipper)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "DISPUTE_NOT_FOUND", "message": "dispute not found"})
	case errors.Is(err, trips.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "TRIP_NOT_FOUND", "message": "trip not found"})
	case errors.Is(err, payments.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "PAYMENT_NOT_FOUND", "message": "payment not found"})
	case errors.Is(err, ErrAlreadyOpen):
		c.JSON(http.StatusConflict, gin.H{"error": "DISPUTE_ALREADY_OPEN", "message": "an active dispute already exists for this payment"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN", "message": "not allowed"})
	case errors.Is(err, payments.ErrSplitMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "SPLIT_VALIDATION_ERROR", "message": "split amounts must sum to the payment amount"})
	case errors.Is(err, ErrBadOutcome):
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "unknown resolution outcome"})
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, trips.ErrInvalidStatus),
		errors.Is(err, payments.ErrInvalidStatus), errors.Is(err, payments.ErrEscrowNotFunded):
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_STATE", "message": "not in a valid state for this operation"})
	default:
		logging.L(c.Request.Context()).Error("dispute operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "internal error"})
	}
}

func idParam(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}
