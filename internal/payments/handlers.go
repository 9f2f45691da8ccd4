package payments

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/logging"
	"github.com/stockhaul/stockhaul/internal/metrics"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers caller-facing payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:id", identity.RequireIdentity(), h.GetPayment)
	r.POST("/trips/:id/funding-intent", identity.RequireIdentity(), h.CreateFundingIntent)
}

// RegisterProviderRoutes registers the unauthenticated provider webhook.
func (h *Handler) RegisterProviderRoutes(r *gin.RouterGroup) {
	r.POST("/provider/webhook", h.ProviderWebhook)
}

// RegisterAdminRoutes registers admin-only payment operations.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/payments/:id/force-release", h.ForceRelease)
	r.POST("/payments/:id/force-refund", h.ForceRefund)
	r.POST("/payments/sweep", h.Sweep)
}

func (h *Handler) GetPayment(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid payment id"})
		return
	}

	payment, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) CreateFundingIntent(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	tripID, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid trip id"})
		return
	}

	intent, err := h.service.CreateFundingIntent(c.Request.Context(), caller, tripID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

// ProviderWebhookRequest is the payload the payment provider delivers.
type ProviderWebhookRequest struct {
	IntentID string `json:"intentId" binding:"required"`
	Event    string `json:"event" binding:"required"`
	ChargeID string `json:"chargeId"`
}

func (h *Handler) ProviderWebhook(c *gin.Context) {
	if !h.service.provider.VerifyWebhook(c.GetHeader("X-Provider-Secret")) {
		metrics.ProviderWebhooksTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "FORBIDDEN", "message": "webhook verification failed"})
		return
	}

	var req ProviderWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.ProviderWebhooksTotal.WithLabelValues("malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": err.Error()})
		return
	}

	_, err := h.service.HandleProviderEvent(c.Request.Context(), req.IntentID, req.Event, req.ChargeID)
	if err != nil {
		if errors.Is(err, ErrUnknownIntent) {
			// Acknowledge so the provider stops redelivering.
			metrics.ProviderWebhooksTotal.WithLabelValues("unknown_intent").Inc()
			logging.L(c.Request.Context()).Warn("provider webhook for unknown intent", "intentId", req.IntentID)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		metrics.ProviderWebhooksTotal.WithLabelValues("error").Inc()
		h.writeError(c, err)
		return
	}
	metrics.ProviderWebhooksTotal.WithLabelValues("processed").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) ForceRelease(c *gin.Context) {
	h.force(c, h.service.ForceRelease)
}

func (h *Handler) ForceRefund(c *gin.Context) {
	h.force(c, h.service.ForceRefund)
}

func (h *Handler) force(c *gin.Context, op func(ctx context.Context, caller identity.Identity, id int64) (*Payment, error)) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid payment id"})
		return
	}

	payment, err := op(c.Request.Context(), caller, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) Sweep(c *gin.Context) {
	released, err := h.service.ReleaseDue(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": len(released), "paymentIds": released})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "PAYMENT_NOT_FOUND", "message": "payment not found"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN", "message": "not allowed"})
	case errors.Is(err, ErrEscrowNotFunded):
		c.JSON(http.StatusBadRequest, gin.H{"error": "ESCROW_NOT_FUNDED", "message": "escrow is not funded"})
	case errors.Is(err, ErrSplitMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "SPLIT_VALIDATION_ERROR", "message": "split amounts must sum to the payment amount"})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_STATE", "message": "payment is not in a valid status for this operation"})
	default:
		logging.L(c.Request.Context()).Error("payment operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "internal error"})
	}
}

func idParam(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}
