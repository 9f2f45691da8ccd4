package offers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/loads"
	"github.com/stockhaul/stockhaul/internal/logging"
	"github.com/stockhaul/stockhaul/internal/pagination"
	"github.com/stockhaul/stockhaul/internal/validation"
)

// Handler exposes offer endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates an offer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers offer routes. All require an authenticated caller.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	authed := r.Group("", identity.RequireIdentity())
	authed.POST("/loads/:id/offers", h.CreateOffer)
	authed.GET("/loads/:id/offers", h.ListOffers)
	authed.GET("/offers/:id", h.GetOffer)
	authed.POST("/offers/:id/withdraw", h.WithdrawOffer)
	authed.POST("/offers/:id/reject", h.RejectOffer)
	authed.POST("/offers/:id/accept", h.AcceptOffer)
}

// CreateRequest is the payload for placing an offer.
type CreateRequest struct {
	Amount    int64      `json:"amount" binding:"required"`
	Currency  string     `json:"currency"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (h *Handler) CreateOffer(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	loadID, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid load id"})
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": err.Error()})
		return
	}

	offer, err := h.service.Create(c.Request.Context(), caller, loadID, CreateParams{
		Amount:    req.Amount,
		Currency:  req.Currency,
		Message:   validation.SanitizeString(req.Message, validation.MaxMessageLength),
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

func (h *Handler) ListOffers(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	loadID, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid load id"})
		return
	}

	params, err := pagination.FromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": err.Error()})
		return
	}

	listed, err := h.service.ListForLoad(c.Request.Context(), caller, loadID, params.AfterID, params.Limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var lastID int64
	if len(listed) > 0 {
		lastID = listed[len(listed)-1].ID
	}
	c.JSON(http.StatusOK, pagination.NewPage(listed, params.Limit, lastID))
}

func (h *Handler) GetOffer(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid offer id"})
		return
	}

	offer, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (h *Handler) WithdrawOffer(c *gin.Context) {
	h.close(c, h.service.Withdraw)
}

func (h *Handler) RejectOffer(c *gin.Context) {
	h.close(c, h.service.Reject)
}

func (h *Handler) close(c *gin.Context, op func(ctx context.Context, caller identity.Identity, id int64) (*Offer, error)) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid offer id"})
		return
	}

	offer, err := op(c.Request.Context(), caller, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (h *Handler) AcceptOffer(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid offer id"})
		return
	}

	result, err := h.service.Accept(c.Request.Context(), caller, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "OFFER_NOT_FOUND", "message": "offer not found"})
	case errors.Is(err, loads.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "LOAD_NOT_FOUND", "message": "load not found"})
	case errors.Is(err, ErrSelfBid):
		c.JSON(http.StatusForbidden, gin.H{"error": "SELF_BID_NOT_ALLOWED", "message": "cannot bid on your own company's load"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN", "message": "not allowed"})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrCurrencyMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": err.Error()})
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrLoadNotOpen):
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_STATE", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("offer operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "internal error"})
	}
}

func idParam(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}
