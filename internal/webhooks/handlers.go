package webhooks

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/logging"
)

// Handler exposes subscription management endpoints. Subscriptions are
// company-scoped: a caller manages only its own company's endpoints.
type Handler struct {
	store Store
}

// NewHandler creates a subscription handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers subscription routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	authed := r.Group("", identity.RequireIdentity())
	authed.POST("/webhooks", h.CreateSubscription)
	authed.GET("/webhooks", h.ListSubscriptions)
	authed.DELETE("/webhooks/:id", h.DeleteSubscription)
}

// CreateRequest registers a webhook endpoint.
type CreateRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events"`
}

func (h *Handler) CreateSubscription(c *gin.Context) {
	caller, _ := identity.FromContext(c)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": err.Error()})
		return
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "url must be a valid http(s) endpoint"})
		return
	}

	sub := &Subscription{
		CompanyID: caller.CompanyID,
		URL:       req.URL,
		Secret:    NewSecret(),
		Events:    req.Events,
		Active:    true,
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		logging.L(c.Request.Context()).Error("failed to create webhook subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "internal error"})
		return
	}
	// The secret appears in this response only.
	c.JSON(http.StatusCreated, sub)
}

func (h *Handler) ListSubscriptions(c *gin.Context) {
	caller, _ := identity.FromContext(c)

	subs, err := h.store.ListByCompany(c.Request.Context(), caller.CompanyID)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list webhook subscriptions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "internal error"})
		return
	}
	for _, sub := range subs {
		sub.Secret = ""
	}
	c.JSON(http.StatusOK, gin.H{"items": subs})
}

func (h *Handler) DeleteSubscription(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid subscription id"})
		return
	}

	sub, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "SUBSCRIPTION_NOT_FOUND", "message": "subscription not found"})
			return
		}
		logging.L(c.Request.Context()).Error("failed to load webhook subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "internal error"})
		return
	}
	if !caller.IsAdmin() && !caller.ActsFor(sub.CompanyID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN", "message": "not allowed"})
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		logging.L(c.Request.Context()).Error("failed to delete webhook subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}
