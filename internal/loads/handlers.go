package loads

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/validation"
)

func idParam(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

// Handler exposes the thin load boundary the pipeline needs: the listing
// subsystem owns the full posting surface, but creating and reading the
// pipeline-visible record keeps this service self-contained.
type Handler struct {
	store Store
}

// NewHandler creates a new load handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up load routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/loads", h.CreateLoad)
	r.GET("/loads/:id", h.GetLoad)
}

// CreateRequest contains the parameters for posting a load.
type CreateRequest struct {
	Currency     string `json:"currency" binding:"required"`
	AskingAmount int64  `json:"askingAmount" binding:"required"`
}

// CreateLoad handles POST /v1/loads
func (h *Handler) CreateLoad(c *gin.Context) {
	caller, ok := identity.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHENTICATED", "message": "Identity required"})
		return
	}
	if caller.Role != identity.RoleShipper {
		c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN", "message": "Only shippers post loads"})
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "Invalid request body"})
		return
	}
	if !validation.IsValidAmount(req.AskingAmount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "askingAmount must be positive"})
		return
	}
	if !validation.IsValidCurrency(req.Currency) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "currency must be a 3-letter ISO code"})
		return
	}

	load := &Load{
		ShipperCompanyID: caller.CompanyID,
		Status:           StatusPublished,
		Currency:         req.Currency,
		AskingAmount:     req.AskingAmount,
	}
	if err := h.store.Create(c.Request.Context(), load); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "Failed to create load"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"load": load})
}

// GetLoad handles GET /v1/loads/:id
func (h *Handler) GetLoad(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "Invalid load id"})
		return
	}

	load, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "LOAD_NOT_FOUND", "message": "Load not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"load": load})
}
