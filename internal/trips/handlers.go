package trips

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/logging"
	"github.com/stockhaul/stockhaul/internal/payments"
)

// Handler exposes trip endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a trip handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers trip routes. All require an authenticated caller.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	authed := r.Group("", identity.RequireIdentity())
	authed.GET("/trips/:id", h.GetTrip)
	authed.POST("/trips/:id/assign-driver", h.AssignDriver)
	authed.POST("/trips/:id/assign-vehicle", h.AssignVehicle)
	authed.POST("/trips/:id/start", h.StartTrip)
	authed.POST("/trips/:id/deliver", h.MarkDelivered)
	authed.POST("/trips/:id/confirm-delivery", h.ConfirmDelivery)
}

func (h *Handler) GetTrip(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid trip id"})
		return
	}

	trip, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trip)
}

// AssignDriverRequest names the driver for a trip.
type AssignDriverRequest struct {
	DriverID int64 `json:"driverId" binding:"required"`
}

func (h *Handler) AssignDriver(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid trip id"})
		return
	}

	var req AssignDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "driverId is required"})
		return
	}

	trip, err := h.service.AssignDriver(c.Request.Context(), caller, id, req.DriverID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trip)
}

// AssignVehicleRequest names the vehicle for a trip.
type AssignVehicleRequest struct {
	VehicleRef string `json:"vehicleRef" binding:"required"`
}

func (h *Handler) AssignVehicle(c *gin.Context) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid trip id"})
		return
	}

	var req AssignVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "vehicleRef is required"})
		return
	}

	trip, err := h.service.AssignVehicle(c.Request.Context(), caller, id, req.VehicleRef)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trip)
}

func (h *Handler) StartTrip(c *gin.Context) {
	h.transition(c, h.service.Start)
}

func (h *Handler) MarkDelivered(c *gin.Context) {
	h.transition(c, h.service.MarkDelivered)
}

func (h *Handler) ConfirmDelivery(c *gin.Context) {
	h.transition(c, h.service.ConfirmDelivery)
}

func (h *Handler) transition(c *gin.Context, op func(ctx context.Context, caller identity.Identity, id int64) (*Trip, error)) {
	caller, _ := identity.FromContext(c)
	id, err := idParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": "invalid trip id"})
		return
	}

	trip, err := op(c.Request.Context(), caller, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trip)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "TRIP_NOT_FOUND", "message": "trip not found"})
	case errors.Is(err, payments.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "PAYMENT_NOT_FOUND", "message": "payment not found"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN", "message": "not allowed"})
	case errors.Is(err, payments.ErrEscrowNotFunded):
		c.JSON(http.StatusBadRequest, gin.H{"error": "ESCROW_NOT_FUNDED", "message": "escrow must be funded first"})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_STATE", "message": "trip is not in a valid status for this operation"})
	default:
		logging.L(c.Request.Context()).Error("trip operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "internal error"})
	}
}

func idParam(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}
