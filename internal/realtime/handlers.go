package realtime

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients cannot set Authorization headers on websocket dials,
	// so the token travels as a query parameter and origins are not useful
	// as an authentication signal here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated connections into hub clients.
type Handler struct {
	hub       *Hub
	jwtSecret string
}

// NewHandler creates a websocket handler.
func NewHandler(hub *Hub, jwtSecret string) *Handler {
	return &Handler{hub: hub, jwtSecret: jwtSecret}
}

// RegisterRoutes registers the websocket endpoint.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws", h.Connect)
}

func (h *Handler) Connect(c *gin.Context) {
	// Prefer middleware-resolved identity; fall back to a token query
	// parameter for browser clients.
	id, ok := identity.FromContext(c)
	if !ok {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "missing token"})
			return
		}
		var err error
		id, err = identity.ParseToken(token, h.jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "invalid token"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L(c.Request.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}
	h.hub.Register(conn, id)
}
