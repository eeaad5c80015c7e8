package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"orgmessenger/internal/services"
	"orgmessenger/internal/transport/httpdto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades authenticated HTTP requests to websocket connections.
// Browsers cannot set headers on the upgrade request, so the token rides the
// query string.
type Handler struct {
	hub  *Hub
	auth *services.AuthService
}

func NewHandler(hub *Hub, auth *services.AuthService) *Handler {
	return &Handler{hub: hub, auth: auth}
}

func (h *Handler) Serve(c *gin.Context) {
	token := c.Query("token")
	userID, err := h.auth.ParseAccessToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.logger.Errorf("websocket upgrade user=%s: %v", userID, err)
		return
	}

	client := NewClient(h.hub, conn, userID)
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}
