package wsadapter

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RegisterRoutes exposes the adapter-process connection endpoint on
// router, grounded in the teacher's AgentWebSocketHandler.RegisterRoutes
// (internal/handlers/agent_websocket.go): the adapter process names its
// platform as a query parameter, the connection is upgraded, and Accept
// blocks for the connection's lifetime.
func (h *Hub) RegisterRoutes(router gin.IRouter) {
	router.GET("/adapter/connect", h.handleConnect)
}

func (h *Hub) handleConnect(c *gin.Context) {
	platform := c.Query("platform")
	if platform == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing platform query parameter"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Adapter().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.Accept(platform, conn)
}
