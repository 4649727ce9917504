package handlers

import (
	"socialweb/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// The default CheckOrigin rejects handshakes whose Origin host differs from
// the request Host.
var upgrader = websocket.Upgrader{}

type FeedHandlers struct {
	ws  *services.WSConnManager
	log *zap.Logger
}

func NewFeedHandlers(ws *services.WSConnManager, log *zap.Logger) *FeedHandlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &FeedHandlers{ws: ws, log: log}
}

// WSFeedHandler - WebSocket endpoint pushing new posts to the browser
func (h *FeedHandlers) WSFeedHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id := h.ws.Add(conn)
	defer h.ws.Remove(id)

	_ = h.ws.Send(id, []byte(`{"event":"connected","message":"WebSocket connected"}`))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.log.Debug("websocket closed", zap.String("client_id", id), zap.Error(err))
			return
		}
	}
}
