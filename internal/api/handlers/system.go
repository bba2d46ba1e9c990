package handlers

import (
	"net/http"
	"time"

	"seevideo/automation/pkg/logger"
	"seevideo/automation/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (h *Handler) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status":      "ok",
		"time":        time.Now().Unix(),
		"subscribers": h.deps.Hub.Subscribers(),
	}
	if h.deps.Browser != nil {
		body["browser"] = h.deps.Browser.Status()
	}
	response.Success(c, body)
}

func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 10 * time.Second

// ProgressWebSocket streams automation step events until the client goes
// away.
func (h *Handler) ProgressWebSocket(c *gin.Context) {
	log := logger.Component("HTTP")
	if h.deps.Hub == nil {
		response.ServiceUnavailable(c, "progress stream disabled")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := h.deps.Hub.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).Debug("WebSocket write failed")
				return
			}
		}
	}
}
