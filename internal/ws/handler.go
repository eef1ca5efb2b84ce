package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/config"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// Handler 订阅连接处理器
type Handler struct {
	hub       *Hub
	cfg       config.WebSocketConfig
	writeWait time.Duration
	upgrader  websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(hub *Hub, cfg config.WebSocketConfig) *Handler {
	writeWait := time.Duration(cfg.WriteTimeoutMs) * time.Millisecond
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &Handler{
		hub:       hub,
		cfg:       cfg,
		writeWait: writeWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection 升级为订阅连接
// GET /subscribe
func (h *Handler) HandleConnection(c *gin.Context) {
	if h.cfg.MaxClients > 0 && h.hub.ClientCount() >= h.cfg.MaxClients {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many subscribers"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, h.writeWait)
	logger.Info("subscriber connected",
		zap.String("client", client.ID()),
		zap.String("remote", c.Request.RemoteAddr))

	h.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
}
