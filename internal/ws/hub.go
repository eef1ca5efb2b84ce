package ws

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/metrics"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

const sinkName = "ws"

// Hub 订阅连接管理, 向所有订阅者广播新周期与新回执
type Hub struct {
	clients    map[*Client]struct{}
	clientsMu  sync.RWMutex
	register   chan *Client
	unregister chan *Client
	broadcast  chan *ServerMessage
	done       chan struct{}
	stopOnce   sync.Once
	now        func() time.Time
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		broadcast:  make(chan *ServerMessage, 1024),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run 运行 Hub
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.clientsMu.Unlock()
			metrics.WSClientsGauge.Set(float64(n))
			logger.Debug("subscriber registered", zap.String("id", client.id), zap.Int("total", n))

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.clientsMu.Unlock()
			metrics.WSClientsGauge.Set(float64(n))
			logger.Debug("subscriber unregistered", zap.String("id", client.id), zap.Int("total", n))

		case msg := <-h.broadcast:
			h.broadcastToAll(msg)

		case <-ticker.C:
			logger.Debug("hub stats", zap.Int("clients", h.ClientCount()))

		case <-h.done:
			logger.Info("hub stopping")
			h.closeAllClients()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount 当前客户端数量
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Broadcast 投递广播, 队列满时丢弃
func (h *Hub) Broadcast(event string, data interface{}) {
	msg := &ServerMessage{Event: event, Data: data, Timestamp: h.now().UnixMilli()}
	select {
	case h.broadcast <- msg:
	default:
		metrics.FanoutDroppedTotal.WithLabelValues(sinkName, event).Inc()
		logger.Warn("broadcast channel full, dropping message", zap.String("event", event))
	}
}

// ForwardCycle 推送新周期
func (h *Hub) ForwardCycle(_ context.Context, cycle *model.Cycle) {
	h.Broadcast(EventCycle, cycle)
}

// ForwardReceipt 推送新回执
func (h *Hub) ForwardReceipt(_ context.Context, receipt *model.Receipt) {
	h.Broadcast(EventReceipt, receipt)
}

// broadcastToAll 慢客户端的消息直接丢弃
func (h *Hub) broadcastToAll(msg *ServerMessage) {
	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()
	if len(clients) == 0 {
		return
	}

	data, err := msg.ToJSON()
	if err != nil {
		logger.Error("failed to marshal message", zap.String("event", msg.Event), zap.Error(err))
		return
	}
	for _, c := range clients {
		if c.Send(data) {
			metrics.FanoutPublishedTotal.WithLabelValues(sinkName, msg.Event).Inc()
		} else {
			metrics.FanoutDroppedTotal.WithLabelValues(sinkName, msg.Event).Inc()
		}
	}
}

func (h *Hub) closeAllClients() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
	metrics.WSClientsGauge.Set(0)
}
