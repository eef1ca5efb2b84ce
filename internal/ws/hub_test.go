package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardeum/relayer-collector/internal/config"
	"github.com/shardeum/relayer-collector/internal/model"
)

// createMockClient 不依赖真实连接的客户端
func createMockClient(hub *Hub, id string, buffer int) *Client {
	return &Client{id: id, hub: hub, send: make(chan []byte, buffer)}
}

func receive(t *testing.T, c *Client) ServerMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return ServerMessage{}
}

func TestHub_BroadcastToAll(t *testing.T) {
	hub := NewHub()
	hub.now = func() time.Time { return time.UnixMilli(42) }
	go hub.Run()
	defer hub.Stop()

	a := createMockClient(hub, "a", 4)
	b := createMockClient(hub, "b", 4)
	hub.Register(a)
	hub.Register(b)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.ForwardCycle(context.Background(), &model.Cycle{Counter: 5, Marker: "m5", Record: []byte(`{"counter":5}`)})
	hub.ForwardReceipt(context.Background(), &model.Receipt{ReceiptID: "r1"})

	for _, c := range []*Client{a, b} {
		msg := receive(t, c)
		assert.Equal(t, EventCycle, msg.Event)
		assert.Equal(t, int64(42), msg.Timestamp)
		msg = receive(t, c)
		assert.Equal(t, EventReceipt, msg.Event)
		assert.Equal(t, "r1", msg.Data.(map[string]interface{})["receiptId"])
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := NewHub()
	slow := createMockClient(hub, "slow", 1)
	hub.clients[slow] = struct{}{}

	hub.broadcastToAll(&ServerMessage{Event: EventReceipt, Data: 1})
	hub.broadcastToAll(&ServerMessage{Event: EventReceipt, Data: 2})

	assert.Len(t, slow.send, 1)
	msg := receive(t, slow)
	assert.Equal(t, float64(1), msg.Data)
}

func TestHub_UnregisterClosesClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := createMockClient(hub, "c", 1)
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Unregister(c)
	require.Eventually(t, c.IsClosed, time.Second, 5*time.Millisecond)
	assert.False(t, c.Send([]byte("x")))

	other := createMockClient(hub, "o", 1)
	hub.Register(other)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Stop()
	hub.Stop()
	require.Eventually(t, other.IsClosed, time.Second, 5*time.Millisecond)
}

func TestHandler_Subscribe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	r := gin.New()
	r.GET("/subscribe", NewHandler(hub, config.WebSocketConfig{MaxClients: 1}).HandleConnection)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/subscribe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// 超过上限时拒绝
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)

	hub.ForwardReceipt(context.Background(), &model.Receipt{ReceiptID: "r7"})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, EventReceipt, msg.Event)
}
