package ws

import (
	"encoding/json"
)

// 推送事件
const (
	EventCycle   = "/data/cycle"
	EventReceipt = "/data/receipt"
)

// ServerMessage 推送给订阅者的消息
type ServerMessage struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// ToJSON 序列化
func (m *ServerMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
