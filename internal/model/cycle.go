package model

import (
	"encoding/json"
)

// Cycle 网络周期记录
type Cycle struct {
	Counter int64           `gorm:"column:counter;type:bigint;uniqueIndex;not null" json:"counter"`
	Marker  string          `gorm:"column:cycle_marker;type:varchar(128);primaryKey" json:"cycleMarker"`
	Record  json.RawMessage `gorm:"column:cycle_record;type:jsonb;serializer:json;not null" json:"cycleRecord"`
}

// TableName 返回表名
func (Cycle) TableName() string {
	return "cycles"
}

// CycleRecord 周期记录中采集器关心的字段, 其余字段保留在原始 JSON 中
type CycleRecord struct {
	Counter  int64  `json:"counter"`
	Marker   string `json:"marker"`
	Previous string `json:"previous"`
	Start    int64  `json:"start"`
	Duration int64  `json:"duration"`
	Mode     string `json:"mode,omitempty"`
}

// ParseCycleRecord 解析分发器返回的周期记录
func ParseCycleRecord(raw json.RawMessage) (*CycleRecord, error) {
	var rec CycleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Valid 周期记录必须有 marker 且 counter 非负
func (r *CycleRecord) Valid() bool {
	return r != nil && r.Marker != "" && r.Counter >= 0
}

// NewCycle 由原始记录构造周期行
func NewCycle(raw json.RawMessage) (*Cycle, *CycleRecord, error) {
	rec, err := ParseCycleRecord(raw)
	if err != nil {
		return nil, nil, err
	}
	return &Cycle{Counter: rec.Counter, Marker: rec.Marker, Record: raw}, rec, nil
}

// CycleCommitted 新周期落库事件
type CycleCommitted struct {
	Counter int64
	Start   int64 // 秒
}
