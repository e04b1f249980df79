package alerting

import (
	"context"
	"time"
)

// Embed colours used by the keeper.
const (
	ColorGreen  = 0x00ff00
	ColorOrange = 0xffa500
	ColorRed    = 0xff0000
	ColorBlue   = 0x3498db
)

// Field is one name/value row of a notification.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Notification 封装一条告警消息。
type Notification struct {
	// Kind labels the message for metrics and audit, e.g. "low_balance".
	Kind   string
	Title  string
	Fields []Field
	Color  int
	// DedupKey, when set, lets an optional deduplicator suppress repeats.
	DedupKey string
	// Timestamp defaults to the send time.
	Timestamp time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}
