package model

import (
	"time"

	"gorm.io/datatypes"
)

// InboundMessage is the immutable audit record of one received transport message.
type InboundMessage struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic            string         `gorm:"size:512;not null" json:"topic"`
	Payload          datatypes.JSON `json:"payload"`
	DeviceExternalID *string        `gorm:"column:device_id;size:128;index" json:"device_id"`
	ReceivedAt       time.Time      `gorm:"column:created_at;not null;index" json:"created_at"`
	Timestamp        *time.Time     `json:"timestamp,omitempty"` // device-reported time, when present
	Processed        bool           `gorm:"not null;default:false" json:"processed"`
}

// TableName keeps the collection name used by the dashboard.
func (InboundMessage) TableName() string {
	return "mqtt_messages"
}
