package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChannelDirection distinguishes input lines from output lines.
type ChannelDirection string

const (
	DirectionInput  ChannelDirection = "input"
	DirectionOutput ChannelDirection = "output"
)

// SwitchState is the on/off state of a relay channel.
type SwitchState string

const (
	SwitchOn  SwitchState = "on"
	SwitchOff SwitchState = "off"
)

// SwitchType is a presentation hint for a channel.
type SwitchType string

const (
	SwitchTypeLight   SwitchType = "light"
	SwitchTypeFan     SwitchType = "fan"
	SwitchTypeOutlet  SwitchType = "outlet"
	SwitchTypeHeater  SwitchType = "heater"
	SwitchTypePump    SwitchType = "pump"
	SwitchTypeUnknown SwitchType = "unknown"
)

// Channel is one input or output line on a relay device.
// (DeviceID, ChannelNumber, Direction) is unique.
type Channel struct {
	ID            string           `gorm:"primaryKey;size:36" json:"id"`
	DeviceID      string           `gorm:"size:36;not null;uniqueIndex:idx_channel_identity,priority:1" json:"device_id"`
	ChannelNumber int              `gorm:"not null;uniqueIndex:idx_channel_identity,priority:2" json:"channel_number"`
	Direction     ChannelDirection `gorm:"size:8;not null;default:output;uniqueIndex:idx_channel_identity,priority:3" json:"direction"`
	State         SwitchState      `gorm:"size:8;not null;default:off" json:"state"`
	DisplayName   string           `gorm:"size:128" json:"display_name"`
	SwitchType    SwitchType       `gorm:"column:gui_switch_type;size:16;not null;default:unknown" json:"gui_switch_type"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// TableName keeps the collection name used by the dashboard.
func (Channel) TableName() string {
	return "relay_channels"
}

// BeforeCreate assigns the internal id.
func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
