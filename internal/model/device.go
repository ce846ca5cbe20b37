package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeviceKind classifies a device. It is fixed at provisioning and never changes.
type DeviceKind string

const (
	KindVendingMachine DeviceKind = "vending_machine"
	KindRelayDevice    DeviceKind = "relay_device"
	KindWaterPump      DeviceKind = "water_pump"
)

// Valid reports whether k is one of the known device kinds.
func (k DeviceKind) Valid() bool {
	switch k {
	case KindVendingMachine, KindRelayDevice, KindWaterPump:
		return true
	}
	return false
}

// HasChannels reports whether devices of this kind expose relay channels.
func (k DeviceKind) HasChannels() bool {
	return k == KindRelayDevice
}

// ConnectionStatus is the liveness state inferred from inbound traffic.
type ConnectionStatus string

const (
	StatusOnline  ConnectionStatus = "online"
	StatusOffline ConnectionStatus = "offline"
	StatusError   ConnectionStatus = "error"
)

// RunState is the on/off state of a water pump.
type RunState string

const (
	RunStateOn  RunState = "on"
	RunStateOff RunState = "off"
)

// StateMaxLen is the width of the state column.
const StateMaxLen = 64

// Column names written by the ingestion pipeline.
const (
	ColumnStatus       = "status"
	ColumnLastSeen     = "last_seen"
	ColumnState        = "state"
	ColumnCurrentLevel = "current_level"
	ColumnStock        = "stock"
	ColumnTotalVolume  = "total_volume"
	ColumnTotalAmount  = "total_amount"
	ColumnBalance      = "balance"
	ColumnRunState     = "run_state"
)

var kindColumns = map[DeviceKind]map[string]bool{
	KindVendingMachine: {
		ColumnState:        true,
		ColumnCurrentLevel: true,
		ColumnStock:        true,
		ColumnTotalVolume:  true,
		ColumnTotalAmount:  true,
	},
	KindWaterPump: {
		ColumnState:    true,
		ColumnBalance:  true,
		ColumnRunState: true,
	},
	KindRelayDevice: {
		ColumnState: true,
	},
}

// Writes reports whether telemetry for this kind may write the given column.
// Vending fields are never written to a pump and vice versa.
func (k DeviceKind) Writes(column string) bool {
	return kindColumns[k][column]
}

// Device represents one physical unit.
type Device struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	ExternalID  string     `gorm:"column:device_id;uniqueIndex;size:128;not null" json:"device_id"`
	Name        string     `gorm:"size:256" json:"name"`
	Description string     `gorm:"size:1024" json:"description,omitempty"`
	Kind        DeviceKind `gorm:"column:device_type;size:32;not null" json:"device_type"`

	OwnerID    *string    `gorm:"column:owner;size:64;index" json:"owner"`
	ShopID     *string    `gorm:"size:36;index" json:"shop_id"`
	IsActive   bool       `gorm:"not null;default:false" json:"is_active"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`

	ConnectionStatus ConnectionStatus `gorm:"column:status;size:16;not null;default:offline" json:"status"`
	LastSeenAt       *time.Time       `gorm:"column:last_seen;index" json:"last_seen"`
	State            *string          `gorm:"size:64" json:"state,omitempty"`

	// Vending machine fields.
	LiquidType           *string  `gorm:"size:64" json:"liquid_type,omitempty"`
	CurrentLevel         *float64 `json:"current_level,omitempty"`
	MaxCapacity          *float64 `json:"max_capacity,omitempty"`
	Stock                *float64 `json:"stock,omitempty"`
	TotalVolumeDispensed *float64 `gorm:"column:total_volume" json:"total_volume,omitempty"`
	TotalAmountCollected *float64 `gorm:"column:total_amount" json:"total_amount,omitempty"`
	UnitPrice            *float64 `json:"unit_price,omitempty"`
	SMSFallbackNumber    *string  `gorm:"column:phone_number;size:32" json:"phone_number,omitempty"`

	// Water pump fields.
	RunState *RunState `gorm:"size:8" json:"run_state,omitempty"`
	Balance  *float64  `json:"balance,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Associations
	Shop     *Shop     `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Channels []Channel `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"relay_channels,omitempty"`
}

// BeforeCreate assigns the internal id.
func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
