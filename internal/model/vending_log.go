package model

import "time"

// VendingLog records one dispense event reported by a vending machine.
// Rows are append-only.
type VendingLog struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID        string    `gorm:"size:36;not null;index;uniqueIndex:idx_vending_dedup,priority:1" json:"device_id"`
	AmountCollected float64   `gorm:"not null" json:"amount"`
	VolumeDispensed float64   `gorm:"not null" json:"volume"`
	DedupKey        *string   `gorm:"size:128;uniqueIndex:idx_vending_dedup,priority:2" json:"seq,omitempty"`
	RecordedAt      time.Time `gorm:"not null;index" json:"recorded_at"`
}
