package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vendorflow-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	RecordInboundMessage(ctx context.Context, msg *model.InboundMessage) error
	MarkMessageProcessed(ctx context.Context, id int64) error
	RecentMessages(ctx context.Context, limit int) ([]model.InboundMessage, error)

	FindDeviceByExternalID(ctx context.Context, externalID string) (*model.Device, error)
	FindDeviceWithChannels(ctx context.Context, externalID string) (*model.Device, error)
	TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) (Touch, error)
	UpdateDeviceFields(ctx context.Context, deviceID string, fields map[string]any) error
	MarkStaleDevicesOffline(ctx context.Context, cutoff time.Time) (int64, error)

	FindChannel(ctx context.Context, deviceID string, number int, direction model.ChannelDirection) (*model.Channel, error)
	UpdateChannelState(ctx context.Context, channelID string, state model.SwitchState) error

	AppendVendingLog(ctx context.Context, entry *model.VendingLog) (bool, error)

	Ping(ctx context.Context) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// RecordInboundMessage persists the audit record of one received message.
func (s *gormStore) RecordInboundMessage(ctx context.Context, msg *model.InboundMessage) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to record inbound message on %q: %w", msg.Topic, err)
	}
	return nil
}

func (s *gormStore) MarkMessageProcessed(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).
		Model(&model.InboundMessage{}).
		Where("id = ?", id).
		Update("processed", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark message %d processed: %w", id, err)
	}
	return nil
}

// RecentMessages returns up to limit messages, newest first.
func (s *gormStore) RecentMessages(ctx context.Context, limit int) ([]model.InboundMessage, error) {
	var msgs []model.InboundMessage
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	return msgs, nil
}

// FindDeviceByExternalID returns nil, nil when no device carries the id.
func (s *gormStore) FindDeviceByExternalID(ctx context.Context, externalID string) (*model.Device, error) {
	var device model.Device
	err := s.db.WithContext(ctx).
		Where("device_id = ?", externalID).
		Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up device %q: %w", externalID, err)
	}
	return &device, nil
}

// FindDeviceWithChannels is FindDeviceByExternalID with channels preloaded in
// (direction, channel_number) order.
func (s *gormStore) FindDeviceWithChannels(ctx context.Context, externalID string) (*model.Device, error) {
	var device model.Device
	err := s.db.WithContext(ctx).
		Preload("Channels", func(db *gorm.DB) *gorm.DB {
			return db.Order("direction").Order("channel_number")
		}).
		Where("device_id = ?", externalID).
		Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device %q: %w", externalID, err)
	}
	return &device, nil
}

// Touch is the outcome of a liveness write.
type Touch struct {
	Found    bool // the device row exists
	Advanced bool // last_seen moved forward to seenAt
}

// TouchDevice marks the device online and moves last_seen forward to seenAt.
// The status write is unconditional; last_seen is only written when seenAt
// is not older than the stored value, so it never moves backwards.
func (s *gormStore) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) (Touch, error) {
	var t Touch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Device{}).
			Where("id = ?", deviceID).
			Update(model.ColumnStatus, model.StatusOnline)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		t.Found = true

		res = tx.Model(&model.Device{}).
			Where("id = ?", deviceID).
			Where("last_seen IS NULL OR last_seen <= ?", seenAt).
			Update(model.ColumnLastSeen, seenAt)
		if res.Error != nil {
			return res.Error
		}
		t.Advanced = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return Touch{}, fmt.Errorf("failed to update liveness of device %s: %w", deviceID, err)
	}
	return t, nil
}

// UpdateDeviceFields writes only the given columns. Callers are responsible
// for keeping the column set valid for the device kind.
func (s *gormStore) UpdateDeviceFields(ctx context.Context, deviceID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("id = ?", deviceID).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("failed to update fields of device %s: %w", deviceID, err)
	}
	return nil
}

// MarkStaleDevicesOffline flips online devices whose last_seen is before
// cutoff to offline. last_seen itself is left untouched.
func (s *gormStore) MarkStaleDevicesOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("status = ?", model.StatusOnline).
		Where("last_seen < ?", cutoff).
		Update(model.ColumnStatus, model.StatusOffline)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark stale devices offline: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// FindChannel returns nil, nil when the device has no such channel.
func (s *gormStore) FindChannel(ctx context.Context, deviceID string, number int, direction model.ChannelDirection) (*model.Channel, error) {
	var ch model.Channel
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND channel_number = ? AND direction = ?", deviceID, number, direction).
		Take(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up channel %s/%d/%s: %w", deviceID, number, direction, err)
	}
	return &ch, nil
}

func (s *gormStore) UpdateChannelState(ctx context.Context, channelID string, state model.SwitchState) error {
	err := s.db.WithContext(ctx).
		Model(&model.Channel{}).
		Where("id = ?", channelID).
		Update("state", state).Error
	if err != nil {
		return fmt.Errorf("failed to set channel %s to %s: %w", channelID, state, err)
	}
	return nil
}

// AppendVendingLog inserts one dispense record. Entries carrying a dedup key
// are inserted with ON CONFLICT DO NOTHING; the boolean is false when the
// entry was a duplicate and nothing was written.
func (s *gormStore) AppendVendingLog(ctx context.Context, entry *model.VendingLog) (bool, error) {
	tx := s.db.WithContext(ctx)
	if entry.DedupKey != nil {
		tx = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "dedup_key"}},
			DoNothing: true,
		})
	}
	res := tx.Create(entry)
	if res.Error != nil {
		return false, fmt.Errorf("failed to append vending log for device %s: %w", entry.DeviceID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Ping checks the underlying connection.
func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
