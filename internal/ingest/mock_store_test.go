package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vendorflow-backend/internal/db"
	"vendorflow-backend/internal/model"
	"vendorflow-backend/internal/store"
)

// mockStore is a function-field implementation of store.Store. Unset
// functions succeed with zero values.
type mockStore struct {
	mu sync.Mutex

	RecordInboundMessageFunc   func(ctx context.Context, msg *model.InboundMessage) error
	MarkMessageProcessedFunc   func(ctx context.Context, id int64) error
	FindDeviceByExternalIDFunc func(ctx context.Context, externalID string) (*model.Device, error)
	TouchDeviceFunc            func(ctx context.Context, deviceID string, seenAt time.Time) (store.Touch, error)
	UpdateDeviceFieldsFunc     func(ctx context.Context, deviceID string, fields map[string]any) error
	FindChannelFunc            func(ctx context.Context, deviceID string, number int, direction model.ChannelDirection) (*model.Channel, error)
	UpdateChannelStateFunc     func(ctx context.Context, channelID string, state model.SwitchState) error
	AppendVendingLogFunc       func(ctx context.Context, entry *model.VendingLog) (bool, error)

	lookups   int
	processed []int64
}

var _ store.Store = (*mockStore)(nil)

func (m *mockStore) RecordInboundMessage(ctx context.Context, msg *model.InboundMessage) error {
	if m.RecordInboundMessageFunc != nil {
		return m.RecordInboundMessageFunc(ctx, msg)
	}
	msg.ID = 1
	return nil
}

func (m *mockStore) MarkMessageProcessed(ctx context.Context, id int64) error {
	m.mu.Lock()
	m.processed = append(m.processed, id)
	m.mu.Unlock()
	if m.MarkMessageProcessedFunc != nil {
		return m.MarkMessageProcessedFunc(ctx, id)
	}
	return nil
}

func (m *mockStore) RecentMessages(context.Context, int) ([]model.InboundMessage, error) {
	return nil, nil
}

func (m *mockStore) FindDeviceByExternalID(ctx context.Context, externalID string) (*model.Device, error) {
	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()
	if m.FindDeviceByExternalIDFunc != nil {
		return m.FindDeviceByExternalIDFunc(ctx, externalID)
	}
	return nil, nil
}

func (m *mockStore) FindDeviceWithChannels(ctx context.Context, externalID string) (*model.Device, error) {
	return m.FindDeviceByExternalID(ctx, externalID)
}

func (m *mockStore) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) (store.Touch, error) {
	if m.TouchDeviceFunc != nil {
		return m.TouchDeviceFunc(ctx, deviceID, seenAt)
	}
	return store.Touch{Found: true, Advanced: true}, nil
}

func (m *mockStore) UpdateDeviceFields(ctx context.Context, deviceID string, fields map[string]any) error {
	if m.UpdateDeviceFieldsFunc != nil {
		return m.UpdateDeviceFieldsFunc(ctx, deviceID, fields)
	}
	return nil
}

func (m *mockStore) MarkStaleDevicesOffline(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (m *mockStore) FindChannel(ctx context.Context, deviceID string, number int, direction model.ChannelDirection) (*model.Channel, error) {
	if m.FindChannelFunc != nil {
		return m.FindChannelFunc(ctx, deviceID, number, direction)
	}
	return nil, nil
}

func (m *mockStore) UpdateChannelState(ctx context.Context, channelID string, state model.SwitchState) error {
	if m.UpdateChannelStateFunc != nil {
		return m.UpdateChannelStateFunc(ctx, channelID, state)
	}
	return nil
}

func (m *mockStore) AppendVendingLog(ctx context.Context, entry *model.VendingLog) (bool, error) {
	if m.AppendVendingLogFunc != nil {
		return m.AppendVendingLogFunc(ctx, entry)
	}
	return true, nil
}

func (m *mockStore) Ping(context.Context) error {
	return nil
}

// newSQLiteDB opens a private in-memory database with the full schema.
func newSQLiteDB(t *testing.T) *gorm.DB {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	t.Cleanup(func() { _ = db.Close(gormDB) })
	return gormDB
}

func ptr[T any](v T) *T {
	return &v
}
