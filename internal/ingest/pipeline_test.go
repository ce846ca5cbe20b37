package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"vendorflow-backend/internal/metrics"
	"vendorflow-backend/internal/model"
	"vendorflow-backend/internal/store"
)

type fixture struct {
	db       *gorm.DB
	pipeline *Pipeline
	logs     *observer.ObservedLogs
	vending  model.Device
	pump     model.Device
	relay    model.Device
	out2     model.Channel
	in2      model.Channel
}

func newFixture(t *testing.T, opts Options) *fixture {
	gormDB := newSQLiteDB(t)
	f := &fixture{db: gormDB}

	f.vending = model.Device{ExternalID: "VM007", Kind: model.KindVendingMachine, MaxCapacity: ptr(100.0)}
	f.pump = model.Device{ExternalID: "PUMP1", Kind: model.KindWaterPump}
	f.relay = model.Device{ExternalID: "RELAY1", Kind: model.KindRelayDevice}
	for _, d := range []*model.Device{&f.vending, &f.pump, &f.relay} {
		require.NoError(t, gormDB.Create(d).Error)
	}
	f.out2 = model.Channel{DeviceID: f.relay.ID, ChannelNumber: 2, Direction: model.DirectionOutput, State: model.SwitchOff}
	f.in2 = model.Channel{DeviceID: f.relay.ID, ChannelNumber: 2, Direction: model.DirectionInput, State: model.SwitchOff}
	out4 := model.Channel{DeviceID: f.relay.ID, ChannelNumber: 4, Direction: model.DirectionOutput, State: model.SwitchOn}
	for _, c := range []*model.Channel{&f.out2, &f.in2, &out4} {
		require.NoError(t, gormDB.Create(c).Error)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs
	f.pipeline = NewPipeline(store.NewGormStore(gormDB), NewMemoryCache(time.Minute), metrics.New(nil), zap.New(core), opts)
	return f
}

func (f *fixture) device(t *testing.T, externalID string) model.Device {
	var d model.Device
	require.NoError(t, f.db.Where("device_id = ?", externalID).Take(&d).Error)
	return d
}

func (f *fixture) channelState(t *testing.T, number int, dir model.ChannelDirection) model.SwitchState {
	var c model.Channel
	require.NoError(t, f.db.Where("device_id = ? AND channel_number = ? AND direction = ?", f.relay.ID, number, dir).Take(&c).Error)
	return c.State
}

func (f *fixture) count(t *testing.T, m any) int64 {
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}

func TestPipeline_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("Liveness is idempotent", func(t *testing.T) {
		f := newFixture(t, Options{})
		for i := 0; i < 2; i++ {
			res, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/PUMP1/status", Payload: map[string]any{}})
			require.NoError(t, err)
			assert.Empty(t, res.Errors)
			d := f.device(t, "PUMP1")
			assert.Equal(t, model.StatusOnline, d.ConnectionStatus)
			assert.NotNil(t, d.LastSeenAt)
		}
		assert.Equal(t, int64(3), f.count(t, &model.Device{}))
		assert.Equal(t, int64(2), f.count(t, &model.InboundMessage{}))
	})

	t.Run("Unknown device records message only", func(t *testing.T) {
		f := newFixture(t, Options{})
		res, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/GHOST/status", Payload: map[string]any{"OUT_2": "on", "stock": 4.0}})
		require.NoError(t, err)
		assert.Nil(t, res.Device)
		assert.Empty(t, res.Errors)

		var msg model.InboundMessage
		require.NoError(t, f.db.Take(&msg).Error)
		require.NotNil(t, msg.DeviceExternalID)
		assert.Equal(t, "GHOST", *msg.DeviceExternalID)
		assert.True(t, msg.Processed)

		for _, id := range []string{"VM007", "PUMP1", "RELAY1"} {
			assert.Equal(t, model.StatusOffline, f.device(t, id).ConnectionStatus)
		}
		assert.Equal(t, model.SwitchOff, f.channelState(t, 2, model.DirectionOutput))

		entries := f.logs.FilterMessage("unknown device").All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	})

	t.Run("Unknown kind is tracked for liveness only", func(t *testing.T) {
		f := newFixture(t, Options{})
		kiosk := model.Device{ExternalID: "KIOSK1", Kind: model.DeviceKind("kiosk")}
		require.NoError(t, f.db.Create(&kiosk).Error)

		res, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/KIOSK1/status", Payload: map[string]any{"state": "idle", "stock": 3.0}})
		require.NoError(t, err)
		assert.Empty(t, res.Errors)
		assert.True(t, res.Plan.Empty())

		d := f.device(t, "KIOSK1")
		assert.Equal(t, model.StatusOnline, d.ConnectionStatus)
		assert.Nil(t, d.State)

		warnings := f.logs.FilterMessage("device has unknown kind, only liveness is tracked").All()
		require.Len(t, warnings, 1)
		assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
		assert.Len(t, f.logs.FilterMessage("liveness only").All(), 1)
	})

	t.Run("Channel values fail safe to off", func(t *testing.T) {
		f := newFixture(t, Options{})
		res, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/RELAY1/status", Payload: map[string]any{"OUT_4": "maybe"}})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ChannelsUpdated)
		assert.Equal(t, model.SwitchOff, f.channelState(t, 4, model.DirectionOutput))
	})

	t.Run("Directions update independently", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/RELAY1/status", Payload: map[string]any{"OUT_2": "on", "IN_2": "on"}})
		require.NoError(t, err)
		assert.Equal(t, model.SwitchOn, f.channelState(t, 2, model.DirectionOutput))
		assert.Equal(t, model.SwitchOn, f.channelState(t, 2, model.DirectionInput))

		_, err = f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/RELAY1/status", Payload: map[string]any{"IN_2": "off"}})
		require.NoError(t, err)
		assert.Equal(t, model.SwitchOn, f.channelState(t, 2, model.DirectionOutput))
		assert.Equal(t, model.SwitchOff, f.channelState(t, 2, model.DirectionInput))
	})

	t.Run("Missing channel is a warning", func(t *testing.T) {
		f := newFixture(t, Options{})
		res, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/RELAY1/status", Payload: map[string]any{"OUT_9": "on", "OUT_2": "on"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"OUT_9"}, res.ChannelMisses)
		assert.Equal(t, 1, res.ChannelsUpdated)
		assert.Equal(t, int64(3), f.count(t, &model.Channel{}), "channels are never created implicitly")

		entries := f.logs.FilterMessage("no such channel").All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	})

	t.Run("Dispense log gating", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/VM007/status", Payload: map[string]any{"total_amount": 300.0, "stock": 12.0}})
		require.NoError(t, err)
		assert.Equal(t, int64(0), f.count(t, &model.VendingLog{}))
		d := f.device(t, "VM007")
		assert.Equal(t, 300.0, *d.TotalAmountCollected)
		assert.Equal(t, 12.0, *d.Stock)

		res, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/VM007/status", Payload: map[string]any{"amount": 50.0, "volume": 120.0}})
		require.NoError(t, err)
		assert.True(t, res.LogAppended)

		var entry model.VendingLog
		require.NoError(t, f.db.Take(&entry).Error)
		assert.Equal(t, 50.0, entry.AmountCollected)
		assert.Equal(t, 120.0, entry.VolumeDispensed)
		assert.Equal(t, f.vending.ID, entry.DeviceID)
	})

	t.Run("Repeated seq appends once", func(t *testing.T) {
		f := newFixture(t, Options{})
		payload := map[string]any{"amount": 50.0, "volume": 120.0, "seq": "17"}
		for i := 0; i < 3; i++ {
			_, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/VM007/status", Payload: payload})
			require.NoError(t, err)
		}
		assert.Equal(t, int64(1), f.count(t, &model.VendingLog{}))
	})

	t.Run("Kind isolation", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/RELAY1/status", Payload: map[string]any{"valve_status": "open", "balance": 10.0}})
		require.NoError(t, err)
		d := f.device(t, "RELAY1")
		assert.Nil(t, d.RunState)
		assert.Nil(t, d.Balance)
		assert.Equal(t, model.StatusOnline, d.ConnectionStatus)
	})

	t.Run("Unparseable balance still updates liveness", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/PUMP1/status", Payload: map[string]any{"balance": "12.5abc"}})
		require.NoError(t, err)
		d := f.device(t, "PUMP1")
		assert.Nil(t, d.Balance)
		assert.Equal(t, model.StatusOnline, d.ConnectionStatus)
	})

	t.Run("Late message never regresses last_seen", func(t *testing.T) {
		f := newFixture(t, Options{})
		recent := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)

		f.pipeline.normalizer.now = func() time.Time { return recent }
		res, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/PUMP1/status", Payload: map[string]any{"balance": 5.0}})
		require.NoError(t, err)
		assert.True(t, res.Fresh)

		f.pipeline.normalizer.now = func() time.Time { return recent.Add(-time.Hour) }
		res, err = f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/PUMP1/status", Payload: map[string]any{"balance": 1.0}})
		require.NoError(t, err)
		assert.False(t, res.Fresh)

		d := f.device(t, "PUMP1")
		require.NotNil(t, d.LastSeenAt)
		assert.True(t, recent.Equal(*d.LastSeenAt), "last_seen was %v", d.LastSeenAt)
		assert.Equal(t, 1.0, *d.Balance, "fields stay last-write-wins by default")
	})

	t.Run("Late message on an offline device brings it online", func(t *testing.T) {
		f := newFixture(t, Options{})
		now := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, f.db.Model(&model.Device{}).Where("id = ?", f.pump.ID).
			Updates(map[string]any{"status": model.StatusOffline, "last_seen": now}).Error)

		f.pipeline.normalizer.now = func() time.Time { return now.Add(-time.Hour) }
		res, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/PUMP1/status", Payload: map[string]any{"balance": 3.0}})
		require.NoError(t, err)
		assert.False(t, res.Fresh)

		d := f.device(t, "PUMP1")
		assert.Equal(t, model.StatusOnline, d.ConnectionStatus)
		assert.True(t, now.Equal(*d.LastSeenAt), "last_seen was %v", d.LastSeenAt)
		assert.Equal(t, 3.0, *d.Balance)
	})

	t.Run("Device clock never drives last_seen", func(t *testing.T) {
		f := newFixture(t, Options{})
		received := time.Now().UTC().Truncate(time.Second)
		f.pipeline.normalizer.now = func() time.Time { return received }

		for _, ts := range []any{float64(120), received.Add(-time.Hour).Format(time.RFC3339)} {
			res, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/PUMP1/status", Timestamp: ts, Payload: map[string]any{}})
			require.NoError(t, err)
			assert.True(t, res.Fresh)
		}

		d := f.device(t, "PUMP1")
		assert.True(t, received.Equal(*d.LastSeenAt), "last_seen was %v", d.LastSeenAt)

		n, err := store.NewGormStore(f.db).MarkStaleDevicesOffline(ctx, received.Add(-5*time.Minute))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Late message fields dropped when configured", func(t *testing.T) {
		f := newFixture(t, Options{DropStaleFields: true})
		recent := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)

		f.pipeline.normalizer.now = func() time.Time { return recent }
		_, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/PUMP1/status", Payload: map[string]any{"balance": 5.0}})
		require.NoError(t, err)
		f.pipeline.normalizer.now = func() time.Time { return recent.Add(-time.Hour) }
		_, err = f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/PUMP1/status", Payload: map[string]any{"balance": 1.0}})
		require.NoError(t, err)

		d := f.device(t, "PUMP1")
		assert.Equal(t, 5.0, *d.Balance)
		assert.Equal(t, model.StatusOnline, d.ConnectionStatus)
	})

	t.Run("Deleted device is evicted from the cache", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/PUMP1/status", Payload: map[string]any{}})
		require.NoError(t, err)

		require.NoError(t, f.db.Delete(&model.Device{}, "id = ?", f.pump.ID).Error)

		res, err := f.pipeline.Process(ctx, RawMessage{Topic: "vendorflow/PUMP1/status", Payload: map[string]any{"balance": 2.0}})
		require.NoError(t, err)
		assert.Nil(t, res.Device)
		assert.Empty(t, res.Errors)
		_, cached := f.pipeline.resolver.cache.Get(ctx, "PUMP1")
		assert.False(t, cached)
	})
}

func TestPipeline_StageIsolation(t *testing.T) {
	ctx := context.Background()
	device := &model.Device{ID: "dev-1", ExternalID: "VM1", Kind: model.KindVendingMachine}
	boom := errors.New("write rejected")

	var fieldsWritten map[string]any
	st := &mockStore{
		FindDeviceByExternalIDFunc: func(context.Context, string) (*model.Device, error) { return device, nil },
		TouchDeviceFunc:            func(context.Context, string, time.Time) (store.Touch, error) { return store.Touch{}, boom },
		AppendVendingLogFunc:       func(context.Context, *model.VendingLog) (bool, error) { return false, boom },
		UpdateDeviceFieldsFunc: func(_ context.Context, _ string, fields map[string]any) error {
			fieldsWritten = fields
			return nil
		},
	}
	p := NewPipeline(st, NopCache{}, metrics.New(nil), zap.NewNop(), Options{DropStaleFields: true})

	res, err := p.Process(ctx, RawMessage{Topic: "vendorflow/VM1/status", Payload: map[string]any{"amount": 1.0, "volume": 2.0, "stock": 3.0}})
	require.NoError(t, err)

	stages := []Stage{}
	for _, se := range res.Errors {
		stages = append(stages, se.Stage)
		assert.ErrorIs(t, se, boom)
	}
	assert.Equal(t, []Stage{StageLiveness, StageVendingLog}, stages)
	assert.Equal(t, map[string]any{model.ColumnStock: 3.0}, fieldsWritten, "sibling writes still commit")
	assert.Equal(t, []int64{1}, st.processed)
}

func TestPipeline_RecordFailureStops(t *testing.T) {
	boom := errors.New("db down")
	st := &mockStore{RecordInboundMessageFunc: func(context.Context, *model.InboundMessage) error { return boom }}
	p := NewPipeline(st, NopCache{}, metrics.New(nil), zap.NewNop(), Options{})

	res, err := p.Process(context.Background(), RawMessage{Topic: "vendorflow/VM1/status"})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, res)
	assert.Equal(t, 0, st.lookups)
	assert.Empty(t, st.processed)
}

func TestPipeline_ResolveFailureStillMarksProcessed(t *testing.T) {
	boom := errors.New("timeout")
	st := &mockStore{FindDeviceByExternalIDFunc: func(context.Context, string) (*model.Device, error) { return nil, boom }}
	p := NewPipeline(st, NopCache{}, metrics.New(nil), zap.NewNop(), Options{})

	res, err := p.Process(context.Background(), RawMessage{Topic: "vendorflow/VM1/status"})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StageResolve, res.Errors[0].Stage)
	assert.Equal(t, []int64{1}, st.processed)
}
