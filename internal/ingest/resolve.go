package ingest

import (
	"context"

	"go.uber.org/zap"

	"vendorflow-backend/internal/model"
	"vendorflow-backend/internal/store"
)

// Resolver maps an external device id to its stored device.
type Resolver struct {
	store  store.Store
	cache  DeviceCache
	logger *zap.Logger
}

func NewResolver(st store.Store, c DeviceCache, logger *zap.Logger) *Resolver {
	if c == nil {
		c = NopCache{}
	}
	return &Resolver{store: st, cache: c, logger: logger}
}

// Resolve returns nil, nil when the id is empty or matches no device. An
// unknown device is a routine condition and is only logged at debug level.
func (r *Resolver) Resolve(ctx context.Context, externalID string) (*model.Device, error) {
	if externalID == "" {
		r.logger.Debug("message carries no device id")
		return nil, nil
	}
	if d, ok := r.cache.Get(ctx, externalID); ok {
		return d, nil
	}

	d, err := r.store.FindDeviceByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		r.logger.Debug("unknown device", zap.String("device_id", externalID))
		return nil, nil
	}
	if !d.Kind.Valid() {
		r.logger.Warn("device has unknown kind, only liveness is tracked", zap.String("device_id", externalID), zap.String("kind", string(d.Kind)))
	}
	r.cache.Set(ctx, d)
	return d, nil
}

// Forget drops a cached device, used when its row turns out to be gone.
func (r *Resolver) Forget(ctx context.Context, externalID string) {
	r.cache.Delete(ctx, externalID)
}
