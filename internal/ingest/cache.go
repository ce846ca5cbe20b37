package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"vendorflow-backend/config"
	"vendorflow-backend/internal/model"
)

// DeviceCache holds resolved devices by external id. Only positive lookups
// are cached so a device provisioned after its first message is picked up
// on the next one.
type DeviceCache interface {
	Get(ctx context.Context, externalID string) (*model.Device, bool)
	Set(ctx context.Context, device *model.Device)
	Delete(ctx context.Context, externalID string)
}

// cachedDevice is the subset of a device the pipeline needs. Kind never
// changes after provisioning, so a stale entry is harmless.
type cachedDevice struct {
	ID          string           `json:"id"`
	ExternalID  string           `json:"device_id"`
	Kind        model.DeviceKind `json:"device_type"`
	MaxCapacity *float64         `json:"max_capacity,omitempty"`
}

func snapshot(d *model.Device) cachedDevice {
	return cachedDevice{ID: d.ID, ExternalID: d.ExternalID, Kind: d.Kind, MaxCapacity: d.MaxCapacity}
}

func (c cachedDevice) device() *model.Device {
	return &model.Device{ID: c.ID, ExternalID: c.ExternalID, Kind: c.Kind, MaxCapacity: c.MaxCapacity}
}

// NewDeviceCache builds the cache selected by cfg.Backend.
func NewDeviceCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (DeviceCache, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryCache(cfg.TTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisCache(client, cfg.TTL, logger), nil
	case "none":
		return NopCache{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

// MemoryCache is a process-local DeviceCache.
type MemoryCache struct {
	c *cache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: cache.New(ttl, 2*ttl)}
}

func (m *MemoryCache) Get(_ context.Context, externalID string) (*model.Device, bool) {
	v, found := m.c.Get(externalID)
	if !found {
		return nil, false
	}
	return v.(cachedDevice).device(), true
}

func (m *MemoryCache) Set(_ context.Context, device *model.Device) {
	m.c.Set(device.ExternalID, snapshot(device), cache.DefaultExpiration)
}

func (m *MemoryCache) Delete(_ context.Context, externalID string) {
	m.c.Delete(externalID)
}

// RedisCache shares resolved devices between replicas. Redis errors are
// treated as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger.Named("device-cache")}
}

func redisKey(externalID string) string {
	return "vendorflow:device:" + externalID
}

func (r *RedisCache) Get(ctx context.Context, externalID string) (*model.Device, bool) {
	raw, err := r.client.Get(ctx, redisKey(externalID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("redis get failed", zap.String("device_id", externalID), zap.Error(err))
		}
		return nil, false
	}
	var c cachedDevice
	if err := json.Unmarshal(raw, &c); err != nil {
		r.logger.Warn("discarding corrupt cache entry", zap.String("device_id", externalID), zap.Error(err))
		return nil, false
	}
	return c.device(), true
}

func (r *RedisCache) Set(ctx context.Context, device *model.Device) {
	raw, err := json.Marshal(snapshot(device))
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, redisKey(device.ExternalID), raw, r.ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", zap.String("device_id", device.ExternalID), zap.Error(err))
	}
}

func (r *RedisCache) Delete(ctx context.Context, externalID string) {
	if err := r.client.Del(ctx, redisKey(externalID)).Err(); err != nil {
		r.logger.Warn("redis delete failed", zap.String("device_id", externalID), zap.Error(err))
	}
}

// Close releases the redis connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// NopCache disables caching.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*model.Device, bool) { return nil, false }
func (NopCache) Set(context.Context, *model.Device)                {}
func (NopCache) Delete(context.Context, string)                    {}
