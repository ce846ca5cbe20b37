// Package sweeper marks devices offline when they stop reporting.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vendorflow-backend/config"
	"vendorflow-backend/internal/metrics"
	"vendorflow-backend/internal/store"
)

// Service periodically flips silent online devices to offline. It never
// touches last_seen.
type Service struct {
	cfg     config.SweeperConfig
	store   store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a sweeper over the given store.
func NewService(cfg config.SweeperConfig, st store.Store, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   st,
		metrics: m,
		logger:  logger.Named("sweeper"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("sweeper is disabled, not starting")
		return
	}
	s.logger.Info("starting sweeper",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("offline_after", s.cfg.OfflineAfter))

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper shutting down")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce marks every online device not seen within OfflineAfter as offline
// and returns how many were changed.
func (s *Service) SweepOnce(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.cfg.OfflineAfter)
	n, err := s.store.MarkStaleDevicesOffline(ctx, cutoff)
	if err != nil {
		s.logger.Error("sweep failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0
	}
	if n > 0 {
		s.metrics.DevicesOffline.Add(float64(n))
		s.logger.Info("marked silent devices offline", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n
}
