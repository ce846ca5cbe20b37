package mqtt

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"vendorflow-backend/internal/ingest"
	"vendorflow-backend/internal/metrics"
	"vendorflow-backend/internal/parse"
)

// Dispatcher queues a decoded message for ingestion. *ingest.Pool implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg ingest.RawMessage) error
}

// Subscriber feeds telemetry from the broker into the ingestion pool.
// Bodies that are not a JSON object are logged and discarded.
type Subscriber struct {
	conn       *Conn
	topics     []string
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSubscriber(conn *Conn, topics []string, d Dispatcher, m *metrics.Metrics, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		conn:       conn,
		topics:     topics,
		dispatcher: d,
		metrics:    m,
		logger:     logger.Named("subscriber"),
	}
}

// Start subscribes to every configured topic filter. Handlers stop queueing
// once ctx is done or Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	return s.conn.Subscribe(s.topics, s.handle)
}

// Stop unsubscribes and releases any handler blocked on a full queue.
func (s *Subscriber) Stop() {
	s.conn.Unsubscribe(s.topics...)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}

func (s *Subscriber) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Subscriber) handle(topic string, payload []byte) {
	obj, err := parse.JSONObject(payload)
	if err != nil {
		s.metrics.MessagesRejected.WithLabelValues("invalid_json").Inc()
		s.logger.Warn("discarding unparseable message", zap.String("topic", topic), zap.Int("bytes", len(payload)), zap.Error(err))
		return
	}

	msg := ingest.RawMessage{Topic: topic, Payload: obj, Source: ingest.SourceMQTT}
	if err := s.dispatcher.Dispatch(s.context(), msg); err != nil {
		if errors.Is(err, ingest.ErrPoolClosed) || errors.Is(err, context.Canceled) {
			s.logger.Debug("dropping message during shutdown", zap.String("topic", topic))
			return
		}
		s.logger.Error("failed to queue message", zap.String("topic", topic), zap.Error(err))
	}
}
