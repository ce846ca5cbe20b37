// Package mqtt owns the broker connection shared by telemetry ingestion and
// outbound device commands.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vendorflow-backend/config"
	"vendorflow-backend/internal/metrics"
)

var (
	ErrNotConnected   = errors.New("mqtt client is not connected")
	ErrPublishTimeout = errors.New("timed out waiting for broker acknowledgement")
	ErrConnectTimeout = errors.New("timed out connecting to broker")
)

// PublishError reports a failed outbound publish.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// MessageHandler receives the raw body of a message on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Conn is an explicitly owned broker connection. Open it once at startup and
// Close it on shutdown; subscriptions registered on it are restored after
// every reconnect.
type Conn struct {
	client  paho.Client
	cfg     config.MQTTConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu   sync.Mutex
	subs map[string]MessageHandler
}

// New builds a connection from cfg. Nothing is dialled until Open.
func New(cfg config.MQTTConfig, m *metrics.Metrics, logger *zap.Logger) *Conn {
	c := &Conn{
		cfg:     cfg,
		metrics: m,
		logger:  logger.Named("mqtt"),
		subs:    make(map[string]MessageHandler),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	// Replicas share the configured prefix but never the full client id.
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8]))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn("connection lost", zap.Error(err))
	})
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		c.logger.Info("reconnecting", zap.String("broker", cfg.Broker))
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		c.logger.Info("connected", zap.String("broker", cfg.Broker))
		c.resubscribe()
	})

	c.client = paho.NewClient(opts)
	return c
}

func newConn(client paho.Client, cfg config.MQTTConfig, m *metrics.Metrics, logger *zap.Logger) *Conn {
	return &Conn{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  logger.Named("mqtt"),
		subs:    make(map[string]MessageHandler),
	}
}

// Open connects to the broker, giving up after the configured connect
// timeout or when ctx is done.
func (c *Conn) Open(ctx context.Context) error {
	token := c.client.Connect()
	if err := wait(ctx, token, c.cfg.ConnectTimeout); err != nil {
		if errors.Is(err, ErrPublishTimeout) {
			err = ErrConnectTimeout
		}
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.Broker, err)
	}
	return nil
}

// Close disconnects, allowing in-flight work a short grace period.
func (c *Conn) Close() {
	c.client.Disconnect(250)
	c.logger.Info("disconnected")
}

// IsConnected reports whether the connection is currently usable.
func (c *Conn) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Subscribe registers h for each topic filter and subscribes immediately
// when connected. The filters are re-subscribed on every reconnect.
func (c *Conn) Subscribe(topics []string, h MessageHandler) error {
	c.mu.Lock()
	for _, topic := range topics {
		c.subs[topic] = h
	}
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	var errs []error
	for _, topic := range topics {
		if err := c.subscribe(topic, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unsubscribe forgets the topic filters and unsubscribes when connected.
func (c *Conn) Unsubscribe(topics ...string) {
	c.mu.Lock()
	for _, topic := range topics {
		delete(c.subs, topic)
	}
	c.mu.Unlock()

	if !c.IsConnected() || len(topics) == 0 {
		return
	}
	token := c.client.Unsubscribe(topics...)
	if err := wait(context.Background(), token, c.cfg.PublishTimeout); err != nil {
		c.logger.Warn("unsubscribe failed", zap.Strings("topics", topics), zap.Error(err))
	}
}

func (c *Conn) subscribe(topic string, h MessageHandler) error {
	token := c.client.Subscribe(topic, c.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if err := wait(context.Background(), token, c.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", topic, err)
	}
	c.logger.Info("subscribed", zap.String("topic", topic), zap.Uint8("qos", c.cfg.QoS))
	return nil
}

func (c *Conn) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			c.logger.Error("resubscribe failed", zap.Error(err))
		}
	}
}

// wait blocks until the token completes, timeout elapses or ctx is done.
// A timeout is reported as ErrPublishTimeout.
func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
