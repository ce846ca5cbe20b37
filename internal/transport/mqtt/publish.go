package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// strippedKeys never go on the wire.
var strippedKeys = []string{"timestamp"}

// Publish delivers message to topic at the configured qos (at-least-once)
// and waits for the broker to acknowledge it. A timestamp key in message is
// removed before encoding. Every failure is a *PublishError; there is no
// retry.
func (c *Conn) Publish(ctx context.Context, topic string, message map[string]any) error {
	err := c.publish(ctx, topic, message)
	if err != nil {
		c.metrics.Publishes.WithLabelValues("error").Inc()
		c.logger.Error("publish failed", zap.String("topic", topic), zap.Error(err))
		return &PublishError{Topic: topic, Err: err}
	}
	c.metrics.Publishes.WithLabelValues("ok").Inc()
	c.logger.Debug("published", zap.String("topic", topic))
	return nil
}

func (c *Conn) publish(ctx context.Context, topic string, message map[string]any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := Encode(message)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, c.cfg.QoS, false, data)
	return wait(ctx, token, c.cfg.PublishTimeout)
}

// Encode renders a command body for the wire, dropping the keys the wire
// format does not carry. message itself is not modified.
func Encode(message map[string]any) ([]byte, error) {
	body := make(map[string]any, len(message))
	for k, v := range message {
		body[k] = v
	}
	for _, k := range strippedKeys {
		delete(body, k)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
