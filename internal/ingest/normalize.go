// Package ingest turns inbound device messages into device and channel
// state. A message flows through Normalize, Resolve, Liveness, the
// kind-specific interpreter and the channel interpreter; every stage
// persists independently.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vendorflow-backend/internal/model"
	"vendorflow-backend/internal/parse"
	"vendorflow-backend/internal/store"
)

// Sources label where a message entered the service.
const (
	SourceMQTT = "mqtt"
	SourceHTTP = "http"
)

// RawMessage is one inbound envelope before normalization.
type RawMessage struct {
	Topic    string
	Payload  map[string]any
	DeviceID string // explicit id supplied alongside the payload, if any
	// Timestamp is the envelope time as received (RFC3339 string or unix
	// seconds/millis). Nil falls back to the payload's own timestamp key.
	Timestamp any
	Source    string
}

// Event is the canonical form of an inbound message.
type Event struct {
	MessageID        int64
	Topic            string
	DeviceExternalID string // empty when no id could be derived
	Payload          map[string]any
	// ReceivedAt is when the service took the message in. Liveness is
	// written and ordered on this value only.
	ReceivedAt time.Time
	// ObservedAt is the device-reported time when it is usable, otherwise
	// ReceivedAt. It dates vending log entries.
	ObservedAt time.Time
}

// DeviceExternalID derives the wire-level device id of a message: the
// explicit id, then a string device_id in the payload, then the second topic
// segment. It returns "" when none of these yields an id.
func DeviceExternalID(msg RawMessage) string {
	if id := strings.TrimSpace(msg.DeviceID); id != "" {
		return id
	}
	if s, ok := msg.Payload["device_id"].(string); ok {
		if id := strings.TrimSpace(s); id != "" {
			return id
		}
	}
	if id, ok := parse.DeviceIDFromTopic(msg.Topic); ok {
		return id
	}
	return ""
}

// Normalizer records every inbound message and produces its Event.
type Normalizer struct {
	store store.Store
	now   func() time.Time
}

func NewNormalizer(st store.Store) *Normalizer {
	return &Normalizer{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Normalize persists msg as an InboundMessage whether or not it carries a
// device id. The returned error means the audit record could not be written
// and nothing downstream should run.
func (n *Normalizer) Normalize(ctx context.Context, msg RawMessage) (*Event, error) {
	payload := msg.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	ev := &Event{
		Topic:            msg.Topic,
		DeviceExternalID: DeviceExternalID(msg),
		Payload:          payload,
		ReceivedAt:       n.now(),
	}
	ev.ObservedAt = ev.ReceivedAt

	rec := &model.InboundMessage{
		Topic:      msg.Topic,
		ReceivedAt: ev.ReceivedAt,
	}
	if ev.DeviceExternalID != "" {
		id := ev.DeviceExternalID
		rec.DeviceExternalID = &id
	}

	ts := msg.Timestamp
	if ts == nil {
		ts = payload["timestamp"]
	}
	if reported, ok := parse.Timestamp(ts); ok {
		rec.Timestamp = &reported
		if !reported.After(ev.ReceivedAt) {
			ev.ObservedAt = reported
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	rec.Payload = body

	if err := n.store.RecordInboundMessage(ctx, rec); err != nil {
		return nil, err
	}
	ev.MessageID = rec.ID
	return ev, nil
}
