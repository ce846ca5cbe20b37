// Package command publishes user-initiated control messages to devices.
// Stored device and channel state is never changed here; it follows only
// from the telemetry the device reports afterwards.
package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"vendorflow-backend/internal/model"
	"vendorflow-backend/internal/store"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrUnsupportedKind  = errors.New("command not supported for this device type")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrInputChannel     = errors.New("input channels cannot be switched by a command")
	ErrInvalidAmount    = errors.New("amount must be a positive number")
	ErrInvalidState     = errors.New("state must be on or off")
	ErrInvalidPumpState = errors.New("action must be start or stop")
)

// Publisher delivers a message to the transport. *mqtt.Conn implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, message map[string]any) error
}

// Pump actions.
const (
	PumpStart = "start"
	PumpStop  = "stop"
)

// Service validates commands against the stored device and publishes them.
type Service struct {
	store     store.Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(st store.Store, pub Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:     st,
		publisher: pub,
		logger:    logger.Named("command"),
		now:       time.Now,
	}
}

// DeviceControlTopic is where relay and pump commands are published.
func DeviceControlTopic(externalID string) string {
	return fmt.Sprintf("vendorflow/device/%s/control", externalID)
}

// VendingControlTopic is where vending machine commands are published.
func VendingControlTopic(externalID string) string {
	return fmt.Sprintf("vendorflow/vending/%s/control", externalID)
}

func (s *Service) device(ctx context.Context, externalID string, kind model.DeviceKind) (*model.Device, error) {
	d, err := s.store.FindDeviceByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDeviceNotFound
	}
	if d.Kind != kind {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, d.Kind)
	}
	return d, nil
}

// ToggleChannel asks a relay device to switch one of its output channels.
func (s *Service) ToggleChannel(ctx context.Context, externalID string, channel int, state model.SwitchState) error {
	if state != model.SwitchOn && state != model.SwitchOff {
		return ErrInvalidState
	}
	d, err := s.device(ctx, externalID, model.KindRelayDevice)
	if err != nil {
		return err
	}

	ch, err := s.store.FindChannel(ctx, d.ID, channel, model.DirectionOutput)
	if err != nil {
		return err
	}
	if ch == nil {
		in, err := s.store.FindChannel(ctx, d.ID, channel, model.DirectionInput)
		if err != nil {
			return err
		}
		if in != nil {
			return ErrInputChannel
		}
		return ErrChannelNotFound
	}

	return s.publish(ctx, DeviceControlTopic(d.ExternalID), map[string]any{
		"device_id":  d.ExternalID,
		"channel_id": ch.ID,
		"state":      string(state),
		"timestamp":  s.now().UTC().Format(time.RFC3339),
	})
}

// Dispense asks a vending machine to dispense the given amount.
func (s *Service) Dispense(ctx context.Context, externalID string, amount float64) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidAmount
	}
	d, err := s.device(ctx, externalID, model.KindVendingMachine)
	if err != nil {
		return err
	}

	return s.publish(ctx, VendingControlTopic(d.ExternalID), map[string]any{
		"device_id": d.ExternalID,
		"action":    "dispense",
		"amount":    amount,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

// SetPump starts or stops a water pump.
func (s *Service) SetPump(ctx context.Context, externalID, action string) error {
	if action != PumpStart && action != PumpStop {
		return ErrInvalidPumpState
	}
	d, err := s.device(ctx, externalID, model.KindWaterPump)
	if err != nil {
		return err
	}

	return s.publish(ctx, DeviceControlTopic(d.ExternalID), map[string]any{
		"device_id": d.ExternalID,
		"action":    action,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Service) publish(ctx context.Context, topic string, message map[string]any) error {
	if err := s.publisher.Publish(ctx, topic, message); err != nil {
		return err
	}
	s.logger.Info("command published", zap.String("topic", topic), zap.Any("action", message["action"]), zap.Any("state", message["state"]))
	return nil
}
