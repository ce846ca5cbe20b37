package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vendorflow-backend/internal/ingest"
	"vendorflow-backend/internal/model"
	"vendorflow-backend/internal/store"
)

// Ingestor runs the ingestion pipeline synchronously.
type Ingestor interface {
	Process(ctx context.Context, msg ingest.RawMessage) (*ingest.Result, error)
}

// Publisher delivers a message to the device transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, message map[string]any) error
}

// Commander issues device control commands.
type Commander interface {
	ToggleChannel(ctx context.Context, externalID string, channel int, state model.SwitchState) error
	Dispense(ctx context.Context, externalID string, amount float64) error
	SetPump(ctx context.Context, externalID, action string) error
}

// ConnectionState reports whether the transport is currently usable.
type ConnectionState interface {
	IsConnected() bool
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	ingestor  Ingestor
	publisher Publisher
	commands  Commander
	transport ConnectionState
	logger    *zap.Logger
	now       func() time.Time
}

// Deps lists what the handlers need.
type Deps struct {
	Store     store.Store
	Ingestor  Ingestor
	Publisher Publisher
	Commands  Commander
	Transport ConnectionState
	Logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:     d.Store,
		ingestor:  d.Ingestor,
		publisher: d.Publisher,
		commands:  d.Commands,
		transport: d.Transport,
		logger:    logger.Named("api"),
		now:       time.Now,
	}
}
