package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vendorflow-backend/internal/metrics"
	"vendorflow-backend/internal/model"
	"vendorflow-backend/internal/store"
)

// Stage names a pipeline step for error reporting and metrics.
type Stage string

const (
	StageResolve       Stage = "resolve"
	StageLiveness      Stage = "liveness"
	StageFields        Stage = "fields"
	StageVendingLog    Stage = "vending_log"
	StageChannels      Stage = "channels"
	StageMarkProcessed Stage = "mark_processed"
)

// StageError is a persistence failure isolated to one stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e StageError) Unwrap() error {
	return e.Err
}

// Result describes what one pipeline run did.
type Result struct {
	Event  *Event
	Device *model.Device // nil when the message did not resolve
	// Fresh is false when the message was received before the stored
	// last_seen, so last_seen was left as it was.
	Fresh           bool
	Plan            Plan
	LogAppended     bool
	ChannelsUpdated int
	ChannelMisses   []string
	Errors          []StageError
}

// Options tunes a Pipeline.
type Options struct {
	StoreTimeout    time.Duration
	DropStaleFields bool
}

// Pipeline runs every ingestion stage for one message.
type Pipeline struct {
	store      store.Store
	normalizer *Normalizer
	resolver   *Resolver
	metrics    *metrics.Metrics
	logger     *zap.Logger
	opts       Options
}

func NewPipeline(st store.Store, c DeviceCache, m *metrics.Metrics, logger *zap.Logger, opts Options) *Pipeline {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	logger = logger.Named("ingest")
	return &Pipeline{
		store:      st,
		normalizer: NewNormalizer(st),
		resolver:   NewResolver(st, c, logger),
		metrics:    m,
		logger:     logger,
		opts:       opts,
	}
}

// storeCtx bounds one store call. Processing is never aborted midway, so the
// caller's cancellation is not inherited.
func (p *Pipeline) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.opts.StoreTimeout)
}

// Process runs the full pipeline. The only error returned is a failure to
// record the inbound message; everything after that is best effort and
// reported in Result.Errors.
func (p *Pipeline) Process(ctx context.Context, msg RawMessage) (*Result, error) {
	start := time.Now()
	defer func() { p.metrics.ProcessingSeconds.Observe(time.Since(start).Seconds()) }()

	source := msg.Source
	if source == "" {
		source = SourceMQTT
	}
	p.metrics.MessagesReceived.WithLabelValues(source).Inc()

	sctx, cancel := p.storeCtx(ctx)
	ev, err := p.normalizer.Normalize(sctx, msg)
	cancel()
	if err != nil {
		p.logger.Error("failed to record inbound message", zap.String("topic", msg.Topic), zap.Error(err))
		p.metrics.MessagesRejected.WithLabelValues("record").Inc()
		return nil, err
	}

	res := &Result{Event: ev}
	p.reconcile(ctx, res)
	p.markProcessed(ctx, res)

	for _, se := range res.Errors {
		p.metrics.StageFailures.WithLabelValues(string(se.Stage)).Inc()
	}
	return res, nil
}

func (p *Pipeline) reconcile(ctx context.Context, res *Result) {
	ev := res.Event
	log := p.logger.With(zap.String("topic", ev.Topic), zap.String("device_id", ev.DeviceExternalID))

	sctx, cancel := p.storeCtx(ctx)
	device, err := p.resolver.Resolve(sctx, ev.DeviceExternalID)
	cancel()
	if err != nil {
		log.Error("device lookup failed", zap.Error(err))
		res.Errors = append(res.Errors, StageError{Stage: StageResolve, Err: err})
		return
	}
	if device == nil {
		p.metrics.UnknownDevices.Inc()
		return
	}
	res.Device = device

	sctx, cancel = p.storeCtx(ctx)
	touch, err := p.store.TouchDevice(sctx, device.ID, ev.ReceivedAt)
	cancel()
	if err != nil {
		log.Error("liveness update failed", zap.Time("last_seen", ev.ReceivedAt), zap.Error(err))
		res.Errors = append(res.Errors, StageError{Stage: StageLiveness, Err: err})
	}
	if err == nil && !touch.Found {
		// The cached device was deleted after it was resolved.
		sctx, cancel = p.storeCtx(ctx)
		p.resolver.Forget(sctx, ev.DeviceExternalID)
		cancel()
		p.metrics.UnknownDevices.Inc()
		log.Debug("unknown device")
		res.Device = nil
		return
	}
	res.Fresh = err == nil && touch.Advanced
	if err == nil && !touch.Advanced {
		p.metrics.StaleMessages.Inc()
		log.Debug("message older than last_seen did not advance it", zap.Time("received_at", ev.ReceivedAt))
		if p.opts.DropStaleFields {
			return
		}
	}

	res.Plan = Interpret(device, ev.Payload, log)
	if res.Plan.Empty() {
		log.Debug("liveness only")
		return
	}
	p.applyFields(ctx, res, log)
	p.appendDispense(ctx, res, log)
	p.applyChannels(ctx, res, log)
}

func (p *Pipeline) applyFields(ctx context.Context, res *Result, log *zap.Logger) {
	if len(res.Plan.Fields) == 0 {
		return
	}
	sctx, cancel := p.storeCtx(ctx)
	defer cancel()
	if err := p.store.UpdateDeviceFields(sctx, res.Device.ID, res.Plan.Fields); err != nil {
		log.Error("device field update failed", zap.Any("updates", res.Plan.Fields), zap.Error(err))
		res.Errors = append(res.Errors, StageError{Stage: StageFields, Err: err})
	}
}

func (p *Pipeline) appendDispense(ctx context.Context, res *Result, log *zap.Logger) {
	disp := res.Plan.Dispense
	if disp == nil {
		return
	}
	entry := &model.VendingLog{
		DeviceID:        res.Device.ID,
		AmountCollected: disp.Amount,
		VolumeDispensed: disp.Volume,
		DedupKey:        disp.DedupKey,
		RecordedAt:      res.Event.ObservedAt,
	}

	sctx, cancel := p.storeCtx(ctx)
	defer cancel()
	inserted, err := p.store.AppendVendingLog(sctx, entry)
	if err != nil {
		log.Error("vending log append failed", zap.Any("entry", entry), zap.Error(err))
		res.Errors = append(res.Errors, StageError{Stage: StageVendingLog, Err: err})
		return
	}
	res.LogAppended = inserted
	if inserted {
		p.metrics.VendingLogs.WithLabelValues("inserted").Inc()
	} else {
		p.metrics.VendingLogs.WithLabelValues("duplicate").Inc()
		log.Info("duplicate dispense ignored", zap.Stringp("seq", disp.DedupKey))
	}
}

func (p *Pipeline) applyChannels(ctx context.Context, res *Result, log *zap.Logger) {
	for _, u := range res.Plan.Channels {
		sctx, cancel := p.storeCtx(ctx)
		ch, err := p.store.FindChannel(sctx, res.Device.ID, u.Number, u.Direction)
		if err == nil && ch == nil {
			cancel()
			p.metrics.ChannelMisses.Inc()
			res.ChannelMisses = append(res.ChannelMisses, u.Key)
			log.Warn("no such channel", zap.String("key", u.Key), zap.Int("channel", u.Number), zap.String("direction", string(u.Direction)))
			continue
		}
		if err == nil {
			err = p.store.UpdateChannelState(sctx, ch.ID, u.State)
		}
		cancel()
		if err != nil {
			log.Error("channel update failed", zap.String("key", u.Key), zap.String("state", string(u.State)), zap.Error(err))
			res.Errors = append(res.Errors, StageError{Stage: StageChannels, Err: err})
			continue
		}
		res.ChannelsUpdated++
	}
}

// markProcessed flags the audit record once reconciliation is over, whatever
// its outcome.
func (p *Pipeline) markProcessed(ctx context.Context, res *Result) {
	sctx, cancel := p.storeCtx(ctx)
	defer cancel()
	if err := p.store.MarkMessageProcessed(sctx, res.Event.MessageID); err != nil {
		p.logger.Error("failed to mark message processed", zap.Int64("message_id", res.Event.MessageID), zap.Error(err))
		res.Errors = append(res.Errors, StageError{Stage: StageMarkProcessed, Err: err})
	}
}
