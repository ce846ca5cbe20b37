package ingest

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"vendorflow-backend/internal/model"
	"vendorflow-backend/internal/parse"
)

// Payload keys understood by the kind decoders.
const (
	keyState       = "state"
	keyLevel       = "level"
	keyBalance     = "balance"
	keyValveStatus = "valve_status"
	keyAmount      = "amount"
	keyVolume      = "volume"
	keyTotalAmount = "total_amount"
	keyTotalVolume = "total_volume"
	keyStock       = "stock"
	keySeq         = "seq"
)

// Dispense is one vending dispense event taken from a payload.
type Dispense struct {
	Amount   float64
	Volume   float64
	DedupKey *string
}

// Plan is the staged outcome of interpreting one payload for one device.
type Plan struct {
	Fields   map[string]any
	Dispense *Dispense
	Channels []ChannelUpdate
}

// Empty reports whether the plan stages nothing beyond liveness.
func (p Plan) Empty() bool {
	return len(p.Fields) == 0 && p.Dispense == nil && len(p.Channels) == 0
}

// decoder reads the fields one device kind owns. Keys it does not know are
// ignored.
type decoder func(d *model.Device, payload map[string]any, plan *Plan, logger *zap.Logger)

var decoders = map[model.DeviceKind]decoder{
	model.KindVendingMachine: decodeVending,
	model.KindWaterPump:      decodePump,
	model.KindRelayDevice:    decodeRelay,
}

// Interpret classifies by the resolved device kind and decodes only that
// kind's fields. Columns the kind may not write are dropped.
func Interpret(d *model.Device, payload map[string]any, logger *zap.Logger) Plan {
	plan := Plan{Fields: map[string]any{}}

	if s, ok := payload[keyState].(string); ok {
		if n := utf8.RuneCountInString(s); n > model.StateMaxLen {
			logger.Debug("skipping oversized state", zap.String("device_id", d.ExternalID), zap.Int("length", n))
		} else {
			plan.Fields[model.ColumnState] = s
		}
	}
	if dec, ok := decoders[d.Kind]; ok {
		dec(d, payload, &plan, logger)
	}
	if d.Kind.HasChannels() {
		plan.Channels = ChannelUpdates(payload)
	}

	for col := range plan.Fields {
		if !d.Kind.Writes(col) {
			delete(plan.Fields, col)
		}
	}
	return plan
}

// number reads a finite float for key. Present but unparseable values are
// logged and reported as absent.
func number(payload map[string]any, key string, logger *zap.Logger) (float64, bool) {
	v, present := payload[key]
	if !present {
		return 0, false
	}
	f, ok := parse.Float(v)
	if !ok {
		logger.Debug("skipping non-numeric field", zap.String("key", key), zap.Any("value", v))
	}
	return f, ok
}

func decodeVending(d *model.Device, payload map[string]any, plan *Plan, logger *zap.Logger) {
	amount, hasAmount := number(payload, keyAmount, logger)
	volume, hasVolume := number(payload, keyVolume, logger)
	if hasAmount && hasVolume {
		disp := &Dispense{Amount: amount, Volume: volume}
		if key, ok := parse.Key(payload[keySeq]); ok {
			disp.DedupKey = &key
		}
		plan.Dispense = disp
	}

	if v, ok := number(payload, keyTotalAmount, logger); ok {
		plan.Fields[model.ColumnTotalAmount] = v
	}
	if v, ok := number(payload, keyTotalVolume, logger); ok {
		plan.Fields[model.ColumnTotalVolume] = v
	}
	if v, ok := number(payload, keyStock, logger); ok {
		plan.Fields[model.ColumnStock] = v
	}
	if v, ok := number(payload, keyLevel, logger); ok {
		plan.Fields[model.ColumnCurrentLevel] = clampLevel(v, d.MaxCapacity)
	}
}

// clampLevel keeps a reported level within [0, maxCapacity]. Without a
// positive capacity only the lower bound applies.
func clampLevel(level float64, maxCapacity *float64) float64 {
	if level < 0 {
		return 0
	}
	if maxCapacity != nil && *maxCapacity > 0 && level > *maxCapacity {
		return *maxCapacity
	}
	return level
}

func decodePump(d *model.Device, payload map[string]any, plan *Plan, logger *zap.Logger) {
	if v, ok := number(payload, keyBalance, logger); ok {
		if v < 0 {
			logger.Debug("skipping negative balance", zap.String("device_id", d.ExternalID), zap.Float64("balance", v))
		} else {
			plan.Fields[model.ColumnBalance] = v
		}
	}

	if raw, present := payload[keyValveStatus]; present {
		run := model.RunStateOff
		if s, ok := raw.(string); ok && strings.EqualFold(strings.TrimSpace(s), "open") {
			run = model.RunStateOn
		}
		plan.Fields[model.ColumnRunState] = run
	}
}

// Relay devices carry nothing beyond liveness and channels.
func decodeRelay(*model.Device, map[string]any, *Plan, *zap.Logger) {}
