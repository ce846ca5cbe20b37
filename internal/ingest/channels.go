package ingest

import (
	"sort"

	"vendorflow-backend/internal/model"
	"vendorflow-backend/internal/parse"
)

// ChannelUpdate is the state a payload reports for one channel.
type ChannelUpdate struct {
	Key       string
	Number    int
	Direction model.ChannelDirection
	State     model.SwitchState
}

// ChannelUpdates scans payload for OUT_<n> and IN_<n> keys. Any value other
// than the string "on" (case-insensitive) means off. Updates come back in key
// order.
func ChannelUpdates(payload map[string]any) []ChannelUpdate {
	var updates []ChannelUpdate
	for key, v := range payload {
		n, output, ok := parse.ChannelKey(key)
		if !ok {
			continue
		}
		u := ChannelUpdate{
			Key:       key,
			Number:    n,
			Direction: model.DirectionInput,
			State:     model.SwitchOff,
		}
		if output {
			u.Direction = model.DirectionOutput
		}
		if parse.SwitchOn(v) {
			u.State = model.SwitchOn
		}
		updates = append(updates, u)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Key < updates[j].Key })
	return updates
}
