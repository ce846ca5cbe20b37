package parse

import (
	"strings"
	"time"
)

// Millisecond epochs are distinguished from second epochs by magnitude.
const epochMillisThreshold = 1e12

// Reported times outside [minTimestamp, now+maxClockSkew] are rejected.
const maxClockSkew = 24 * time.Hour

var minTimestamp = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Timestamp reads a device-reported time: an RFC3339 string or a unix
// epoch in seconds or milliseconds. Values before 2000 or more than a day
// ahead of the local clock are rejected.
func Timestamp(v any) (time.Time, bool) {
	maxTimestamp := time.Now().Add(maxClockSkew)

	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			if t.Before(minTimestamp) || t.After(maxTimestamp) {
				return time.Time{}, false
			}
			return t.UTC(), true
		}
	}

	f, ok := Float(v)
	if !ok {
		return time.Time{}, false
	}
	millis := f
	if f < epochMillisThreshold {
		millis = f * 1000
	}
	// Range check before converting so huge values cannot overflow int64.
	if millis < float64(minTimestamp.UnixMilli()) || millis > float64(maxTimestamp.UnixMilli()) {
		return time.Time{}, false
	}
	return time.UnixMicro(int64(millis * 1000)).UTC(), true
}
