package parse

import (
	"regexp"
	"strconv"
	"strings"
)

var channelKeyRe = regexp.MustCompile(`^(OUT|IN)_(\d+)$`)

// ChannelKey matches payload keys of the form OUT_<n> or IN_<n>.
// The prefix is case-sensitive.
func ChannelKey(key string) (number int, output bool, ok bool) {
	m := channelKeyRe.FindStringSubmatch(key)
	if m == nil {
		return 0, false, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false, false
	}
	return n, m[1] == "OUT", true
}

// SwitchOn reports whether a channel value energizes the channel. Only the
// string "on" (any case) does; every other value is off.
func SwitchOn(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return strings.ToLower(s) == "on"
}
