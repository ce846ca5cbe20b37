package parse

import "strings"

// DeviceIDFromTopic derives a device id from a topic of the form
// <namespace>/<device_id>/... by taking the second segment.
func DeviceIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return "", false
	}
	id := strings.TrimSpace(parts[1])
	if id == "" {
		return "", false
	}
	return id, true
}
