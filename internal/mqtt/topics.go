// Package mqtt provides the broker client, wildcard topic routing and
// payload decoding for MQTT-publishing sensors.
package mqtt

import (
	"fmt"
	"strings"

	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/log"
)

// Subscription is one broker subscribe entry
type Subscription struct {
	Filter string
	QoS    byte
}

type wildcardEntry struct {
	filter string
	device *config.MQTTDeviceConfig
}

// Router resolves incoming topics to their owning device. Exact topics are
// looked up in O(1); wildcard filters are scanned linearly on miss. The
// tables are built once and read-only afterwards.
type Router struct {
	exact     map[string]*config.MQTTDeviceConfig
	wildcards []wildcardEntry
	subs      []Subscription
}

// NewRouter builds the lookup tables for the MQTT device set. Duplicate
// exact topics are reported and the first-registered device wins. The
// subscribe set carries the maximum QoS requested by any owner of a filter.
func NewRouter(devices []config.MQTTDeviceConfig, defaultQoS byte, logger *log.Logger) (*Router, error) {
	r := &Router{exact: make(map[string]*config.MQTTDeviceConfig)}
	qosByFilter := make(map[string]byte)
	var order []string

	for i := range devices {
		device := &devices[i]
		qos := defaultQoS
		if device.QoS != nil {
			qos = *device.QoS
		}

		for _, topic := range device.Topics {
			if err := config.ValidateTopicFilter(topic); err != nil {
				return nil, fmt.Errorf("device %s: %w", device.DeviceID, err)
			}

			if isWildcard(topic) {
				r.wildcards = append(r.wildcards, wildcardEntry{filter: topic, device: device})
			} else if existing, dup := r.exact[topic]; dup {
				// The first owner keeps the topic, but the duplicate still
				// counts toward the subscribe QoS below.
				logger.Warn("Topic %s already registered by device %s, ignoring duplicate from %s",
					topic, existing.DeviceID, device.DeviceID)
			} else {
				r.exact[topic] = device
			}

			if current, seen := qosByFilter[topic]; !seen {
				qosByFilter[topic] = qos
				order = append(order, topic)
			} else if qos > current {
				qosByFilter[topic] = qos
			}
		}
	}

	for _, filter := range order {
		r.subs = append(r.subs, Subscription{Filter: filter, QoS: qosByFilter[filter]})
	}
	return r, nil
}

// Subscriptions returns the effective subscribe set
func (r *Router) Subscriptions() []Subscription {
	return r.subs
}

// Match resolves a concrete topic to its owning device, exact match first
func (r *Router) Match(topic string) *config.MQTTDeviceConfig {
	if device, ok := r.exact[topic]; ok {
		return device
	}
	for _, entry := range r.wildcards {
		if MatchFilter(entry.filter, topic) {
			return entry.device
		}
	}
	return nil
}

// isWildcard reports whether a filter contains MQTT wildcards
func isWildcard(filter string) bool {
	return strings.ContainsAny(filter, "+#")
}

// MatchFilter applies standard MQTT topic-filter matching: '+' matches one
// level, a terminal '#' matches the remaining levels (including none).
func MatchFilter(filter string, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, level := range filterLevels {
		if level == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
