package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/log"
)

func jsonDevice(id string, topics ...string) config.MQTTDeviceConfig {
	return config.MQTTDeviceConfig{
		DeviceID:    id,
		Topics:      topics,
		Format:      config.FormatJSON,
		DataType:    config.DataTypeUInt32,
		ChannelPath: "$.channel",
		ValuePath:   "$.value",
		ScaleFactor: 1.0,
	}
}

func TestMatchFilter(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		match  bool
	}{
		{"plant/hall1/energy", "plant/hall1/energy", true},
		{"plant/hall1/energy", "plant/hall1/temp", false},
		{"plant/+/energy", "plant/hall1/energy", true},
		{"plant/+/energy", "plant/hall2/energy", true},
		{"plant/+/energy", "plant/hall1/sub/energy", false},
		{"plant/+/energy", "plant/energy", false},
		{"plant/#", "plant/hall1/energy", true},
		{"plant/#", "plant", true},
		{"plant/#", "factory/hall1", false},
		{"#", "anything/at/all", true},
		{"+", "one", true},
		{"+", "one/two", false},
		{"plant/+/+", "plant/hall1/energy", true},
		{"plant/hall1", "plant/hall1/energy", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+" vs "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.match, MatchFilter(tt.filter, tt.topic))
		})
	}
}

func TestRouterExactMatch(t *testing.T) {
	devices := []config.MQTTDeviceConfig{
		jsonDevice("dev1", "plant/hall1/energy"),
		jsonDevice("dev2", "plant/hall2/energy"),
	}
	router, err := NewRouter(devices, 1, log.New())
	require.NoError(t, err)

	match := router.Match("plant/hall1/energy")
	require.NotNil(t, match)
	assert.Equal(t, "dev1", match.DeviceID)

	assert.Nil(t, router.Match("plant/hall3/energy"))
}

func TestRouterExactBeatsWildcard(t *testing.T) {
	devices := []config.MQTTDeviceConfig{
		jsonDevice("wild", "plant/#"),
		jsonDevice("exact", "plant/hall1/energy"),
	}
	router, err := NewRouter(devices, 1, log.New())
	require.NoError(t, err)

	match := router.Match("plant/hall1/energy")
	require.NotNil(t, match)
	assert.Equal(t, "exact", match.DeviceID)

	fallback := router.Match("plant/hall2/energy")
	require.NotNil(t, fallback)
	assert.Equal(t, "wild", fallback.DeviceID)
}

func TestRouterDuplicateExactTopicFirstWins(t *testing.T) {
	qos2 := byte(2)
	devices := []config.MQTTDeviceConfig{
		jsonDevice("first", "plant/hall1/energy"),
		jsonDevice("second", "plant/hall1/energy"),
	}
	devices[1].QoS = &qos2
	router, err := NewRouter(devices, 1, log.New())
	require.NoError(t, err)

	match := router.Match("plant/hall1/energy")
	require.NotNil(t, match)
	assert.Equal(t, "first", match.DeviceID)

	subs := router.Subscriptions()
	require.Len(t, subs, 1, "duplicate filters subscribe once")
	assert.Equal(t, byte(2), subs[0].QoS, "the ignored owner still raises the subscribe QoS")
}

func TestRouterSubscriptionQoS(t *testing.T) {
	qos2 := byte(2)
	qos0 := byte(0)
	devices := []config.MQTTDeviceConfig{
		jsonDevice("dev1", "shared/topic"),
		jsonDevice("dev2", "shared/topic"),
		jsonDevice("dev3", "own/topic"),
	}
	devices[1].QoS = &qos2
	devices[2].QoS = &qos0

	router, err := NewRouter(devices, 1, log.New())
	require.NoError(t, err)

	subs := router.Subscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, Subscription{Filter: "shared/topic", QoS: 2}, subs[0], "maximum QoS of all owners")
	assert.Equal(t, Subscription{Filter: "own/topic", QoS: 0}, subs[1])
}

func TestRouterRejectsInvalidFilter(t *testing.T) {
	devices := []config.MQTTDeviceConfig{jsonDevice("dev1", "plant/##")}
	_, err := NewRouter(devices, 1, log.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dev1")
}
