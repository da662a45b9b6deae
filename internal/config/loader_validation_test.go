package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	cfg := defaultConfig()
	cfg.Devices = DevicesConfig{
		Modbus: []ModbusDeviceConfig{validModbusDevice("dev1")},
	}
	return cfg
}

func validModbusDevice(id string) ModbusDeviceConfig {
	return ModbusDeviceConfig{
		DeviceID:  id,
		IPAddress: "192.168.1.10",
		Port:      502,
		UnitID:    1,
		Channels: []ChannelConfig{
			{Number: 0, StartRegister: 100, RegisterCount: 2, ScaleFactor: 1.0, Enabled: true},
		},
	}
}

func validMQTTDevice(id string) MQTTDeviceConfig {
	return MQTTDeviceConfig{
		DeviceID:    id,
		Topics:      []string{"plant/" + id + "/data"},
		Format:      FormatJSON,
		DataType:    DataTypeUInt32,
		ChannelPath: "$.channel",
		ValuePath:   "$.value",
		ScaleFactor: 1.0,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(validTestConfig()))
}

func TestValidateMQTTBroker(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MQTTConfig)
		wantErr string
	}{
		{"empty host", func(c *MQTTConfig) { c.Host = "" }, "host"},
		{"port too low", func(c *MQTTConfig) { c.Port = 0 }, "port"},
		{"port too high", func(c *MQTTConfig) { c.Port = 70000 }, "port"},
		{"empty client id", func(c *MQTTConfig) { c.ClientID = "" }, "client ID"},
		{"invalid qos", func(c *MQTTConfig) { c.QoS = 3 }, "qos"},
		{"password without username", func(c *MQTTConfig) { c.Password = "secret" }, "username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg.MQTT)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTimescale(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TimescaleConfig)
		wantErr string
	}{
		{"empty host", func(c *TimescaleConfig) { c.Host = "" }, "host"},
		{"empty database", func(c *TimescaleConfig) { c.Database = "" }, "database"},
		{"empty table", func(c *TimescaleConfig) { c.Table = "" }, "table"},
		{"zero batch size", func(c *TimescaleConfig) { c.BatchSize = 0 }, "batch size"},
		{"zero retries", func(c *TimescaleConfig) { c.RetryAttempts = 0 }, "retry"},
		{"inverted pool bounds", func(c *TimescaleConfig) { c.PoolMinConns = 8; c.PoolMaxConns = 2 }, "pool"},
		{"dlq without path", func(c *TimescaleConfig) { c.DLQEnabled = true; c.DLQPath = "" }, "dlq path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg.Timescale)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateHTTP(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*HTTPConfig)
		wantErr bool
	}{
		{"none mode", func(c *HTTPConfig) { c.AuthMode = AuthModeNone }, false},
		{"empty mode", func(c *HTTPConfig) { c.AuthMode = "" }, false},
		{"apikey with key", func(c *HTTPConfig) { c.AuthMode = AuthModeAPIKey; c.APIKey = "k" }, false},
		{"apikey without key", func(c *HTTPConfig) { c.AuthMode = AuthModeAPIKey }, true},
		{"jwt with secret", func(c *HTTPConfig) { c.AuthMode = AuthModeJWT; c.JWTSecret = "s" }, false},
		{"jwt without secret", func(c *HTTPConfig) { c.AuthMode = AuthModeJWT }, true},
		{"unknown mode", func(c *HTTPConfig) { c.AuthMode = "basic" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg.HTTP)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDeviceTree(t *testing.T) {
	t.Run("empty tree", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Devices = DevicesConfig{}
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("duplicate ids across fleets", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Devices.MQTT = []MQTTDeviceConfig{validMQTTDevice("dev1")}
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate device id")
	})
}

func TestValidateModbusDevice(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ModbusDeviceConfig)
		wantErr string
	}{
		{"empty id", func(d *ModbusDeviceConfig) { d.DeviceID = "" }, "device id"},
		{"bad ip", func(d *ModbusDeviceConfig) { d.IPAddress = "not-an-ip" }, "ip address"},
		{"zero unit id", func(d *ModbusDeviceConfig) { d.UnitID = 0 }, "unit id"},
		{"unit id too high", func(d *ModbusDeviceConfig) { d.UnitID = 300 }, "unit id"},
		{"no channels", func(d *ModbusDeviceConfig) { d.Channels = nil }, "channel"},
		{"duplicate channel", func(d *ModbusDeviceConfig) {
			d.Channels = append(d.Channels, d.Channels[0])
		}, "duplicate channel"},
		{"bad register count", func(d *ModbusDeviceConfig) { d.Channels[0].RegisterCount = 3 }, "register count"},
		{"zero scale", func(d *ModbusDeviceConfig) { d.Channels[0].ScaleFactor = 0 }, "scale factor"},
		{"min above max", func(d *ModbusDeviceConfig) {
			minVal, maxVal := 100.0, 50.0
			d.Channels[0].Min = &minVal
			d.Channels[0].Max = &maxVal
		}, "min must be below max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := validModbusDevice("dev1")
			tt.mutate(&device)
			err := validateModbusDevice(&device)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateMQTTDeviceConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MQTTDeviceConfig)
		wantErr string
	}{
		{"empty id", func(d *MQTTDeviceConfig) { d.DeviceID = "" }, "device id"},
		{"no topics", func(d *MQTTDeviceConfig) { d.Topics = nil }, "topic"},
		{"bad format", func(d *MQTTDeviceConfig) { d.Format = "xml" }, "format"},
		{"bad data type", func(d *MQTTDeviceConfig) { d.DataType = "int128" }, "data type"},
		{"json without paths", func(d *MQTTDeviceConfig) { d.ChannelPath = "" }, "channel_path"},
		{"zero scale", func(d *MQTTDeviceConfig) { d.ScaleFactor = 0 }, "scale factor"},
		{"invalid qos", func(d *MQTTDeviceConfig) {
			qos := byte(3)
			d.QoS = &qos
		}, "qos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := validMQTTDevice("dev1")
			tt.mutate(&device)
			err := validateMQTTDevice(&device)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTopicFilter(t *testing.T) {
	valid := []string{
		"plant/hall1/energy",
		"plant/+/energy",
		"+/+/+",
		"plant/#",
		"#",
		"+",
	}
	for _, filter := range valid {
		assert.NoError(t, ValidateTopicFilter(filter), filter)
	}

	invalid := []string{
		"",
		"plant/##",
		"plant/#/energy",
		"plant/a#",
		"plant/++/energy",
		"plant/a+b/energy",
	}
	for _, filter := range invalid {
		err := ValidateTopicFilter(filter)
		require.Error(t, err, filter)
		if filter != "" {
			assert.True(t, strings.Contains(err.Error(), "invalid topic filter"), filter)
		}
	}
}
