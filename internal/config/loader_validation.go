package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks configuration constraints
func Validate(cfg *Config) error {
	if err := validateMQTT(&cfg.MQTT); err != nil {
		return err
	}
	if err := validateTimescale(&cfg.Timescale); err != nil {
		return err
	}
	if err := validatePipeline(&cfg.Pipeline); err != nil {
		return err
	}
	if err := validateHTTP(&cfg.HTTP); err != nil {
		return err
	}
	return validateDevices(&cfg.Devices)
}

// validateMQTT validates MQTT broker configuration
func validateMQTT(cfg *MQTTConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("mqtt host cannot be empty")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("mqtt port must be in [1,65535]")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("mqtt client ID cannot be empty")
	}
	if cfg.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	if cfg.Username == "" && cfg.Password != "" {
		return fmt.Errorf("mqtt password set without username")
	}
	return nil
}

// validateTimescale validates TimescaleDB configuration
func validateTimescale(cfg *TimescaleConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("timescale host cannot be empty")
	}
	if cfg.Database == "" {
		return fmt.Errorf("timescale database cannot be empty")
	}
	if cfg.Table == "" {
		return fmt.Errorf("timescale table cannot be empty")
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("timescale batch size must be positive")
	}
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("timescale retry attempts must be positive")
	}
	if cfg.PoolMinConns < 0 || cfg.PoolMaxConns < 1 || cfg.PoolMinConns > cfg.PoolMaxConns {
		return fmt.Errorf("timescale pool bounds invalid: min=%d max=%d", cfg.PoolMinConns, cfg.PoolMaxConns)
	}
	if cfg.DLQEnabled && cfg.DLQPath == "" {
		return fmt.Errorf("dlq path cannot be empty when dlq is enabled")
	}
	return nil
}

// validatePipeline validates Pipeline configuration
func validatePipeline(cfg *PipelineConfig) error {
	if cfg.QueueCapacity < 1 {
		return fmt.Errorf("pipeline queue capacity must be positive")
	}
	if cfg.StatusInterval <= 0 {
		return fmt.Errorf("pipeline status interval must be positive")
	}
	return nil
}

// validateHTTP validates HTTP interface configuration
func validateHTTP(cfg *HTTPConfig) error {
	switch cfg.AuthMode {
	case AuthModeNone, "":
	case AuthModeAPIKey:
		if cfg.APIKey == "" {
			return fmt.Errorf("http auth mode apikey requires an API key")
		}
	case AuthModeJWT:
		if cfg.JWTSecret == "" {
			return fmt.Errorf("http auth mode jwt requires a JWT secret")
		}
	default:
		return fmt.Errorf("http auth mode must be none, apikey or jwt")
	}
	return nil
}

// validateDevices validates the whole device tree
func validateDevices(devices *DevicesConfig) error {
	if len(devices.Modbus) == 0 && len(devices.MQTT) == 0 {
		return fmt.Errorf("device tree is empty: at least one modbus or mqtt device is required")
	}

	seen := make(map[string]bool)
	for i := range devices.Modbus {
		d := &devices.Modbus[i]
		if err := validateModbusDevice(d); err != nil {
			return err
		}
		if seen[d.DeviceID] {
			return fmt.Errorf("duplicate device id %q", d.DeviceID)
		}
		seen[d.DeviceID] = true
	}
	for i := range devices.MQTT {
		d := &devices.MQTT[i]
		if err := validateMQTTDevice(d); err != nil {
			return err
		}
		if seen[d.DeviceID] {
			return fmt.Errorf("duplicate device id %q", d.DeviceID)
		}
		seen[d.DeviceID] = true
	}
	return nil
}

func validateModbusDevice(d *ModbusDeviceConfig) error {
	if d.DeviceID == "" {
		return fmt.Errorf("modbus device id cannot be empty")
	}
	if net.ParseIP(d.IPAddress) == nil {
		return fmt.Errorf("device %s: invalid ip address %q", d.DeviceID, d.IPAddress)
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("device %s: port must be in [1,65535]", d.DeviceID)
	}
	if d.UnitID < 1 || d.UnitID > 255 {
		return fmt.Errorf("device %s: unit id must be in [1,255]", d.DeviceID)
	}
	if len(d.Channels) == 0 {
		return fmt.Errorf("device %s: at least one channel is required", d.DeviceID)
	}

	channels := make(map[int]bool)
	for i := range d.Channels {
		ch := &d.Channels[i]
		if err := validateChannel(d.DeviceID, ch); err != nil {
			return err
		}
		if channels[ch.Number] {
			return fmt.Errorf("device %s: duplicate channel number %d", d.DeviceID, ch.Number)
		}
		channels[ch.Number] = true
	}
	return nil
}

func validateChannel(deviceID string, ch *ChannelConfig) error {
	if ch.Number < 0 {
		return fmt.Errorf("device %s: channel number cannot be negative", deviceID)
	}
	switch ch.RegisterCount {
	case 1, 2, 4:
	default:
		return fmt.Errorf("device %s channel %d: register count must be 1, 2 or 4", deviceID, ch.Number)
	}
	if ch.ScaleFactor <= 0 {
		return fmt.Errorf("device %s channel %d: scale factor must be positive", deviceID, ch.Number)
	}
	if ch.Min != nil && ch.Max != nil && *ch.Min >= *ch.Max {
		return fmt.Errorf("device %s channel %d: min must be below max", deviceID, ch.Number)
	}
	return nil
}

func validateMQTTDevice(d *MQTTDeviceConfig) error {
	if d.DeviceID == "" {
		return fmt.Errorf("mqtt device id cannot be empty")
	}
	if len(d.Topics) == 0 {
		return fmt.Errorf("device %s: at least one topic is required", d.DeviceID)
	}
	for _, topic := range d.Topics {
		if err := ValidateTopicFilter(topic); err != nil {
			return fmt.Errorf("device %s: %w", d.DeviceID, err)
		}
	}
	switch d.Format {
	case FormatJSON, FormatBinary, FormatCSV:
	default:
		return fmt.Errorf("device %s: unknown payload format %q", d.DeviceID, d.Format)
	}
	switch d.DataType {
	case DataTypeUInt32, DataTypeInt16, DataTypeUInt16, DataTypeFloat32, DataTypeFloat64:
	default:
		return fmt.Errorf("device %s: unknown data type %q", d.DeviceID, d.DataType)
	}
	if d.QoS != nil && *d.QoS > 2 {
		return fmt.Errorf("device %s: qos must be 0, 1 or 2", d.DeviceID)
	}
	if d.Format == FormatJSON && (d.ChannelPath == "" || d.ValuePath == "") {
		return fmt.Errorf("device %s: json format requires channel_path and value_path", d.DeviceID)
	}
	if d.ScaleFactor <= 0 {
		return fmt.Errorf("device %s: scale factor must be positive", d.DeviceID)
	}
	return nil
}

// ValidateTopicFilter checks MQTT topic filter syntax. A '+' must occupy a
// whole level, '#' must occupy the final level; sequences such as "##" or
// "++" are invalid.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("topic filter cannot be empty")
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("invalid topic filter %q: '+' must occupy a whole level", filter)
		}
		if strings.Contains(level, "#") {
			if level != "#" {
				return fmt.Errorf("invalid topic filter %q: '#' must occupy a whole level", filter)
			}
			if i != len(levels)-1 {
				return fmt.Errorf("invalid topic filter %q: '#' must be the final level", filter)
			}
		}
	}
	return nil
}
