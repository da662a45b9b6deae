package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Payload format identifiers for MQTT devices
const (
	FormatJSON   = "json"
	FormatBinary = "binary"
	FormatCSV    = "csv"
)

// Data type identifiers for MQTT payload decoding
const (
	DataTypeUInt32  = "uint32"
	DataTypeInt16   = "int16"
	DataTypeUInt16  = "uint16"
	DataTypeFloat32 = "float32"
	DataTypeFloat64 = "float64"
)

// DevicesConfig is the device tree loaded from the YAML devices file
type DevicesConfig struct {
	Modbus []ModbusDeviceConfig `yaml:"modbus_devices"`
	MQTT   []MQTTDeviceConfig   `yaml:"mqtt_devices"`
}

// ChannelConfig describes one counter channel on a Modbus device
type ChannelConfig struct {
	Number        int               `yaml:"channel"`
	StartRegister uint16            `yaml:"start_register"`
	RegisterCount int               `yaml:"register_count"`
	ScaleFactor   float64           `yaml:"scale_factor"`
	Offset        float64           `yaml:"offset"`
	Min           *float64          `yaml:"min,omitempty"`
	Max           *float64          `yaml:"max,omitempty"`
	MaxChangeRate *float64          `yaml:"max_change_rate,omitempty"`
	Enabled       bool              `yaml:"enabled"`
	Unit          string            `yaml:"unit,omitempty"`
	RateWindow    time.Duration     `yaml:"rate_window,omitempty"`
	Tags          map[string]string `yaml:"tags,omitempty"`
}

// ModbusDeviceConfig describes one Modbus/TCP counter module
type ModbusDeviceConfig struct {
	DeviceID       string          `yaml:"device_id"`
	IPAddress      string          `yaml:"ip_address"`
	Port           int             `yaml:"port"`
	UnitID         int             `yaml:"unit_id"`
	Enabled        bool            `yaml:"enabled"`
	PollInterval   time.Duration   `yaml:"poll_interval"`
	Timeout        time.Duration   `yaml:"timeout"`
	MaxRetries     int             `yaml:"max_retries"`
	RetryBaseDelay time.Duration   `yaml:"retry_base_delay"`
	KeepAlive      bool            `yaml:"keep_alive"`
	SendBufferSize int             `yaml:"send_buffer_size"`
	RecvBufferSize int             `yaml:"recv_buffer_size"`
	Channels       []ChannelConfig `yaml:"channels"`
}

// Address returns the host:port dial target of the device
func (d *ModbusDeviceConfig) Address() string {
	return fmt.Sprintf("%s:%d", d.IPAddress, d.Port)
}

// MQTTDeviceConfig describes one MQTT-publishing sensor
type MQTTDeviceConfig struct {
	DeviceID      string   `yaml:"device_id"`
	Topics        []string `yaml:"topics"`
	Format        string   `yaml:"format"`
	DataType      string   `yaml:"data_type"`
	QoS           *byte    `yaml:"qos,omitempty"`
	ChannelPath   string   `yaml:"channel_path,omitempty"`
	ValuePath     string   `yaml:"value_path,omitempty"`
	DeviceIDPath  string   `yaml:"device_id_path,omitempty"`
	TimestampPath string   `yaml:"timestamp_path,omitempty"`
	ScaleFactor   float64  `yaml:"scale_factor"`
	Unit          string   `yaml:"unit,omitempty"`
}

// loadDevicesFile reads and parses the YAML device tree
func loadDevicesFile(path string) (DevicesConfig, error) {
	var devices DevicesConfig

	data, err := os.ReadFile(path) // #nosec G304 - path comes from config, not user input
	if err != nil {
		return devices, fmt.Errorf("failed to read devices file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &devices); err != nil {
		return devices, fmt.Errorf("failed to parse devices file %s: %w", path, err)
	}

	applyDeviceDefaults(&devices)
	return devices, nil
}

// applyDeviceDefaults fills per-device zero values with sane defaults
func applyDeviceDefaults(devices *DevicesConfig) {
	for i := range devices.Modbus {
		d := &devices.Modbus[i]
		if d.Port == 0 {
			d.Port = 502
		}
		if d.PollInterval == 0 {
			d.PollInterval = 1 * time.Second
		}
		if d.Timeout == 0 {
			d.Timeout = 5 * time.Second
		}
		if d.MaxRetries == 0 {
			d.MaxRetries = 3
		}
		if d.RetryBaseDelay == 0 {
			d.RetryBaseDelay = 500 * time.Millisecond
		}
		for j := range d.Channels {
			ch := &d.Channels[j]
			if ch.RegisterCount == 0 {
				ch.RegisterCount = 2
			}
			if ch.ScaleFactor == 0 {
				ch.ScaleFactor = 1.0
			}
			if ch.RateWindow == 0 {
				ch.RateWindow = 60 * time.Second
			}
		}
	}
	for i := range devices.MQTT {
		d := &devices.MQTT[i]
		if d.ScaleFactor == 0 {
			d.ScaleFactor = 1.0
		}
		if d.Format == "" {
			d.Format = FormatJSON
		}
		if d.DataType == "" {
			d.DataType = DataTypeUInt32
		}
	}
}
