// Package config provides configuration loading and validation from a YAML
// device file, environment variables and command line flags.
package config

import "time"

// Config holds the complete configuration
type Config struct {
	Devices   DevicesConfig
	MQTT      MQTTConfig
	Timescale TimescaleConfig
	Pipeline  PipelineConfig
	HTTP      HTTPConfig

	// DevicesFile is the path the device tree was loaded from
	DevicesFile string
}

// MQTTConfig holds MQTT broker connection settings
type MQTTConfig struct {
	Host                 string
	Port                 int
	ClientID             string
	Username             string
	Password             string
	TLSEnabled           bool
	CACert               string
	ClientCert           string
	ClientKey            string
	InsecureSkip         bool
	KeepAlive            time.Duration
	QoS                  byte
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int // 0 = unbounded
	ConnectTimeout       time.Duration
	SubscribeTimeout     time.Duration
	DisconnectTimeout    uint // Milliseconds for graceful disconnect
}

// TimescaleConfig holds TimescaleDB sink and batch writer settings
type TimescaleConfig struct {
	Host               string
	Port               int
	Database           string
	User               string
	Password           string
	SSLEnabled         bool
	Table              string
	BatchSize          int
	BatchTimeout       time.Duration
	WriteTimeout       time.Duration
	RetryAttempts      int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	DLQEnabled         bool
	DLQPath            string
	DLQReplayInterval  time.Duration
	DLQMaxFilesPerScan int
	PoolMinConns       int
	PoolMaxConns       int
	InitTimeout        time.Duration
	ShutdownTimeout    time.Duration
}

// PipelineConfig holds pipeline orchestration settings
type PipelineConfig struct {
	QueueCapacity   int
	ShutdownTimeout time.Duration
	StatusInterval  time.Duration
}

// HTTP authenticator modes
const (
	AuthModeNone   = "none"
	AuthModeAPIKey = "apikey"
	AuthModeJWT    = "jwt"
)

// HTTPConfig holds the management HTTP interface settings
type HTTPConfig struct {
	Enabled      bool
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AuthMode selects the authenticator: "none", "apikey" or "jwt"
	AuthMode  string
	APIKey    string
	JWTSecret string
}
