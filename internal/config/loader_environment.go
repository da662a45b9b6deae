package config

import (
	"os"
	"strconv"
	"time"
)

// loadMQTTFromEnv loads MQTT broker configuration from environment variables
func loadMQTTFromEnv(cfg *MQTTConfig) {
	loadMQTTStrings(cfg)
	loadMQTTInts(cfg)
	loadMQTTTimeouts(cfg)
	loadMQTTTLS(cfg)
}

func loadMQTTStrings(cfg *MQTTConfig) {
	if v := getEnvString("MQTT_HOST"); v != "" {
		cfg.Host = v
	}
	if v := getEnvString("MQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := getEnvString("MQTT_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := getEnvString("MQTT_PASSWORD"); v != "" {
		cfg.Password = v
	}
}

func loadMQTTInts(cfg *MQTTConfig) {
	if v := getEnvInt("MQTT_PORT"); v != 0 {
		cfg.Port = v
	}
	if v := getEnvInt("MQTT_QOS"); v != 0 && v >= 0 && v <= 2 {
		cfg.QoS = byte(v) // #nosec G115 - validated range 0-2
	}
	if v := getEnvInt("MQTT_MAX_RECONNECT_ATTEMPTS"); v != 0 {
		cfg.MaxReconnectAttempts = v
	}
	if v := getEnvInt("MQTT_DISCONNECT_TIMEOUT"); v != 0 {
		cfg.DisconnectTimeout = uint(v) // #nosec G115 - config values are non-negative
	}
}

func loadMQTTTimeouts(cfg *MQTTConfig) {
	if v := getEnvDuration("MQTT_KEEP_ALIVE"); v != 0 {
		cfg.KeepAlive = v
	}
	if v := getEnvDuration("MQTT_RECONNECT_DELAY"); v != 0 {
		cfg.ReconnectDelay = v
	}
	if v := getEnvDuration("MQTT_CONNECT_TIMEOUT"); v != 0 {
		cfg.ConnectTimeout = v
	}
	if v := getEnvDuration("MQTT_SUBSCRIBE_TIMEOUT"); v != 0 {
		cfg.SubscribeTimeout = v
	}
}

func loadMQTTTLS(cfg *MQTTConfig) {
	if v := getEnvBool("MQTT_TLS_ENABLED"); v {
		cfg.TLSEnabled = v
	}
	if v := getEnvString("MQTT_CA_CERT"); v != "" {
		cfg.CACert = v
	}
	if v := getEnvString("MQTT_CLIENT_CERT"); v != "" {
		cfg.ClientCert = v
	}
	if v := getEnvString("MQTT_CLIENT_KEY"); v != "" {
		cfg.ClientKey = v
	}
	if v := getEnvBool("MQTT_TLS_INSECURE_SKIP"); v {
		cfg.InsecureSkip = v
	}
}

// loadTimescaleFromEnv loads TimescaleDB configuration from environment variables
func loadTimescaleFromEnv(cfg *TimescaleConfig) {
	loadTimescaleStrings(cfg)
	loadTimescaleInts(cfg)
	loadTimescaleTimeouts(cfg)
	loadTimescaleDLQ(cfg)
}

func loadTimescaleStrings(cfg *TimescaleConfig) {
	if v := getEnvString("TIMESCALE_HOST"); v != "" {
		cfg.Host = v
	}
	if v := getEnvString("TIMESCALE_DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := getEnvString("TIMESCALE_USER"); v != "" {
		cfg.User = v
	}
	if v := getEnvString("TIMESCALE_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := getEnvString("TIMESCALE_TABLE"); v != "" {
		cfg.Table = v
	}
	if v := getEnvBool("TIMESCALE_SSL_ENABLED"); v {
		cfg.SSLEnabled = v
	}
}

func loadTimescaleInts(cfg *TimescaleConfig) {
	if v := getEnvInt("TIMESCALE_PORT"); v != 0 {
		cfg.Port = v
	}
	if v := getEnvInt("TIMESCALE_BATCH_SIZE"); v != 0 {
		cfg.BatchSize = v
	}
	if v := getEnvInt("TIMESCALE_RETRY_ATTEMPTS"); v != 0 {
		cfg.RetryAttempts = v
	}
	if v := getEnvInt("TIMESCALE_POOL_MIN_CONNS"); v != 0 {
		cfg.PoolMinConns = v
	}
	if v := getEnvInt("TIMESCALE_POOL_MAX_CONNS"); v != 0 {
		cfg.PoolMaxConns = v
	}
}

func loadTimescaleTimeouts(cfg *TimescaleConfig) {
	if v := getEnvDuration("TIMESCALE_BATCH_TIMEOUT"); v != 0 {
		cfg.BatchTimeout = v
	}
	if v := getEnvDuration("TIMESCALE_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("TIMESCALE_RETRY_BASE_DELAY"); v != 0 {
		cfg.RetryBaseDelay = v
	}
	if v := getEnvDuration("TIMESCALE_RETRY_MAX_DELAY"); v != 0 {
		cfg.RetryMaxDelay = v
	}
	if v := getEnvDuration("TIMESCALE_INIT_TIMEOUT"); v != 0 {
		cfg.InitTimeout = v
	}
	if v := getEnvDuration("TIMESCALE_SHUTDOWN_TIMEOUT"); v != 0 {
		cfg.ShutdownTimeout = v
	}
}

func loadTimescaleDLQ(cfg *TimescaleConfig) {
	if v := getEnvString("DLQ_ENABLED"); v != "" {
		cfg.DLQEnabled = v == "true"
	}
	if v := getEnvString("DLQ_PATH"); v != "" {
		cfg.DLQPath = v
	}
	if v := getEnvDuration("DLQ_REPLAY_INTERVAL"); v != 0 {
		cfg.DLQReplayInterval = v
	}
	if v := getEnvInt("DLQ_MAX_FILES_PER_SCAN"); v != 0 {
		cfg.DLQMaxFilesPerScan = v
	}
}

// loadPipelineFromEnv loads Pipeline configuration from environment variables
func loadPipelineFromEnv(cfg *PipelineConfig) {
	if v := getEnvInt("PIPELINE_QUEUE_CAPACITY"); v != 0 {
		cfg.QueueCapacity = v
	}
	if v := getEnvDuration("PIPELINE_SHUTDOWN_TIMEOUT"); v != 0 {
		cfg.ShutdownTimeout = v
	}
	if v := getEnvDuration("PIPELINE_STATUS_INTERVAL"); v != 0 {
		cfg.StatusInterval = v
	}
}

// loadHTTPFromEnv loads HTTP interface configuration from environment variables
func loadHTTPFromEnv(cfg *HTTPConfig) {
	if v := getEnvString("HTTP_ENABLED"); v != "" {
		cfg.Enabled = v == "true"
	}
	if v := getEnvString("HTTP_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := getEnvDuration("HTTP_READ_TIMEOUT"); v != 0 {
		cfg.ReadTimeout = v
	}
	if v := getEnvDuration("HTTP_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvString("HTTP_AUTH_MODE"); v != "" {
		cfg.AuthMode = v
	}
	if v := getEnvString("HTTP_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := getEnvString("HTTP_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
}

// Helper functions for reading environment variables

func getEnvString(key string) string {
	return os.Getenv(key)
}

func getEnvInt(key string) int {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return intValue
}

func getEnvDuration(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return duration
}

func getEnvBool(key string) bool {
	value := os.Getenv(key)
	return value == "true"
}
