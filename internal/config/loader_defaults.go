package config

import "time"

// defaultMQTTConfig returns the default MQTT broker configuration
func defaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Host:                 "localhost",
		Port:                 1883,
		ClientID:             "counterlog",
		TLSEnabled:           false,
		KeepAlive:            60 * time.Second,
		QoS:                  1,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 0,
		ConnectTimeout:       10 * time.Second,
		SubscribeTimeout:     10 * time.Second,
		DisconnectTimeout:    1000,
	}
}

// defaultTimescaleConfig returns the default TimescaleDB configuration
func defaultTimescaleConfig() TimescaleConfig {
	return TimescaleConfig{
		Host:               "localhost",
		Port:               5432,
		Database:           "counters",
		User:               "counterlog",
		Password:           "",
		SSLEnabled:         false,
		Table:              "counter_data",
		BatchSize:          50,
		BatchTimeout:       5 * time.Second,
		WriteTimeout:       10 * time.Second,
		RetryAttempts:      3,
		RetryBaseDelay:     500 * time.Millisecond,
		RetryMaxDelay:      10 * time.Second,
		DLQEnabled:         true,
		DLQPath:            "dlq",
		DLQReplayInterval:  30 * time.Second,
		DLQMaxFilesPerScan: 10,
		PoolMinConns:       1,
		PoolMaxConns:       4,
		InitTimeout:        10 * time.Second,
		ShutdownTimeout:    10 * time.Second,
	}
}

// defaultPipelineConfig returns the default pipeline configuration
func defaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		QueueCapacity:   10000,
		ShutdownTimeout: 30 * time.Second,
		StatusInterval:  30 * time.Second,
	}
}

// defaultHTTPConfig returns the default HTTP interface configuration
func defaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Enabled:      true,
		Address:      ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		AuthMode:     AuthModeNone,
	}
}

// defaultConfig returns a complete configuration with all default values
func defaultConfig() *Config {
	return &Config{
		MQTT:        defaultMQTTConfig(),
		Timescale:   defaultTimescaleConfig(),
		Pipeline:    defaultPipelineConfig(),
		HTTP:        defaultHTTPConfig(),
		DevicesFile: "devices.yaml",
	}
}
