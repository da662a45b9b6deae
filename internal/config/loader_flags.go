package config

import (
	"flag"
)

// Command line flags (have precedence over environment variables)
var (
	flagDevicesFile = flag.String("devices", "", "Path to the YAML device tree")

	// MQTT flags
	flagMQTTHost              = flag.String("mqtt-host", "", "MQTT broker host")
	flagMQTTPort              = flag.Int("mqtt-port", 0, "MQTT broker port")
	flagMQTTClientID          = flag.String("mqtt-client-id", "", "MQTT client ID")
	flagMQTTUsername          = flag.String("mqtt-username", "", "MQTT username")
	flagMQTTPassword          = flag.String("mqtt-password", "", "MQTT password")
	flagMQTTQoS               = flag.Int("mqtt-qos", -1, "MQTT default QoS (0, 1, or 2)")
	flagMQTTKeepAlive         = flag.Duration("mqtt-keep-alive", 0, "MQTT keep alive interval")
	flagMQTTReconnectDelay    = flag.Duration("mqtt-reconnect-delay", 0, "MQTT reconnect delay")
	flagMQTTMaxReconnect      = flag.Int("mqtt-max-reconnect-attempts", 0, "MQTT max reconnect attempts (0 = unbounded)")
	flagMQTTConnectTimeout    = flag.Duration("mqtt-connect-timeout", 0, "MQTT connect timeout")
	flagMQTTSubscribeTimeout  = flag.Duration("mqtt-subscribe-timeout", 0, "MQTT subscribe timeout")
	flagMQTTTLSEnabled        = flag.Bool("mqtt-tls-enabled", false, "Enable MQTT TLS")
	flagMQTTCACert            = flag.String("mqtt-ca-cert", "", "MQTT CA certificate path")
	flagMQTTClientCert        = flag.String("mqtt-client-cert", "", "MQTT client certificate path")
	flagMQTTClientKey         = flag.String("mqtt-client-key", "", "MQTT client key path")
	flagMQTTTLSInsecureSkip   = flag.Bool("mqtt-tls-insecure-skip", false, "Skip MQTT TLS verification")

	// Timescale flags
	flagTSHost           = flag.String("timescale-host", "", "TimescaleDB host")
	flagTSPort           = flag.Int("timescale-port", 0, "TimescaleDB port")
	flagTSDatabase       = flag.String("timescale-database", "", "TimescaleDB database name")
	flagTSUser           = flag.String("timescale-user", "", "TimescaleDB user")
	flagTSPassword       = flag.String("timescale-password", "", "TimescaleDB password")
	flagTSTable          = flag.String("timescale-table", "", "Target table name")
	flagTSBatchSize      = flag.Int("timescale-batch-size", 0, "Batch size for inserts")
	flagTSBatchTimeout   = flag.Duration("timescale-batch-timeout", 0, "Max age of an open batch")
	flagTSRetryAttempts  = flag.Int("timescale-retry-attempts", 0, "Storage retry attempts")
	flagTSSSLEnabled     = flag.Bool("timescale-ssl-enabled", false, "Enable TimescaleDB SSL")
	flagDLQEnabled       = flag.Bool("dlq-enabled", true, "Enable the dead-letter queue")
	flagDLQPath          = flag.String("dlq-path", "", "Dead-letter queue directory")
	flagDLQReplay        = flag.Duration("dlq-replay-interval", 0, "DLQ replay scan interval")

	// Pipeline flags
	flagPipelineQueueCapacity   = flag.Int("pipeline-queue-capacity", 0, "Reading queue capacity")
	flagPipelineShutdownTimeout = flag.Duration("pipeline-shutdown-timeout", 0, "Pipeline shutdown timeout")
	flagPipelineStatusInterval  = flag.Duration("pipeline-status-interval", 0, "Status log interval")

	// HTTP flags
	flagHTTPAddress  = flag.String("http-address", "", "HTTP listen address")
	flagHTTPEnabled  = flag.Bool("http-enabled", true, "Enable the HTTP interface")
	flagHTTPAuthMode = flag.String("http-auth-mode", "", "HTTP auth mode: none, apikey or jwt")
)

// applyMQTTFlags applies command line flags to MQTT configuration
func applyMQTTFlags(cfg *MQTTConfig) {
	applyMQTTFlagStrings(cfg)
	applyMQTTFlagNumbers(cfg)
	applyMQTTFlagTLS(cfg)
}

func applyMQTTFlagStrings(cfg *MQTTConfig) {
	if *flagMQTTHost != "" {
		cfg.Host = *flagMQTTHost
	}
	if *flagMQTTClientID != "" {
		cfg.ClientID = *flagMQTTClientID
	}
	if *flagMQTTUsername != "" {
		cfg.Username = *flagMQTTUsername
	}
	if *flagMQTTPassword != "" {
		cfg.Password = *flagMQTTPassword
	}
}

func applyMQTTFlagNumbers(cfg *MQTTConfig) {
	if *flagMQTTPort != 0 {
		cfg.Port = *flagMQTTPort
	}
	if *flagMQTTQoS != -1 && *flagMQTTQoS >= 0 && *flagMQTTQoS <= 2 {
		cfg.QoS = byte(*flagMQTTQoS) // #nosec G115 - validated range 0-2
	}
	if *flagMQTTMaxReconnect != 0 {
		cfg.MaxReconnectAttempts = *flagMQTTMaxReconnect
	}
	if *flagMQTTKeepAlive != 0 {
		cfg.KeepAlive = *flagMQTTKeepAlive
	}
	if *flagMQTTReconnectDelay != 0 {
		cfg.ReconnectDelay = *flagMQTTReconnectDelay
	}
	if *flagMQTTConnectTimeout != 0 {
		cfg.ConnectTimeout = *flagMQTTConnectTimeout
	}
	if *flagMQTTSubscribeTimeout != 0 {
		cfg.SubscribeTimeout = *flagMQTTSubscribeTimeout
	}
}

func applyMQTTFlagTLS(cfg *MQTTConfig) {
	if isFlagSet("mqtt-tls-enabled") {
		cfg.TLSEnabled = *flagMQTTTLSEnabled
	}
	if *flagMQTTCACert != "" {
		cfg.CACert = *flagMQTTCACert
	}
	if *flagMQTTClientCert != "" {
		cfg.ClientCert = *flagMQTTClientCert
	}
	if *flagMQTTClientKey != "" {
		cfg.ClientKey = *flagMQTTClientKey
	}
	if isFlagSet("mqtt-tls-insecure-skip") {
		cfg.InsecureSkip = *flagMQTTTLSInsecureSkip
	}
}

// applyTimescaleFlags applies command line flags to Timescale configuration
func applyTimescaleFlags(cfg *TimescaleConfig) {
	if *flagTSHost != "" {
		cfg.Host = *flagTSHost
	}
	if *flagTSPort != 0 {
		cfg.Port = *flagTSPort
	}
	if *flagTSDatabase != "" {
		cfg.Database = *flagTSDatabase
	}
	if *flagTSUser != "" {
		cfg.User = *flagTSUser
	}
	if *flagTSPassword != "" {
		cfg.Password = *flagTSPassword
	}
	if *flagTSTable != "" {
		cfg.Table = *flagTSTable
	}
	if *flagTSBatchSize != 0 {
		cfg.BatchSize = *flagTSBatchSize
	}
	if *flagTSBatchTimeout != 0 {
		cfg.BatchTimeout = *flagTSBatchTimeout
	}
	if *flagTSRetryAttempts != 0 {
		cfg.RetryAttempts = *flagTSRetryAttempts
	}
	if isFlagSet("timescale-ssl-enabled") {
		cfg.SSLEnabled = *flagTSSSLEnabled
	}
	if isFlagSet("dlq-enabled") {
		cfg.DLQEnabled = *flagDLQEnabled
	}
	if *flagDLQPath != "" {
		cfg.DLQPath = *flagDLQPath
	}
	if *flagDLQReplay != 0 {
		cfg.DLQReplayInterval = *flagDLQReplay
	}
}

// applyPipelineFlags applies command line flags to Pipeline configuration
func applyPipelineFlags(cfg *PipelineConfig) {
	if *flagPipelineQueueCapacity != 0 {
		cfg.QueueCapacity = *flagPipelineQueueCapacity
	}
	if *flagPipelineShutdownTimeout != 0 {
		cfg.ShutdownTimeout = *flagPipelineShutdownTimeout
	}
	if *flagPipelineStatusInterval != 0 {
		cfg.StatusInterval = *flagPipelineStatusInterval
	}
}

// applyHTTPFlags applies command line flags to HTTP configuration
func applyHTTPFlags(cfg *HTTPConfig) {
	if *flagHTTPAddress != "" {
		cfg.Address = *flagHTTPAddress
	}
	if isFlagSet("http-enabled") {
		cfg.Enabled = *flagHTTPEnabled
	}
	if *flagHTTPAuthMode != "" {
		cfg.AuthMode = *flagHTTPAuthMode
	}
}

// isFlagSet checks if a flag was explicitly set on the command line
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
