package config

import "os"

// RelayConfig holds settings for the development relay server.
type RelayConfig struct {
	ListenAddr  string // websocket listen address, default ":8090"
	MetricsAddr string // Prometheus listen address, default ":9190"
}

// DefaultRelayConfig returns the default relay configuration.
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		ListenAddr:  ":8090",
		MetricsAddr: ":9190",
	}
}

// RelayConfigFromEnv loads relay configuration from environment variables.
// Falls back to defaults for any missing values.
func RelayConfigFromEnv() *RelayConfig {
	cfg := DefaultRelayConfig()

	if addr := os.Getenv("NOTIFY_RELAY_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if addr := os.Getenv("NOTIFY_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}
	return cfg
}
