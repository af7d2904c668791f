// Package config loads process configuration from the environment via
// viper, following the teacher's appconfig.go shape.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ServerConfig controls the ingress HTTP listener.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// RedisConfig points at the shared ledger/idempotency backing store.
// Endpoint is a bare host:port, per spec §6's REDIS_ENDPOINT — not a
// redis:// URL.
type RedisConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	JaegerURL   string `mapstructure:"jaeger_url"`
}

// ProcessorsConfig carries the two upstream processor base URLs.
type ProcessorsConfig struct {
	DefaultURL  string `mapstructure:"default_url"`
	FallbackURL string `mapstructure:"fallback_url"`
}

// AppConfig is the fully resolved process configuration.
type AppConfig struct {
	Server     *ServerConfig     `mapstructure:"server"`
	Redis      *RedisConfig      `mapstructure:"redis"`
	Telemetry  *TelemetryConfig  `mapstructure:"telemetry"`
	Processors *ProcessorsConfig `mapstructure:"processors"`
}

// Load reads configuration from the environment, applying the same
// defaults the local single-instance deployment needs.
func Load() (*AppConfig, error) {
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 9999)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("redis.endpoint", "redis:6379")
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.service_name", "paygate")
	viper.SetDefault("telemetry.jaeger_url", "http://jaeger:14268/api/traces")
	viper.SetDefault("processors.default_url", "http://payment-processor-default:8080")
	viper.SetDefault("processors.fallback_url", "http://payment-processor-fallback:8080")

	// Each key binds spec §6's documented variable name first, with the
	// teacher's own naming kept as a secondary alias so existing teacher
	// deployments still work. viper.BindEnv checks aliases in the order
	// given and uses the first one that is set.
	envAliases := map[string][]string{
		"server.port":             {"SERVER_PORT"},
		"server.host":             {"SERVER_HOST"},
		"redis.endpoint":          {"REDIS_ENDPOINT", "REDIS_URL"},
		"telemetry.enabled":       {"TELEMETRY_ENABLED"},
		"telemetry.service_name":  {"TELEMETRY_SERVICE_NAME"},
		"telemetry.jaeger_url":    {"JAEGER_URL"},
		"processors.default_url":  {"PAYMENT_PROCESSOR_URL_DEFAULT", "PROCESSOR_DEFAULT_URL"},
		"processors.fallback_url": {"PAYMENT_PROCESSOR_URL_FALLBACK", "PROCESSOR_FALLBACK_URL"},
	}
	for key, envs := range envAliases {
		if err := viper.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	var cfg AppConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}
