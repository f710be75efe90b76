// Package config loads engine configuration from environment variables, with
// an optional .env file for local development.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the payment engine.
type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	ServerPort  string `mapstructure:"SERVER_PORT"`

	ProcessorBaseURL string `mapstructure:"PROCESSOR_BASE_URL"`
	ProcessorAPIKey  string `mapstructure:"PROCESSOR_API_KEY"`

	AMQPURL                string `mapstructure:"AMQP_URL"`
	SignalExchange         string `mapstructure:"SIGNAL_EXCHANGE"`
	ProcessorEventExchange string `mapstructure:"PROCESSOR_EVENT_EXCHANGE"`
	ProcessorEventQueue    string `mapstructure:"PROCESSOR_EVENT_QUEUE"`
	CommandExchange        string `mapstructure:"COMMAND_EXCHANGE"`
	CommandQueue           string `mapstructure:"COMMAND_QUEUE"`

	MonitorIntervalSeconds int `mapstructure:"MONITOR_INTERVAL_SECONDS"`
	MonitorMaxRetries      int `mapstructure:"MONITOR_MAX_RETRIES"`

	StoreRetries              int `mapstructure:"STORE_RETRIES"`
	ReconnectDelaySeconds     int `mapstructure:"RECONNECT_DELAY_SECONDS"`
	ReconnectMaxAttempts      int `mapstructure:"RECONNECT_MAX_ATTEMPTS"`
	HealthCheckIntervalSecond int `mapstructure:"HEALTH_CHECK_INTERVAL_SECONDS"`
}

// MonitorInterval returns the poll interval as a duration.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}

// ReconnectDelay returns the fixed reconnect delay as a duration.
func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// HealthCheckInterval returns the store health-check cadence as a duration.
func (c Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSecond) * time.Second
}

// Load reads configuration from the environment. path points at the directory
// holding an optional .env file.
func Load(path string) (Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SIGNAL_EXCHANGE", "payment_engine.signals")
	viper.SetDefault("PROCESSOR_EVENT_EXCHANGE", "processor.events")
	viper.SetDefault("PROCESSOR_EVENT_QUEUE", "payment_engine.processor_events")
	viper.SetDefault("COMMAND_EXCHANGE", "payment_engine.commands")
	viper.SetDefault("COMMAND_QUEUE", "payment_engine.dispute_commands")
	viper.SetDefault("MONITOR_INTERVAL_SECONDS", 30)
	viper.SetDefault("MONITOR_MAX_RETRIES", 10)
	viper.SetDefault("STORE_RETRIES", 3)
	viper.SetDefault("RECONNECT_DELAY_SECONDS", 5)
	viper.SetDefault("RECONNECT_MAX_ATTEMPTS", 12)
	viper.SetDefault("HEALTH_CHECK_INTERVAL_SECONDS", 15)

	for _, key := range []string{
		"DATABASE_URL", "SERVER_PORT", "PROCESSOR_BASE_URL", "PROCESSOR_API_KEY",
		"AMQP_URL", "SIGNAL_EXCHANGE", "PROCESSOR_EVENT_EXCHANGE", "PROCESSOR_EVENT_QUEUE",
		"COMMAND_EXCHANGE", "COMMAND_QUEUE", "MONITOR_INTERVAL_SECONDS", "MONITOR_MAX_RETRIES",
		"STORE_RETRIES", "RECONNECT_DELAY_SECONDS", "RECONNECT_MAX_ATTEMPTS",
		"HEALTH_CHECK_INTERVAL_SECONDS",
	} {
		_ = viper.BindEnv(key)
	}

	// The .env file is optional; a missing file is not an error.
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
