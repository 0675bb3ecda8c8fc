/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the billing-sync-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	BillingEventExchange string `mapstructure:"BILLING_EVENT_EXCHANGE"`
	AsaasAPIBaseURL      string `mapstructure:"ASAAS_API_BASE_URL"`
	AsaasAPIKey          string `mapstructure:"ASAAS_API_KEY"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`

	GatewayMaxConcurrentCalls int `mapstructure:"GATEWAY_MAX_CONCURRENT_CALLS"`
	GatewayMaxAttempts        int `mapstructure:"GATEWAY_MAX_ATTEMPTS"`
	GatewayInitialBackoffMs   int `mapstructure:"GATEWAY_INITIAL_BACKOFF_MS"`
	GatewayPermitWaitMs       int `mapstructure:"GATEWAY_PERMIT_WAIT_MS"`
	GatewayCooldownSeconds    int `mapstructure:"GATEWAY_COOLDOWN_SECONDS"`
	PaymentCacheTTLMinutes    int `mapstructure:"PAYMENT_CACHE_TTL_MINUTES"`

	ContractSyncRateLimitPerMinute int    `mapstructure:"CONTRACT_SYNC_RATE_LIMIT_PER_MINUTE"`
	SyncSweepSchedule              string `mapstructure:"SYNC_SWEEP_SCHEDULE"`
	SyncSweepContractLimit         int    `mapstructure:"SYNC_SWEEP_CONTRACT_LIMIT"`
	CachePurgeSchedule             string `mapstructure:"CACHE_PURGE_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "billing_sync:rate_limit")
	viper.SetDefault("BILLING_EVENT_EXCHANGE", "billing.events")
	viper.SetDefault("ASAAS_API_BASE_URL", "https://api.asaas.com")
	viper.SetDefault("GATEWAY_MAX_CONCURRENT_CALLS", 3)
	viper.SetDefault("GATEWAY_MAX_ATTEMPTS", 3)
	viper.SetDefault("GATEWAY_INITIAL_BACKOFF_MS", 500)
	viper.SetDefault("GATEWAY_PERMIT_WAIT_MS", 500)
	viper.SetDefault("GATEWAY_COOLDOWN_SECONDS", 60)
	viper.SetDefault("PAYMENT_CACHE_TTL_MINUTES", 5)
	viper.SetDefault("CONTRACT_SYNC_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("SYNC_SWEEP_SCHEDULE", "0 3 * * *")
	viper.SetDefault("SYNC_SWEEP_CONTRACT_LIMIT", 200)
	viper.SetDefault("CACHE_PURGE_SCHEDULE", "*/10 * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("BILLING_EVENT_EXCHANGE")
	_ = viper.BindEnv("ASAAS_API_BASE_URL")
	_ = viper.BindEnv("ASAAS_API_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "BILLING_SYNC_INTERNAL_API_KEY")
	_ = viper.BindEnv("GATEWAY_MAX_CONCURRENT_CALLS")
	_ = viper.BindEnv("GATEWAY_MAX_ATTEMPTS")
	_ = viper.BindEnv("GATEWAY_INITIAL_BACKOFF_MS")
	_ = viper.BindEnv("GATEWAY_PERMIT_WAIT_MS")
	_ = viper.BindEnv("GATEWAY_COOLDOWN_SECONDS")
	_ = viper.BindEnv("PAYMENT_CACHE_TTL_MINUTES")
	_ = viper.BindEnv("CONTRACT_SYNC_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SYNC_SWEEP_SCHEDULE")
	_ = viper.BindEnv("SYNC_SWEEP_CONTRACT_LIMIT")
	_ = viper.BindEnv("CACHE_PURGE_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	if config.InternalAPIKey == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("BILLING_SYNC_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "billing_sync:rate_limit"
	}

	return
}

// GatewayInitialBackoff returns the configured backoff as a duration.
func (c Config) GatewayInitialBackoff() time.Duration {
	return time.Duration(c.GatewayInitialBackoffMs) * time.Millisecond
}

// GatewayPermitWait returns the configured permit wait as a duration.
func (c Config) GatewayPermitWait() time.Duration {
	return time.Duration(c.GatewayPermitWaitMs) * time.Millisecond
}

// GatewayCooldown returns the configured cooldown window as a duration.
func (c Config) GatewayCooldown() time.Duration {
	return time.Duration(c.GatewayCooldownSeconds) * time.Second
}

// PaymentCacheTTL returns the configured cache TTL as a duration.
func (c Config) PaymentCacheTTL() time.Duration {
	return time.Duration(c.PaymentCacheTTLMinutes) * time.Minute
}
