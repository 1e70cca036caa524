package config

import (
	"os"
	"strconv"
	"time"
)

type EngineConfig struct {
	AdminAccount      string
	TreasuryAccount   string
	EscrowAccount     string
	FeeBasisPoints    int64
	MinRentalDuration int64 // seconds
	MaxRentalDuration int64
	ProrationEnabled  bool
	IdempotencyTTL    time.Duration
	QRCodeTTL         time.Duration
}

func LoadEngineConfig() *EngineConfig {
	return &EngineConfig{
		AdminAccount:      getEnv("ENGINE_ADMIN_ACCOUNT", "admin"),
		TreasuryAccount:   getEnv("ENGINE_TREASURY_ACCOUNT", "treasury"),
		EscrowAccount:     getEnv("ENGINE_ESCROW_ACCOUNT", "engine:escrow"),
		FeeBasisPoints:    getEnvAsInt64("ENGINE_FEE_BASIS_POINTS", 250),
		MinRentalDuration: getEnvAsInt64("ENGINE_MIN_RENTAL_SECONDS", 60),
		MaxRentalDuration: getEnvAsInt64("ENGINE_MAX_RENTAL_SECONDS", 2592000),
		ProrationEnabled:  getEnvAsBool("ENGINE_PRORATION_ENABLED", false),
		IdempotencyTTL:    getEnvAsDuration("ENGINE_IDEMPOTENCY_TTL", 24*time.Hour),
		QRCodeTTL:         getEnvAsDuration("ENGINE_QR_TTL", 5*time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
