package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	// Backend service base URLs. The gateway owns no data; every catalog,
	// schedule and appointment read/write goes to these services.
	CatalogBaseURL     string
	ScheduleBaseURL    string
	AppointmentBaseURL string

	// Bank transfer details rendered into the payment QR payload.
	BankAccountNumber string
	BankCode          string

	// Token for the external payment-verification service. Read at startup,
	// never exposed to callers.
	PaymentVerifyToken string

	// DefaultPriceCents applies when no price row exists for a service.
	DefaultPriceCents int64
	Currency          string

	HeartbeatInterval  time.Duration
	BookingHorizonDays int

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	CORSAllowedOrigins []string

	HTTPClientTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", ""),
		CatalogBaseURL:     getEnv("CATALOG_BASE_URL", "http://localhost:8081"),
		ScheduleBaseURL:    getEnv("SCHEDULE_BASE_URL", "http://localhost:8082"),
		AppointmentBaseURL: getEnv("APPOINTMENT_BASE_URL", "http://localhost:8083"),
		BankAccountNumber:  getEnv("BANK_ACCOUNT_NUMBER", ""),
		BankCode:           getEnv("BANK_CODE", ""),
		PaymentVerifyToken: getEnv("PAYMENT_VERIFY_TOKEN", ""),
		DefaultPriceCents:  getEnvAsInt64("DEFAULT_PRICE_CENTS", 15000000),
		Currency:           getEnv("CURRENCY", "VND"),
		HeartbeatInterval:  getEnvAsDuration("PAYMENT_HEARTBEAT_INTERVAL", time.Second),
		BookingHorizonDays: getEnvAsInt("BOOKING_HORIZON_DAYS", 30),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
		HTTPClientTimeout:  getEnvAsDuration("HTTP_CLIENT_TIMEOUT", 15*time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
