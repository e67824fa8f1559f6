package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds gateway configuration sourced from environment variables.
type Config struct {
	ListenAddr string

	LogLevel  string
	LogFormat string

	// Tenant registry: postgres when TenantsDSN is set, otherwise the
	// yaml file at TenantsConfigPath.
	TenantsDSN        string
	TenantsConfigPath string
	FilterCacheTTL    time.Duration

	ClickHouseDSN string

	// Optional shared rate-limit backend; empty means process-local.
	RedisAddr     string
	RedisPassword string

	// Optional admission audit stream.
	KafkaBrokers    []string
	KafkaAuditTopic string

	CORSAllowOrigins []string

	MaxBatch       int
	HTTPRateMax    int64
	HTTPRateWindow time.Duration
	WSRateMax      int64
	WSRateWindow   time.Duration
}

// Load parses process environment variables into a Config struct, applying
// defaults when unset.
func Load() Config {
	return Config{
		ListenAddr:        getenv("GATEWAY_ADDR", ":8080"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogFormat:         getenv("LOG_FORMAT", "json"),
		TenantsDSN:        os.Getenv("TENANTS_PG_DSN"),
		TenantsConfigPath: getenv("TENANTS_CONFIG_PATH", "config/tenants.dev.yml"),
		FilterCacheTTL:    durationDefault("FILTER_CACHE_TTL_MS", 60000),
		ClickHouseDSN:     getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000?database=default&dial_timeout=5s&compress=true"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:      splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaAuditTopic:   getenv("KAFKA_AUDIT_TOPIC", "ingest.outcomes"),
		CORSAllowOrigins:  splitAndTrim(getenv("CORS_ALLOW_ORIGINS", "*")),
		MaxBatch:          atoiDefault("MAX_BATCH_SIZE", 100),
		HTTPRateMax:       int64(atoiDefault("HTTP_RATE_MAX", 1000)),
		HTTPRateWindow:    durationDefault("HTTP_RATE_WINDOW_MS", 60000),
		WSRateMax:         int64(atoiDefault("WS_RATE_MAX", 1000)),
		WSRateWindow:      durationDefault("WS_RATE_WINDOW_MS", 60000),
	}
}

func getenv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return def
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func atoiDefault(key string, def int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func durationDefault(key string, defMS int) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return time.Duration(defMS) * time.Millisecond
}
