package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string

	HTTPAddr     string
	GRPCAddr     string
	CORSOrigins  []string
	CookieSecure bool
	UploadsDir   string

	MySQLDSN    string
	AutoMigrate bool
	TxTimeout   time.Duration

	RedisAddr     string
	RedisPassword string
	RateCacheTTL  time.Duration

	DisplayCurrency string

	OutboxWorkers  int
	OutboxInterval time.Duration
	OutboxBatch    int
	OutboxTimeout  time.Duration

	NotifyWebhookURL string
	KafkaBrokers     []string
	KafkaTopic       string
}

func (c Config) Production() bool {
	return c.Environment == "production"
}

// Load reads the environment, after merging a .env file when one exists.
func Load(files ...string) Config {
	_ = godotenv.Load(files...)

	return Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:     getEnv("GRPC_ADDR", ":50051"),
		CORSOrigins:  getList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		CookieSecure: getBool("COOKIE_SECURE", false),
		UploadsDir:   getEnv("UPLOADS_DIR", "uploads"),

		MySQLDSN:    getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/settlement?parseTime=true&multiStatements=true"),
		AutoMigrate: getBool("AUTO_MIGRATE", false),
		TxTimeout:   getDuration("TX_TIMEOUT", 10*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RateCacheTTL:  getDuration("RATE_CACHE_TTL", 15*time.Minute),

		DisplayCurrency: strings.ToUpper(getEnv("DISPLAY_CURRENCY", "GHS")),

		OutboxWorkers:  getInt("OUTBOX_WORKERS", 10),
		OutboxInterval: getDuration("OUTBOX_INTERVAL", time.Second),
		OutboxBatch:    getInt("OUTBOX_BATCH", 100),
		OutboxTimeout:  getDuration("OUTBOX_HANDLER_TIMEOUT", 10*time.Second),

		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		KafkaBrokers:     getList("KAFKA_BROKERS", nil),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "settlement.notifications"),
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getList(key string, def []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
