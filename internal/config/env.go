package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	SslCertPath  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	// AmqpURL selects the broker-backed queue; empty means the in-process
	// queue, which is enough for a single-node deployment.
	AmqpURL   string
	QueueName string

	// IndexPath is the on-disk bleve index location; empty means in-memory.
	IndexPath string

	WorkerCount    int
	MaxAttempts    int
	ExtractTimeout time.Duration
	RetryBackoff   time.Duration
	PollTimeout    time.Duration

	LogLevel  string
	LogFormat string
	Port      string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "indexa-docs"),

		AmqpURL:   getEnv("AMQP_URL", ""),
		QueueName: getEnv("QUEUE_NAME", "indexa.ingest"),

		IndexPath: getEnv("INDEX_PATH", ""),

		WorkerCount:    getEnvInt("WORKER_COUNT", 4),
		MaxAttempts:    getEnvInt("MAX_ATTEMPTS", 3),
		ExtractTimeout: getEnvDuration("EXTRACT_TIMEOUT", 2*time.Minute),
		RetryBackoff:   getEnvDuration("RETRY_BACKOFF", 5*time.Second),
		PollTimeout:    getEnvDuration("POLL_TIMEOUT", 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		Port:      getEnv("PORT", "8080"),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
