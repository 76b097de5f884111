package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	FeedPollInterval time.Duration
	FeedBatchSize    int

	NotifyProvider     string
	NotifyWebhookToken string
	NotifyTimeout      time.Duration
	NotifyPollInterval time.Duration
	NotifyBatchSize    int

	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		FeedPollInterval:   readDurationSeconds("FEED_POLL_INTERVAL_SECONDS", 1),
		FeedBatchSize:      readInt("FEED_BATCH_SIZE", 100),
		NotifyProvider:     os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookToken: os.Getenv("NOTIFY_WEBHOOK_TOKEN"),
		NotifyTimeout:      readDurationSeconds("NOTIFY_TIMEOUT_SECONDS", 5),
		NotifyPollInterval: readDurationSeconds("NOTIFY_POLL_INTERVAL_SECONDS", 1),
		NotifyBatchSize:    readInt("NOTIFY_BATCH_SIZE", 50),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
