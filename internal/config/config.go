package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	Port        string
	Env         string
	AuthKey     string
	Host        string

	TokenTTL    time.Duration
	JoinTimeout time.Duration

	SendBuffer       int
	MaxMessageLength int
	RateBurst        int32
	RateRefill       time.Duration

	StatsSchedule string

	SMTP SMTPConfig
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func Load() (*Config, error) {
	log.Println("[CONFIG] Attempting to load .env file...")

	err := godotenv.Load()
	if err != nil {
		log.Println("[CONFIG] ℹ️ No .env file found, relying on system environment variables")
	} else {
		log.Println("[CONFIG] ✅ Successfully loaded .env file")
	}

	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("APP_ENV", "development"),
		AuthKey:     getEnv("AUTH_KEY", ""),
		Host:        getEnv("HOST", "localhost"),

		StatsSchedule: getEnv("STATS_SCHEDULE", "@every 1m"),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@roomchat.local"),
		},
	}

	var err error
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.JoinTimeout, err = getDuration("JOIN_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateRefill, err = getDuration("RATE_REFILL", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = getInt("SEND_BUFFER", 256); err != nil {
		return nil, err
	}
	if cfg.MaxMessageLength, err = getInt("MAX_MESSAGE_LENGTH", 4000); err != nil {
		return nil, err
	}
	burst, err := getInt("RATE_BURST", 5)
	if err != nil {
		return nil, err
	}
	cfg.RateBurst = int32(burst)

	log.Printf("[CONFIG] Environment: %s", cfg.Env)
	log.Printf("[CONFIG] Target Port: %s", cfg.Port)

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is missing, server cannot start")
	}
	log.Printf("[CONFIG] Database URL detected: %s", maskDBSource(cfg.DatabaseURL))

	if cfg.AuthKey == "" {
		return nil, errors.New("AUTH_KEY (JWT secret) is missing, security cannot be initialized")
	}
	log.Println("[CONFIG] ✅ AUTH_KEY loaded successfully")

	if cfg.SendBuffer <= 0 {
		return nil, fmt.Errorf("SEND_BUFFER must be positive, got %d", cfg.SendBuffer)
	}

	log.Println("[CONFIG] All configuration variables successfully initialized")
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Printf("[CONFIG] ⚠️  Variable %s not found, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, defaultValue.String())
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, strconv.Itoa(defaultValue))
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return n, nil
}

func maskDBSource(dsn string) string {
	if strings.HasPrefix(dsn, "sqlite://") || strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[1]
}
