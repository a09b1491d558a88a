package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	DBDSN             string `mapstructure:"DB_DSN"`
	Environment       string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	HTTPAddr          string `mapstructure:"HTTP_ADDR"`
	MigrationsEnabled bool   `mapstructure:"MIGRATIONS_ENABLED"`
	DefaultTimezone   string `mapstructure:"DEFAULT_TIMEZONE"`

	// Индекс занятости
	IndexLookaheadDays int           `mapstructure:"INDEX_LOOKAHEAD_DAYS"`
	IndexSweepInterval time.Duration `mapstructure:"INDEX_SWEEP_INTERVAL"`

	// Redis: рассылка инвалидаций и лимит запросов
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	RateLimitEnabled bool          `mapstructure:"RATE_LIMIT_ENABLED"`
	RateLimitLimit   int           `mapstructure:"RATE_LIMIT_LIMIT"`
	RateLimitWindow  time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`

	// RabbitMQ: доменные события записей
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	// Telegram: уведомления коучам
	TelegramToken string `mapstructure:"TELEGRAM_TOKEN"`
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	} else {
		log.Println("Loaded configuration from .env file")
	}

	return FromEnv()
}

// FromEnv читает конфигурацию из переменных окружения и проставляет значения по умолчанию
func FromEnv() (*Config, error) {
	var err error
	cfg := &Config{
		DBDSN:           os.Getenv("DB_DSN"),
		Environment:     getEnv("ENV", "development"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "Europe/Madrid"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RabbitMQURL:     os.Getenv("RABBITMQ_URL"),
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
	}

	if cfg.MigrationsEnabled, err = getBool("MIGRATIONS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.IndexLookaheadDays, err = getInt("INDEX_LOOKAHEAD_DAYS", 28); err != nil {
		return nil, err
	}
	if cfg.IndexSweepInterval, err = getDuration("INDEX_SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitEnabled, err = getBool("RATE_LIMIT_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.RateLimitLimit, err = getInt("RATE_LIMIT_LIMIT", 30); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}

	// Проверяем обязательные поля
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}
	if cfg.IndexLookaheadDays < 1 {
		return nil, fmt.Errorf("INDEX_LOOKAHEAD_DAYS must be positive, got %d", cfg.IndexLookaheadDays)
	}
	if cfg.IndexSweepInterval <= 0 {
		return nil, fmt.Errorf("INDEX_SWEEP_INTERVAL must be positive, got %s", cfg.IndexSweepInterval)
	}
	if cfg.LogLevel != "" {
		if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}

	return cfg, nil
}

func (c *Config) GetDBDSN() string {
	return c.DBDSN
}

// IndexLookahead - горизонт индекса занятости
func (c *Config) IndexLookahead() time.Duration {
	return time.Duration(c.IndexLookaheadDays) * 24 * time.Hour
}

// Location - таймзона по умолчанию для коучей без своей
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
