package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Breaker   BreakerConfig
	Upstream  UpstreamConfig
	Occupancy OccupancyConfig
	// Timezone renders HH:MM in scan messages and check-in windows.
	Timezone string `validate:"required"`
}

type ServerConfig struct {
	Port            string        `validate:"required"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gte=0"`
	IdleTimeout     time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

type DatabaseConfig struct {
	DSN           string `validate:"required"`
	MaxOpenConns  int    `validate:"gte=1"`
	MaxIdleConns  int    `validate:"gte=0"`
	MaxLifetime   time.Duration
	LockTimeout   time.Duration `validate:"gt=0"`
	ConnRetries   int           `validate:"gte=1"`
	AutoMigrate   bool
	MigrationsDir string
}

type RedisConfig struct {
	Enabled   bool
	Addr      string `validate:"required_if=Enabled true"`
	Password  string
	DB        int `validate:"gte=0"`
	MaxMemory string
}

type KafkaConfig struct {
	Enabled           bool
	Brokers           []string `validate:"required_if=Enabled true,dive,required"`
	Topic             string   `validate:"required_if=Enabled true"`
	SyncRequestsTopic string
	GroupID           string
}

type BreakerConfig struct {
	FailureThreshold int           `validate:"gte=1"`
	OpenTimeout      time.Duration `validate:"gt=0"`
}

type UpstreamConfig struct {
	BulkTimeout time.Duration `validate:"gt=0"`
	CallTimeout time.Duration `validate:"gt=0"`
	PerPage     int           `validate:"gte=1,lte=500"`
}

type OccupancyConfig struct {
	IdleTimeout time.Duration `validate:"gt=0"`
}

var validate = validator.New()

// Load reads the configuration from the environment, after merging a .env
// file when one is present, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8084"),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 0), // zero keeps SSE streams open
			IdleTimeout:     getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			DSN:           getEnv("POSTGRES_DSN", ""),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			LockTimeout:   getEnvDuration("DB_LOCK_TIMEOUT", 5*time.Second),
			ConnRetries:   getEnvInt("DB_CONNECT_RETRIES", 5),
			AutoMigrate:   getEnvBool("DB_AUTO_MIGRATE", true),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "./migrations"),
		},
		Redis: RedisConfig{
			Enabled:   getEnvBool("REDIS_ENABLED", true),
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			MaxMemory: getEnv("REDIS_MAX_MEMORY", "256mb"),
		},
		Kafka: KafkaConfig{
			Enabled:           getEnvBool("KAFKA_ENABLED", true),
			Brokers:           getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:             getEnv("KAFKA_TOPIC", "checkin.events"),
			SyncRequestsTopic: getEnv("KAFKA_SYNC_TOPIC", "checkin.sync-requests"),
			GroupID:           getEnv("KAFKA_GROUP_ID", "checkin-service"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 3),
			OpenTimeout:      getEnvDuration("BREAKER_OPEN_TIMEOUT", 10*time.Second),
		},
		Upstream: UpstreamConfig{
			BulkTimeout: getEnvDuration("UPSTREAM_BULK_TIMEOUT", 30*time.Second),
			CallTimeout: getEnvDuration("UPSTREAM_CALL_TIMEOUT", 10*time.Second),
			PerPage:     getEnvInt("UPSTREAM_PER_PAGE", 100),
		},
		Occupancy: OccupancyConfig{
			IdleTimeout: getEnvDuration("OCCUPANCY_IDLE_TIMEOUT", 5*time.Minute),
		},
		Timezone: getEnv("TIMEZONE", "UTC"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Location resolves Timezone, falling back to UTC for unknown zones.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
