package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port             int      `yaml:"port"`
	LogLevel         string   `yaml:"log_level"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	OutboxBuffer     int      `yaml:"outbox_buffer"`
	SweepIntervalSec int      `yaml:"sweep_interval_sec"`
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// Load reads configuration from a .env file (if present), the
// environment, and finally an optional YAML file named by RELAY_CONFIG
// which overrides both.
func Load() (*Config, error) {
	// Missing .env is fine; env vars may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnvAsInt("PORT", 8080),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "*")),
		OutboxBuffer:     getEnvAsInt("OUTBOX_BUFFER", 16),
		SweepIntervalSec: getEnvAsInt("ROOM_SWEEP_INTERVAL_SEC", 60),
	}

	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
