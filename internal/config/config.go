// Package config provides configuration for the paintopia clients and mock backend.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the client and mock server configuration.
type Config struct {
	// Backend endpoints
	BaseURL string
	WSURL   string

	// Mock server settings
	HTTPPort    int
	DatabaseURL string

	// WebSocket reconnect settings
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		BaseURL:           getEnv("BASE_URL", "http://localhost:8000"),
		WSURL:             getEnv("WS_URL", "ws://localhost:8000/ws"),
		HTTPPort:          getEnvInt("HTTP_PORT", 8000),
		DatabaseURL:       getEnv("DATABASE_URL", "file:paintopia.db?cache=shared&mode=rwc"),
		ReconnectInitial:  time.Duration(getEnvInt("WS_RECONNECT_INITIAL_MS", 5000)) * time.Millisecond,
		ReconnectMax:      time.Duration(getEnvInt("WS_RECONNECT_MAX_MS", 60000)) * time.Millisecond,
		ReconnectAttempts: getEnvInt("WS_RECONNECT_ATTEMPTS", 5),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

// LoadEnvFile applies KEY=VALUE lines from a .env style file to the process
// environment. Blank lines and lines starting with # are skipped, surrounding
// quotes are stripped. Existing variables are not overwritten.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
