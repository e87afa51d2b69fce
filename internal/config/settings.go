package config

import (
	"os"
	"strconv"
)

// Settings holds process configuration read from environment variables.
type Settings struct {
	// telegram
	TGApiID         int
	TGApiHash       string
	TGSessionString string
	TGSessionFile   string

	// logging
	LogLevel string
	LogFile  string
}

// LoadSettings reads settings from environment variables with defaults.
func LoadSettings() *Settings {
	return &Settings{
		TGApiID:         getEnvInt("TG_API_ID", 0),
		TGApiHash:       getEnv("TG_API_HASH", ""),
		TGSessionString: getEnv("TG_SESSION_STRING", ""),
		TGSessionFile:   getEnv("TG_SESSION_FILE", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
