package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EnvFiles are loaded by LoadEnv in order; later files win.
var EnvFiles = []string{".env", ".env.local"}

// LoadEnv loads the local env files that exist. Values in the files
// override the process environment so a checkout behaves the same on every
// machine.
func LoadEnv(logger *logrus.Logger) {
	var loaded []string
	for _, file := range EnvFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).WithField("file", file).Warn("Failed to load env file")
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger != nil && len(loaded) > 0 {
		logger.WithField("files", loaded).Debug("Loaded env files")
	}
}

// GetEnv returns the trimmed value of key, or defaultValue when it is unset
// or blank.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default value
func GetEnvInt(key string, defaultValue int) int {
	if parsed, err := strconv.Atoi(GetEnv(key, "")); err == nil {
		return parsed
	}
	return defaultValue
}

func GetEnvFloat(key string, defaultValue float64) float64 {
	if parsed, err := strconv.ParseFloat(GetEnv(key, ""), 64); err == nil {
		return parsed
	}
	return defaultValue
}

// GetEnvBool accepts the strconv.ParseBool spellings.
func GetEnvBool(key string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(GetEnv(key, "")); err == nil {
		return parsed
	}
	return defaultValue
}

// GetEnvSeconds reads a positive integer number of seconds as a duration.
func GetEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if parsed, err := strconv.Atoi(GetEnv(key, "")); err == nil && parsed > 0 {
		return time.Duration(parsed) * time.Second
	}
	return defaultValue
}

// GetEnvList splits a comma separated variable, dropping empty items.
func GetEnvList(key string, defaultValue []string) []string {
	raw := GetEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// GetLogLevel reads LOG_LEVEL; unknown values mean info.
func GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
