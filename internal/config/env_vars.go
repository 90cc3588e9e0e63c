package config

import (
	"os"
	"strings"
	"time"
)

const (
	appNameVar     = "APP_NAME"
	apiBaseURLVar  = "API_BASE_URL"
	realtimeURLVar = "REALTIME_URL"
	sessionFileVar = "SESSION_FILE"
	loginWaitVar   = "LOGIN_WAIT_TIMEOUT"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Attendly Auth")
}

// GetAPIBaseURL returns the REST base URL (e.g. "https://api.attendly.app")
func (EnvVars) GetAPIBaseURL() string {
	return GetEnv(apiBaseURLVar, "http://localhost:8080")
}

// GetRealtimeURL returns the bot-login websocket endpoint. When not set
// explicitly it is derived from the API base URL.
func (e EnvVars) GetRealtimeURL() string {
	if v := os.Getenv(realtimeURLVar); v != "" {
		return v
	}
	base := e.GetAPIBaseURL()
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/api/v1/auth/bot/ws"
}

func (EnvVars) GetSessionFile() string {
	return GetEnv(sessionFileVar, ".attendly-session.json")
}

// GetLoginWaitTimeout bounds the bot-login confirmation wait.
func (EnvVars) GetLoginWaitTimeout() time.Duration {
	if v := os.Getenv(loginWaitVar); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return 5 * time.Minute
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
