package config

import "time"

// Config is everything the auth client core reads from the environment.
type Config interface {
	EnvConfig
}

type EnvConfig interface {
	GetAppName() string
	GetAPIBaseURL() string
	GetRealtimeURL() string
	GetSessionFile() string
	GetLoginWaitTimeout() time.Duration
	GetEnv() string
}

type mainConfig struct {
	EnvVars
}

func New() Config {
	return mainConfig{}
}
