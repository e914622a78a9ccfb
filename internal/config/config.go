package config

import "time"

type Config interface {
	EnvConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetBaseURL() string
	GetTokenPath() string
	GetRefreshPath() string
	GetLogoutPath() string
	GetScopeParam() string
	GetHTTPTimeout() time.Duration
	GetClientID() string
	GetEnv() string
}

type StorageConfig interface {
	GetCredentialsFile() string
	GetCredentialsPassphrase() string
}

type mainConfig struct {
	EnvVars
}

func New() Config {
	return mainConfig{}
}
