package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	appNameVar     = "APP_NAME"
	baseURLVar     = "BASE_URL"
	tokenPathVar   = "TOKEN_PATH"
	refreshPathVar = "REFRESH_PATH"
	logoutPathVar  = "LOGOUT_PATH"
	scopeParamVar  = "SCOPE_PARAM"
	httpTimeoutVar = "HTTP_TIMEOUT"
	clientIDVar    = "CLIENT_ID"
)

type EnvVars struct{}

var _ Config = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Session Client")
}

// GetBaseURL returns the base URL of the backing back-office API.
func (EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8080")
}

func (EnvVars) GetTokenPath() string {
	return GetEnv(tokenPathVar, "/auth/token")
}

func (EnvVars) GetRefreshPath() string {
	return GetEnv(refreshPathVar, "/auth/refresh")
}

func (EnvVars) GetLogoutPath() string {
	return GetEnv(logoutPathVar, "/auth/logout")
}

// GetScopeParam returns the query parameter name used for tenant scoping.
func (EnvVars) GetScopeParam() string {
	return GetEnv(scopeParamVar, "brandId")
}

func (EnvVars) GetHTTPTimeout() time.Duration {
	timeout, err := time.ParseDuration(GetEnv(httpTimeoutVar, "30s"))
	if err != nil {
		return 30 * time.Second
	}
	return timeout
}

func (EnvVars) GetClientID() string {
	return GetEnv(clientIDVar, "back-office")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func (EnvVars) GetCredentialsFile() string {
	if file := os.Getenv("CREDENTIALS_FILE"); file != "" {
		return file
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "credentials.bin"
	}
	return filepath.Join(home, ".sessctl", "credentials.bin")
}

func (EnvVars) GetCredentialsPassphrase() string {
	return GetEnv("CREDENTIALS_PASSPHRASE", "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
