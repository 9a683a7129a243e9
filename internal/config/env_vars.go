package config

import (
	"strings"
	"time"
)

// EnvVars holds the values read from the environment.
type EnvVars struct {
	AppName        string        `env:"APP_NAME" envDefault:"Autopost"`
	Env            string        `env:"ENV" envDefault:"DEV"`
	APIBaseURL     string        `env:"AUTOPOST_API_URL" envDefault:"http://localhost:8000/api"`
	RequestTimeout time.Duration `env:"AUTOPOST_TIMEOUT" envDefault:"10s"`
	DataFolder     string        `env:"AUTOPOST_DATA_FOLDER" envDefault:"./data"`
	RedirectDelay  time.Duration `env:"AUTOPOST_REDIRECT_DELAY" envDefault:"3s"`
	LogLevel       string        `env:"AUTOPOST_LOG_LEVEL" envDefault:"info"`
}

var _ EnvConfig = EnvVars{}
var _ APIConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return e.Env
}

func (e EnvVars) GetDataFolder() string {
	return e.DataFolder
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetAPIBaseURL returns the REST service root without a trailing slash
// (e.g., "http://localhost:8000/api").
func (e EnvVars) GetAPIBaseURL() string {
	return strings.TrimRight(e.APIBaseURL, "/")
}

func (e EnvVars) GetRequestTimeout() time.Duration {
	if e.RequestTimeout <= 0 {
		return 10 * time.Second
	}
	return e.RequestTimeout
}

func (e EnvVars) GetRedirectDelay() time.Duration {
	if e.RedirectDelay < 0 {
		return 0
	}
	return e.RedirectDelay
}
