package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config interface {
	EnvConfig
	APIConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetDataFolder() string
	GetLogLevel() string
	GetEnv() string
}

type APIConfig interface {
	GetAPIBaseURL() string
	GetRequestTimeout() time.Duration
}

type mainConfig struct {
	EnvVars
	Session
}

// New reads the configuration from the environment. Unparseable values fall back to the
// defaults so that a bad variable never prevents the client from starting.
func New() Config {
	vars, err := ParseEnvVars()
	if err != nil {
		log.Warn().Err(err).Msg("invalid environment configuration, using defaults")
		vars = DefaultEnvVars()
	}
	return mainConfig{EnvVars: vars}
}

// ParseEnvVars loads EnvVars from the process environment.
func ParseEnvVars() (EnvVars, error) {
	var vars EnvVars
	if err := env.Parse(&vars); err != nil {
		return EnvVars{}, err
	}
	return vars, nil
}

// DefaultEnvVars returns EnvVars populated with the env tag defaults.
func DefaultEnvVars() EnvVars {
	var vars EnvVars
	_ = env.ParseWithOptions(&vars, env.Options{Environment: map[string]string{}})
	return vars
}

var _ Config = mainConfig{}
