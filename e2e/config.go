package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RELAY_ADDR targets a running relay; when empty the suite starts one in-process
	RelayAddr string `envconfig:"RELAY_ADDR"`
	// E2E_CHUNK_SIZE is the relay chunk size used for the in-process relay
	ChunkSize int `envconfig:"E2E_CHUNK_SIZE" default:"1024"`
	// E2E_LOG_LEVEL sets the in-process relay log level
	LogLevel string `envconfig:"E2E_LOG_LEVEL" default:"ERROR"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
