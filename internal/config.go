package internal

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Host            string        `env:"HOST,default=0.0.0.0" validate:"required"`
	Port            int           `env:"PORT,default=5000" validate:"gte=0,lte=65535"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
	BadgerFilepath  string        `env:"BADGER_FILEPATH"`
	DebugPort       int           `env:"DEBUG_PORT,default=8081" validate:"gte=0,lte=65535"`
	ChunkSize       int           `env:"CHUNK_SIZE,default=32768" validate:"gte=1024,lte=1048576"`
	MaxFrameSize    int           `env:"MAX_FRAME_SIZE,default=65536" validate:"gte=256"`
	MaxFileSize     int64         `env:"MAX_FILE_SIZE,default=1073741824" validate:"gte=0"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT,default=10s" validate:"gt=0"`
	TransferTimeout time.Duration `env:"TRANSFER_TIMEOUT,default=30s" validate:"gt=0"`
	MailboxCapacity int           `env:"MAILBOX_CAPACITY,default=100" validate:"gte=0"`
	StatsInterval   time.Duration `env:"STATS_INTERVAL,default=1m" validate:"gt=0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s" validate:"gt=0"`
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// InMemory reports whether groups live only for the process lifetime.
func (c Config) InMemory() bool {
	return c.BadgerFilepath == ""
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}
