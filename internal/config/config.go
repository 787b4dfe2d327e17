// Package config loads settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds service settings.
type Config struct {
	DBPath      string `envconfig:"DB_PATH" default:"narocila.sqlite3"`
	Addr        string `envconfig:"ADDR" default:":8080"`
	AdminUser   string `envconfig:"ADMIN_USER" default:"Admin"`
	LogPath     string `envconfig:"LOG_PATH"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"narocila"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"narocila.notifications"`
	KafkaBuffer  int      `envconfig:"KAFKA_BUFFER" default:"256"`
	RedisAddr    string   `envconfig:"REDIS_ADDR"`
	RedisBuffer  int      `envconfig:"REDIS_BUFFER" default:"256"`

	// CapacityOnAccept is "advisory" or "enforce".
	CapacityOnAccept string        `envconfig:"CAPACITY_ON_ACCEPT" default:"advisory"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
}

// Load reads envFiles (default ".env") into the environment without
// overriding variables that are already set, then parses the environment.
// Missing env files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
