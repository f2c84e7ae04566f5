// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port int `env:"PORT,default=8080" validate:"min=1,max=65535"`

	StoreDriver   string `env:"STORE_DRIVER,default=postgres" validate:"oneof=postgres badger"`
	DBURL         string `env:"DB_URL" validate:"required_if=StoreDriver postgres"`
	BadgerPath    string `env:"BADGER_PATH,default=data/badger" validate:"required_if=StoreDriver badger"`
	RunMigrations bool   `env:"RUN_MIGRATIONS,default=true"`

	// NATS is optional. Without it frames are only routed to connections
	// held by this instance.
	NatsURL      string `env:"NATS_URL"`
	NatsCred     string `env:"NATS_CRED"`
	NatsUser     string `env:"NATS_USER"`
	NatsPassword string `env:"NATS_PASSWORD"`

	JWTSecret     string `env:"JWT_SECRET,required=true" validate:"required"`
	JWTIssuer     string `env:"JWT_ISS"`
	NotifyKeyHash string `env:"NOTIFY_KEY_HASH"`

	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT,default=5s" validate:"gt=0"`
	PersistTimeout   time.Duration `env:"PERSIST_TIMEOUT,default=10s" validate:"gte=0"`
	MaxContentLength int           `env:"MAX_CONTENT_LENGTH,default=4000" validate:"gt=0"`
	MaxFrameBytes    int64         `env:"MAX_FRAME_BYTES,default=65536" validate:"gte=1024"`

	// SendRate is send_message frames per minute per connection.
	SendRate  int `env:"SEND_RATE,default=30" validate:"gt=0"`
	SendBurst int `env:"SEND_BURST,default=10" validate:"gt=0"`

	PresenceGrace        time.Duration `env:"PRESENCE_GRACE,default=2s" validate:"gte=0"`
	ReceiptBatchSize     int           `env:"RECEIPT_BATCH_SIZE,default=100" validate:"gt=0"`
	ReceiptFlushInterval time.Duration `env:"RECEIPT_FLUSH_INTERVAL,default=250ms" validate:"gt=0"`

	// OriginPatterns is a comma separated list of hosts allowed to open a
	// websocket from a browser. Empty accepts any origin.
	OriginPatterns string `env:"ORIGIN_PATTERNS"`

	IPRateRequests int           `env:"IP_RATE_REQUESTS,default=20" validate:"gt=0"`
	IPRateWindow   time.Duration `env:"IP_RATE_WINDOW,default=1m" validate:"gt=0"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT,default=text" validate:"oneof=text json"`
	LogFile   string `env:"LOG_FILE"`
}

// Load reads .env if present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	return FromEnviron()
}

func FromEnviron() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("internal/config: failed to read environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("internal/config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c Config) Addr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Port)
}

func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
