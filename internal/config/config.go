package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	RelayURL string `env:"RELAY_URL,required"`
	SelfID   string `env:"SELF_ID" envDefault:"ADMIN"`
	SelfName string `env:"SELF_NAME" envDefault:"Support"`

	// Message store: HTTP gateway, or direct Postgres when DATABASE_URL
	// is set.
	GatewayURL     string        `env:"GATEWAY_URL"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`

	ReconnectWait time.Duration `env:"RELAY_RECONNECT_WAIT" envDefault:"3s"`

	// Attachment storage for the Postgres gateway.
	AttachmentDir string `env:"ATTACHMENT_DIR" envDefault:"storage/attachments"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.GatewayURL == "" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("either GATEWAY_URL or DATABASE_URL must be set")
	}
	return cfg, nil
}
