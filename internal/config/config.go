package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	TypingTimeout  time.Duration `env:"TYPING_TIMEOUT" envDefault:"2s"`
	SendBuffer     int           `env:"SEND_BUFFER" envDefault:"256"`
	ReadLimitBytes int64         `env:"READ_LIMIT_BYTES" envDefault:"8192"`
	RateBurst      int           `env:"RATE_BURST" envDefault:"10"`
	RateInterval   time.Duration `env:"RATE_INTERVAL" envDefault:"200ms"`

	RoomIdleTTL       time.Duration `env:"ROOM_IDLE_TTL" envDefault:"5m"`
	RoomSweepSchedule string        `env:"ROOM_SWEEP_SCHEDULE" envDefault:"@every 1m"`

	ArchiveDatabaseURL string `env:"ARCHIVE_DATABASE_URL"`
	ArchiveBuffer      int    `env:"ARCHIVE_BUFFER" envDefault:"1024"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load reads an optional .env file and then parses the process environment.
func Load(logger *slog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on system environment variables")
	} else {
		logger.Info("loaded .env file")
	}

	cfg, err := Parse()
	if err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Env),
		slog.String("addr", cfg.Addr()),
		slog.Duration("typing_timeout", cfg.TypingTimeout),
		slog.Duration("room_idle_ttl", cfg.RoomIdleTTL),
	)
	if cfg.ArchiveEnabled() {
		logger.Info("message archive enabled", slog.String("database", maskDBSource(cfg.ArchiveDatabaseURL)))
	}
	return cfg, nil
}

// Parse builds a Config from the environment without touching .env files.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.TypingTimeout <= 0:
		return fmt.Errorf("TYPING_TIMEOUT must be positive, got %s", c.TypingTimeout)
	case c.SendBuffer <= 0:
		return fmt.Errorf("SEND_BUFFER must be positive, got %d", c.SendBuffer)
	case c.ReadLimitBytes <= 0:
		return fmt.Errorf("READ_LIMIT_BYTES must be positive, got %d", c.ReadLimitBytes)
	case c.RateBurst <= 0 || c.RateInterval <= 0:
		return fmt.Errorf("RATE_BURST and RATE_INTERVAL must be positive")
	case c.RoomIdleTTL <= 0:
		return fmt.Errorf("ROOM_IDLE_TTL must be positive, got %s", c.RoomIdleTTL)
	case strings.TrimSpace(c.RoomSweepSchedule) == "":
		return fmt.Errorf("ROOM_SWEEP_SCHEDULE is empty")
	}
	return nil
}

func (c *Config) Addr() string {
	return ":" + c.Port
}

func (c *Config) ArchiveEnabled() bool {
	return strings.TrimSpace(c.ArchiveDatabaseURL) != ""
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func maskDBSource(dsn string) string {
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[len(parts)-1]
}
