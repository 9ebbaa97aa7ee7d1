// Package config reads imgfetch settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

type Config struct {
	TempDir      string        `env:"IMGFETCH_TMPDIR"`
	MountRoot    string        `env:"IMGFETCH_MOUNT_ROOT,default=/"`
	Decompressor string        `env:"IMGFETCH_DECOMPRESSOR"`
	HTTPTimeout  time.Duration `env:"IMGFETCH_HTTP_TIMEOUT,default=30s"`
	// HTTPInsecure skips certificate checks; boot media servers rarely
	// have verifiable certificates.
	HTTPInsecure bool   `env:"IMGFETCH_HTTP_INSECURE,default=true"`
	MaxRedirects int    `env:"IMGFETCH_MAX_REDIRECTS,default=10"`
	LogLevel     string `env:"IMGFETCH_LOG_LEVEL,default=warn"`

	S3UsePathStyle bool `env:"IMGFETCH_S3_USE_PATH_STYLE"`
	S3MaxRetries   int  `env:"IMGFETCH_S3_MAX_RETRIES"`
}

func Load() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if cfg.MaxRedirects < 0 {
		return Config{}, fmt.Errorf("config error: IMGFETCH_MAX_REDIRECTS must not be negative")
	}
	return cfg, nil
}

// DecompressorArgs splits the override command on whitespace. It is nil
// when no override is set.
func (c Config) DecompressorArgs() []string {
	return strings.Fields(c.Decompressor)
}

func ParseLevel(v string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		return slog.LevelWarn, fmt.Errorf("invalid log level %q", v)
	}
	return level, nil
}
