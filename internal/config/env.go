package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "TOCHKA_"

// envOverlay lists the settings that may come from the environment instead
// of the config file. Secrets are expected here in production.
type envOverlay struct {
	TelegramToken string  `env:"TELEGRAM_TOKEN"`
	OwnerUserIDs  []int64 `env:"OWNER_USER_IDS"`
	GroupLog      string  `env:"GROUP_LOG"`
	LogLevel      string  `env:"LOG_LEVEL"`
	StoragePath   string  `env:"STORAGE_PATH"`
	RedisAddr     string  `env:"REDIS_ADDR"`
	RedisPassword string  `env:"REDIS_PASSWORD"`
	S3AccessKey   string  `env:"S3_ACCESS_KEY"`
	S3SecretKey   string  `env:"S3_SECRET_KEY"`
}

// ApplyEnv overrides cfg with TOCHKA_* variables that are set.
func ApplyEnv(cfg *Config) error {
	var o envOverlay
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, o.TelegramToken)
	set(&cfg.Telegram.GroupLog, o.GroupLog)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Storage.Path, o.StoragePath)
	set(&cfg.Guard.Redis.Addr, o.RedisAddr)
	set(&cfg.Guard.Redis.Password, o.RedisPassword)
	set(&cfg.Files.S3.AccessKey, o.S3AccessKey)
	set(&cfg.Files.S3.SecretKey, o.S3SecretKey)
	if len(o.OwnerUserIDs) > 0 {
		cfg.Telegram.OwnerUserIDs = o.OwnerUserIDs
	}
	return nil
}
