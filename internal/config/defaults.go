package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultMinFiles         = 3
	DefaultMaxFiles         = 5
	DefaultMaxVoiceDuration = 60 * time.Second
	DefaultMaxFileMB        = 20

	DefaultMessageInterval  = 500 * time.Millisecond
	DefaultCallbackInterval = 300 * time.Millisecond
	DefaultSpamThreshold    = 5
	DefaultBlockDuration    = 60 * time.Second
	DefaultCleanupInterval  = 5 * time.Minute
	DefaultFilesPerMinute   = 10
	DefaultMBPerHour        = 100

	DefaultDispatchDelay = 50 * time.Millisecond
	DefaultBatchSize     = 50
)

// ApplyDefaults fills zero values. Durations are left as strings; the
// typed accessors below resolve them.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.Path = "./data/bot.db"
	}
	if cfg.Files.Driver == "" {
		cfg.Files.Driver = "local"
	}
	if cfg.Files.Dir == "" {
		cfg.Files.Dir = "./uploads"
	}
	if cfg.Files.MaxFileMB <= 0 {
		cfg.Files.MaxFileMB = DefaultMaxFileMB
	}
	if cfg.Intake.MinFiles <= 0 {
		cfg.Intake.MinFiles = DefaultMinFiles
	}
	if cfg.Intake.MaxFiles <= 0 {
		cfg.Intake.MaxFiles = DefaultMaxFiles
	}
	if cfg.Intake.Workers <= 0 {
		cfg.Intake.Workers = 4
	}
	if cfg.Guard.Backend == "" {
		cfg.Guard.Backend = "memory"
	}
	if cfg.Guard.Redis.Prefix == "" {
		cfg.Guard.Redis.Prefix = "tochka:guard:"
	}
	if cfg.Guard.SpamThreshold <= 0 {
		cfg.Guard.SpamThreshold = DefaultSpamThreshold
	}
	if cfg.Guard.FilesPerMinute <= 0 {
		cfg.Guard.FilesPerMinute = DefaultFilesPerMinute
	}
	if cfg.Guard.MBPerHour <= 0 {
		cfg.Guard.MBPerHour = DefaultMBPerHour
	}
	if cfg.Dispatch.BatchSize <= 0 {
		cfg.Dispatch.BatchSize = DefaultBatchSize
	}
	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = 16
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = "./backups"
	}
	if cfg.Backup.MaxBackups <= 0 {
		cfg.Backup.MaxBackups = 10
	}
	if cfg.Backup.Schedule == "" {
		cfg.Backup.Schedule = "@daily"
	}
	if cfg.Router.Workers <= 0 {
		cfg.Router.Workers = 8
	}
	if cfg.Router.QueueSize <= 0 {
		cfg.Router.QueueSize = 64
	}
	if cfg.Notifier.RatePerSec <= 0 {
		cfg.Notifier.RatePerSec = 1
	}
	if cfg.Notifier.RetryMax <= 0 {
		cfg.Notifier.RetryMax = 3
	}
}

// Validate checks the values ApplyDefaults cannot fix.
func Validate(cfg *Config) error {
	var errs []error
	durs := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"intake.max_voice_duration", cfg.Intake.MaxVoiceDuration},
		{"guard.message_interval", cfg.Guard.MessageInterval},
		{"guard.callback_interval", cfg.Guard.CallbackInterval},
		{"guard.block_duration", cfg.Guard.BlockDuration},
		{"guard.cleanup_interval", cfg.Guard.CleanupInterval},
		{"dispatch.delay", cfg.Dispatch.Delay},
		{"router.timeout", cfg.Router.Timeout},
		{"notifier.dedup_window", cfg.Notifier.DedupWindow},
	}
	for _, d := range durs {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch cfg.Storage.Driver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	switch cfg.Files.Driver {
	case "local":
	case "s3":
		if cfg.Files.S3.Endpoint == "" || cfg.Files.S3.Bucket == "" {
			errs = append(errs, errors.New("files.s3: endpoint and bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("files.driver: unknown driver %q", cfg.Files.Driver))
	}
	switch cfg.Guard.Backend {
	case "memory":
	case "redis":
		if cfg.Guard.Redis.Addr == "" {
			errs = append(errs, errors.New("guard.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("guard.backend: unknown backend %q", cfg.Guard.Backend))
	}
	if cfg.Intake.MinFiles > cfg.Intake.MaxFiles {
		errs = append(errs, fmt.Errorf("intake: min_files (%d) > max_files (%d)", cfg.Intake.MinFiles, cfg.Intake.MaxFiles))
	}
	if _, _, err := ParseChatTarget(cfg.Telegram.GroupLog); err != nil {
		errs = append(errs, err)
	}
	if cfg.Backup.Enabled {
		if _, err := cron.ParseStandard(cfg.Backup.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("backup.schedule: %w", err))
		}
		if tz := strings.TrimSpace(cfg.Backup.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				errs = append(errs, fmt.Errorf("backup.timezone: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// ParseChatTarget parses "chat" or "chat:thread". Empty input yields zeros.
func ParseChatTarget(raw string) (chatID int64, threadID int, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, 0, nil
	}
	chat, thread, hasThread := strings.Cut(s, ":")
	chatID, err = strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram.group_log: invalid chat id %q", raw)
	}
	if hasThread {
		threadID, err = strconv.Atoi(strings.TrimSpace(thread))
		if err != nil {
			return 0, 0, fmt.Errorf("telegram.group_log: invalid thread id %q", raw)
		}
	}
	return chatID, threadID, nil
}

// dur resolves an already validated duration string.
func dur(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (c TelegramConfig) PollTimeoutDur() time.Duration { return dur(c.PollTimeout, 10*time.Second) }

func (c StorageConfig) BusyTimeoutDur() time.Duration { return dur(c.BusyTimeout, 5*time.Second) }

func (c FilesConfig) MaxFileBytes() int64 { return int64(c.MaxFileMB) << 20 }

func (c IntakeConfig) MaxVoiceDurationDur() time.Duration {
	return dur(c.MaxVoiceDuration, DefaultMaxVoiceDuration)
}

func (c GuardConfig) MessageIntervalDur() time.Duration {
	return dur(c.MessageInterval, DefaultMessageInterval)
}

func (c GuardConfig) CallbackIntervalDur() time.Duration {
	return dur(c.CallbackInterval, DefaultCallbackInterval)
}

func (c GuardConfig) BlockDurationDur() time.Duration { return dur(c.BlockDuration, DefaultBlockDuration) }

func (c GuardConfig) CleanupIntervalDur() time.Duration {
	return dur(c.CleanupInterval, DefaultCleanupInterval)
}

func (c GuardConfig) MaxBytesPerHour() int64 { return int64(c.MBPerHour) << 20 }

func (c DispatchConfig) DelayDur() time.Duration { return dur(c.Delay, DefaultDispatchDelay) }

func (c NotifierConfig) DedupWindowDur() time.Duration { return dur(c.DedupWindow, 10*time.Minute) }

func (c RouterConfig) TimeoutDur() time.Duration { return dur(c.Timeout, 2*time.Minute) }

// IsOwner reports whether userID is listed in telegram.owner_user_ids.
func (c TelegramConfig) IsOwner(userID int64) bool {
	for _, id := range c.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
