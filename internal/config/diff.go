package config

import (
	"reflect"
	"strings"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections plus safe
// structured attrs for logging. Secrets (token, passwords, keys) are never
// included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Files != newCfg.Files {
		changed = append(changed, "files")
		attrs = append(attrs,
			logx.String("files.driver", newCfg.Files.Driver),
			logx.Int("files.max_file_mb", newCfg.Files.MaxFileMB),
		)
	}

	if oldCfg.Intake != newCfg.Intake {
		changed = append(changed, "intake")
		attrs = append(attrs,
			logx.Int("intake.min_files", newCfg.Intake.MinFiles),
			logx.Int("intake.max_files", newCfg.Intake.MaxFiles),
		)
	}

	if oldCfg.Guard != newCfg.Guard {
		changed = append(changed, "guard")
		attrs = append(attrs,
			logx.String("guard.backend", newCfg.Guard.Backend),
			logx.Int("guard.spam_threshold", newCfg.Guard.SpamThreshold),
			logx.Duration("guard.block_duration", newCfg.Guard.BlockDurationDur()),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Duration("dispatch.delay", newCfg.Dispatch.DelayDur()),
			logx.Int("dispatch.batch_size", newCfg.Dispatch.BatchSize),
		)
	}

	if oldCfg.Backup != newCfg.Backup {
		changed = append(changed, "backup")
		attrs = append(attrs,
			logx.Bool("backup.enabled", newCfg.Backup.Enabled),
			logx.String("backup.schedule", newCfg.Backup.Schedule),
		)
	}

	if oldCfg.Router != newCfg.Router {
		changed = append(changed, "router")
		attrs = append(attrs, logx.Int("router.workers", newCfg.Router.Workers))
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
		)
	}

	return changed, attrs
}

// RequiresRestart reports whether the change touches settings that are only
// read at startup (poller, storage, file store, worker pools).
func RequiresRestart(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return false
	}
	return oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Storage != newCfg.Storage ||
		oldCfg.Files != newCfg.Files ||
		oldCfg.Router != newCfg.Router ||
		oldCfg.Guard.Backend != newCfg.Guard.Backend ||
		oldCfg.Guard.Redis != newCfg.Guard.Redis
}
