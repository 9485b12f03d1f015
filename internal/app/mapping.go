package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/internal/config"
	"github.com/clover2di/tochkavnimanie-bot/internal/dispatch"
	"github.com/clover2di/tochkavnimanie-bot/internal/filestore"
	"github.com/clover2di/tochkavnimanie-bot/internal/guard"
	"github.com/clover2di/tochkavnimanie-bot/internal/intake"
	"github.com/clover2di/tochkavnimanie-bot/internal/notifier"
	"github.com/clover2di/tochkavnimanie-bot/internal/router"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// volumeWindow is the longest window the volume guard looks back over.
const volumeWindow = time.Hour

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// adminTarget resolves telegram.group_log. The config has already been
// validated, so a parse error means the value is empty.
func adminTarget(cfg *config.Config) transport.ChatTarget {
	chat, thread, err := config.ParseChatTarget(cfg.Telegram.GroupLog)
	if err != nil {
		return transport.ChatTarget{}
	}
	return transport.ChatTarget{ChatID: chat, ThreadID: thread}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeoutDur(),
	}
}

func mapFilesConfig(cfg *config.Config) filestore.Config {
	s3 := cfg.Files.S3
	return filestore.Config{
		Driver: cfg.Files.Driver,
		Dir:    cfg.Files.Dir,
		S3: filestore.S3Config{
			Endpoint:  s3.Endpoint,
			Bucket:    s3.Bucket,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			UseSSL:    s3.UseSSL,
			Region:    s3.Region,
		},
	}
}

func location(cfg *config.Config) *time.Location {
	if tz := strings.TrimSpace(cfg.Backup.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}

func mapIntakeConfig(cfg *config.Config) intake.Config {
	return intake.Config{
		MinFiles:         cfg.Intake.MinFiles,
		MaxFiles:         cfg.Intake.MaxFiles,
		MaxFileBytes:     cfg.Files.MaxFileBytes(),
		MaxVoiceDuration: cfg.Intake.MaxVoiceDurationDur(),
		Workers:          cfg.Intake.Workers,
		Location:         location(cfg),
	}
}

func mapAbuseConfig(cfg *config.Config) guard.AbuseConfig {
	g := cfg.Guard
	return guard.AbuseConfig{
		MessageInterval:  g.MessageIntervalDur(),
		CallbackInterval: g.CallbackIntervalDur(),
		SpamThreshold:    g.SpamThreshold,
		BlockDuration:    g.BlockDurationDur(),
		CleanupInterval:  g.CleanupIntervalDur(),
	}
}

func mapVolumeConfig(cfg *config.Config) guard.VolumeConfig {
	return guard.VolumeConfig{
		FilesPerMinute:  cfg.Guard.FilesPerMinute,
		MaxBytesPerHour: cfg.Guard.MaxBytesPerHour(),
	}
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Delay:     cfg.Dispatch.DelayDur(),
		BatchSize: cfg.Dispatch.BatchSize,
		QueueSize: cfg.Dispatch.QueueSize,
	}
}

func mapRouterConfig(cfg *config.Config) router.Config {
	return router.Config{
		Workers:   cfg.Router.Workers,
		QueueSize: cfg.Router.QueueSize,
		Timeout:   cfg.Router.TimeoutDur(),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Enabled:     cfg.Notifier.Enabled,
		RatePerSec:  cfg.Notifier.RatePerSec,
		RetryMax:    cfg.Notifier.RetryMax,
		DedupWindow: cfg.Notifier.DedupWindowDur(),
	}
}

// guardStores builds the record stores for both guards. With the redis
// backend the records are shared by every bot instance and expire on
// their own.
func guardStores(ctx context.Context, cfg *config.Config) (guard.Store[guard.AbuseRecord], guard.Store[guard.VolumeRecord], func() error, error) {
	if cfg.Guard.Backend != "redis" {
		return guard.NewMemoryStore[guard.AbuseRecord](), guard.NewMemoryStore[guard.VolumeRecord](), func() error { return nil }, nil
	}
	rc := cfg.Guard.Redis
	client, err := guard.NewRedisClient(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, nil, nil, err
	}
	abuseTTL := max(cfg.Guard.CleanupIntervalDur(), cfg.Guard.BlockDurationDur())
	abuse, err := guard.NewRedisStore[guard.AbuseRecord](client, rc.Prefix, "abuse", abuseTTL)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("abuse store: %w", err)
	}
	volume, err := guard.NewRedisStore[guard.VolumeRecord](client, rc.Prefix, "volume", max(volumeWindow, cfg.Guard.CleanupIntervalDur()))
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("volume store: %w", err)
	}
	return abuse, volume, client.Close, nil
}
