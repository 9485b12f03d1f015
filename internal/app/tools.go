package app

import (
	"context"
	"fmt"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/internal/backup"
	"github.com/clover2di/tochkavnimanie-bot/internal/config"
	"github.com/clover2di/tochkavnimanie-bot/internal/dispatch"
	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
	"github.com/clover2di/tochkavnimanie-bot/internal/filestore"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport/telegram"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// Tools is the subset of the bot used by one-shot CLI commands. It never
// polls for updates.
type Tools struct {
	Config  *config.Config
	Log     logx.Logger
	Store   storage.Store
	Backups *backup.Manager
	Images  *filestore.Local
	// Location is the zone the bot shows and compares stage times in.
	Location *time.Location
}

func OpenTools(cfgPath string) (*Tools, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	log := logx.NewConsole(cfg.Logging.Level)
	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	backups, err := backup.NewManager(store, cfg.Backup.Dir, cfg.Backup.MaxBackups, nil, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	images, err := filestore.NewLocal(cfg.Files.Dir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &Tools{Config: cfg, Log: log, Store: store, Backups: backups, Images: images, Location: location(cfg)}, nil
}

// Dispatcher connects to Telegram and returns a dispatcher for running
// a job in the foreground. Progress events go to bus.
func (t *Tools) Dispatcher(bus eventbus.Bus) (*dispatch.Service, error) {
	ad, err := telegram.New(telegram.Config{
		Token:       t.Config.Telegram.Token,
		PollTimeout: t.Config.Telegram.PollTimeoutDur(),
	}, t.Log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	return dispatch.New(mapDispatchConfig(t.Config), t.Store, ad, bus, t.Log), nil
}

func (t *Tools) Close(context.Context) error { return t.Store.Close() }
