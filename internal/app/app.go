// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/internal/backup"
	"github.com/clover2di/tochkavnimanie-bot/internal/config"
	"github.com/clover2di/tochkavnimanie-bot/internal/dispatch"
	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
	"github.com/clover2di/tochkavnimanie-bot/internal/filestore"
	"github.com/clover2di/tochkavnimanie-bot/internal/guard"
	"github.com/clover2di/tochkavnimanie-bot/internal/intake"
	"github.com/clover2di/tochkavnimanie-bot/internal/notifier"
	"github.com/clover2di/tochkavnimanie-bot/internal/router"
	rtsup "github.com/clover2di/tochkavnimanie-bot/internal/runtime/supervisor"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport/telegram"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
	"github.com/clover2di/tochkavnimanie-bot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store      storage.Store
	adapter    *telegram.Adapter
	machine    *intake.Machine
	abuse      *guard.AbuseGuard
	volume     *guard.VolumeGuard
	closeGuard func() error
	dispatch   *dispatch.Service
	backups    *backup.Manager
	schedule   *backup.Scheduler
	notif      *notifier.Service
	router     *router.Router

	updates chan transport.Update
}

// New loads the config and builds every component. Nothing runs until
// Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)
	ad, err := telegram.New(telegram.Config{
		Token:            cfg.Telegram.Token,
		PollTimeout:      cfg.Telegram.PollTimeoutDur(),
		MaxDownloadBytes: cfg.Files.MaxFileBytes(),
	}, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// The Telegram sink is enabled only after its target is known.
	logCfg := mapLogConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logs, log := logx.New(logCfg, ad)
	to := adminTarget(cfg)
	logs.SetTelegramTarget(to.ChatID, to.ThreadID)
	logCfg.Telegram.Enabled = tgEnabled
	logs.Apply(logCfg)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan transport.Update, 256),
	}
	if err := a.build(ctx, cfg, log); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.log.Info("storage ready", logx.String("driver", cfg.Storage.Driver))

	files, err := filestore.Open(ctx, mapFilesConfig(cfg), log.With(logx.String("comp", "filestore")))
	if err != nil {
		return fmt.Errorf("open file store: %w", err)
	}
	// broadcast images always stay on local disk so they can be re-sent
	images, err := filestore.NewLocal(cfg.Files.Dir)
	if err != nil {
		return fmt.Errorf("open image dir: %w", err)
	}

	abuseStore, volumeStore, closeGuard, err := guardStores(ctx, cfg)
	if err != nil {
		return err
	}
	a.closeGuard = closeGuard
	a.abuse = guard.NewAbuseGuard(abuseStore, mapAbuseConfig(cfg), log)
	a.volume = guard.NewVolumeGuard(volumeStore, mapVolumeConfig(cfg), log)

	a.machine = intake.NewMachine(intake.Deps{
		Store:      store,
		Files:      files,
		Downloader: a.adapter,
		Bus:        a.bus,
		Log:        log,
	}, mapIntakeConfig(cfg))

	a.dispatch = dispatch.New(mapDispatchConfig(cfg), store, a.adapter, a.bus, log)

	a.backups, err = backup.NewManager(store, cfg.Backup.Dir, cfg.Backup.MaxBackups, a.bus, log)
	if err != nil {
		return err
	}

	a.notif = notifier.New(mapNotifierConfig(cfg), a.adapter, a.bus, log)
	a.notif.SetTarget(adminTarget(cfg))

	a.router = router.New(mapRouterConfig(cfg), router.Deps{
		Sender:     a.adapter,
		Downloader: a.adapter,
		Machine:    a.machine,
		Store:      store,
		Dispatch:   a.dispatch,
		Abuse:      a.abuse,
		Volume:     a.volume,
		Images:     images,
		Log:        log,
	}, cfg.Telegram.OwnerUserIDs)
	return nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return errors.New("telegram.token is empty")
		}
		return nil
	})

	cmds := make([]telegram.Command, 0, len(router.UserCommands))
	for _, c := range router.UserCommands {
		cmds = append(cmds, telegram.Command{Name: c.Name, Description: c.Description})
	}
	if err := a.adapter.SetCommands(cmds); err != nil {
		a.log.Warn("publish command menu failed", logx.Err(err))
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.dispatch.Start(runCtx)
	a.notif.Start(runCtx)

	cfg := a.cfgm.Get()
	if cfg.Backup.Enabled {
		s, err := a.backups.Schedule(runCtx, cfg.Backup.Schedule, cfg.Backup.Timezone)
		if err != nil {
			return err
		}
		a.schedule = s
		a.log.Info("backups scheduled", logx.String("spec", cfg.Backup.Schedule), logx.Time("next", s.Next()))
	}

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	if wd := systemd.WatchdogInterval(); wd > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.Watchdog(c, wd, func() bool { return a.sup.Err() == nil })
		})
	}
	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started", logx.Int("owners", len(cfg.Telegram.OwnerUserIDs)))
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("backup.schedule", 2*time.Second, func(c context.Context) error {
		if a.schedule != nil {
			a.schedule.Stop(c)
		}
		return nil
	})
	step("dispatch", 3*time.Second, func(c context.Context) error { a.dispatch.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Wait)
	a.closeResources()

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close storage failed", logx.Err(err))
		}
	}
	if a.closeGuard != nil {
		if err := a.closeGuard(); err != nil {
			a.log.Warn("close guard store failed", logx.Err(err))
		}
	}
}
