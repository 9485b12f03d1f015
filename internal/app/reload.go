package app

import (
	"context"
	"strings"

	"github.com/clover2di/tochkavnimanie-bot/internal/config"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// reloadLoop applies hot-reloaded configs. Storage, file store, poller and
// worker pool sizes are read once at startup.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RequiresRestart(prev, next) {
		a.log.Warn("config change needs a restart to take full effect")
	}

	to := adminTarget(next)
	a.logs.SetTelegramTarget(to.ChatID, to.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	a.abuse.SetConfig(mapAbuseConfig(next))
	a.volume.SetConfig(mapVolumeConfig(next))
	a.machine.SetConfig(mapIntakeConfig(next))
	a.dispatch.Apply(mapDispatchConfig(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)

	wasEnabled := prev.Notifier.Enabled
	a.notif.Apply(mapNotifierConfig(next))
	a.notif.SetTarget(to)
	switch {
	case wasEnabled && !next.Notifier.Enabled:
		a.notif.Stop(ctx)
	case !wasEnabled && next.Notifier.Enabled:
		a.notif.Start(ctx)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
