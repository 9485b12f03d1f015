package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

const DefaultSchedule = "@daily"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs Manager.Create on a cron expression.
type Scheduler struct {
	m   *Manager
	c   *cron.Cron
	log logx.Logger
}

// Schedule starts periodic backups. An empty timezone means local time.
func (m *Manager) Schedule(ctx context.Context, spec, timezone string) (*Scheduler, error) {
	if strings.TrimSpace(spec) == "" {
		spec = DefaultSchedule
	}
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("backup timezone: %w", err)
		}
		loc = l
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("backup schedule %q: %w", spec, err)
	}

	s := &Scheduler{m: m, log: m.log, c: cron.New(cron.WithParser(parser), cron.WithLocation(loc))}
	s.c.Schedule(sched, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.Create(ctx, "auto"); err != nil {
			s.log.Error("scheduled backup failed", logx.Err(err))
		}
	}))
	s.c.Start()
	s.log.Info("backup schedule started", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return s, nil
}

// Next reports when the next backup runs.
func (s *Scheduler) Next() time.Time {
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop waits for a running backup to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
}
