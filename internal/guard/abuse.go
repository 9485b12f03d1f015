package guard

import (
	"context"
	"sync"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// EventClass selects the minimum interval an event is held to.
type EventClass int

const (
	// ClassMessage covers messages of any kind (text, files, voice).
	ClassMessage EventClass = iota
	// ClassCallback covers inline button presses.
	ClassCallback
)

func (c EventClass) String() string {
	if c == ClassCallback {
		return "callback"
	}
	return "message"
}

type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonLimited     Reason = "limited"
	ReasonBlocked     Reason = "blocked"
	ReasonJustBlocked Reason = "just_blocked"
)

// Decision is the outcome of one AbuseGuard check. Remaining is set for
// ReasonBlocked and ReasonJustBlocked.
type Decision struct {
	Allowed   bool
	Reason    Reason
	Remaining time.Duration
}

// AbuseRecord is the per-user limiter state.
type AbuseRecord struct {
	LastEvent    time.Time `json:"last_event"`
	Warnings     int       `json:"warnings"`
	BlockedUntil time.Time `json:"blocked_until"`
}

type AbuseConfig struct {
	MessageInterval  time.Duration
	CallbackInterval time.Duration
	SpamThreshold    int
	BlockDuration    time.Duration
	// CleanupInterval is both how often idle records are swept and how long
	// a record must be idle to be swept.
	CleanupInterval time.Duration
}

func (c AbuseConfig) withDefaults() AbuseConfig {
	if c.MessageInterval <= 0 {
		c.MessageInterval = 500 * time.Millisecond
	}
	if c.CallbackInterval <= 0 {
		c.CallbackInterval = 300 * time.Millisecond
	}
	if c.SpamThreshold <= 0 {
		c.SpamThreshold = 5
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = 60 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	return c
}

func (c AbuseConfig) interval(class EventClass) time.Duration {
	if class == ClassCallback {
		return c.CallbackInterval
	}
	return c.MessageInterval
}

// AbuseGuard refuses users who send events faster than the configured
// interval and blocks them after SpamThreshold refusals.
type AbuseGuard struct {
	store Store[AbuseRecord]
	log   logx.Logger

	mu        sync.RWMutex
	cfg       AbuseConfig
	lastSweep time.Time
}

func NewAbuseGuard(store Store[AbuseRecord], cfg AbuseConfig, log logx.Logger) *AbuseGuard {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AbuseGuard{store: store, cfg: cfg.withDefaults(), log: log}
}

// SetConfig swaps thresholds at runtime. Existing records are kept.
func (g *AbuseGuard) SetConfig(cfg AbuseConfig) {
	g.mu.Lock()
	g.cfg = cfg.withDefaults()
	g.mu.Unlock()
}

func (g *AbuseGuard) Config() AbuseConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Check records one event and decides whether it may proceed.
// A failing store lets the event through.
func (g *AbuseGuard) Check(ctx context.Context, userID int64, class EventClass, now time.Time) Decision {
	cfg := g.Config()
	g.maybeSweep(ctx, cfg, now)

	threshold := cfg.interval(class)
	var d Decision
	err := g.store.Update(ctx, userID, func(rec *AbuseRecord) {
		d = decide(rec, cfg, threshold, now)
	})
	if err != nil {
		g.log.Warn("abuse guard store failed; allowing", logx.Int64("user_id", userID), logx.Err(err))
		return Decision{Allowed: true, Reason: ReasonOK}
	}

	switch d.Reason {
	case ReasonJustBlocked:
		g.log.Warn("user blocked for spam", logx.Int64("user_id", userID), logx.Duration("block", cfg.BlockDuration))
	case ReasonLimited:
		g.log.Debug("user rate limited", logx.Int64("user_id", userID), logx.String("class", class.String()))
	}
	return d
}

// decide applies one event to rec.
func decide(rec *AbuseRecord, cfg AbuseConfig, threshold time.Duration, now time.Time) Decision {
	if rec.BlockedUntil.After(now) {
		return Decision{Reason: ReasonBlocked, Remaining: rec.BlockedUntil.Sub(now)}
	}

	elapsed := now.Sub(rec.LastEvent)
	if !rec.LastEvent.IsZero() && elapsed < threshold {
		rec.Warnings++
		rec.LastEvent = now
		if rec.Warnings >= cfg.SpamThreshold {
			rec.BlockedUntil = now.Add(cfg.BlockDuration)
			rec.Warnings = 0
			return Decision{Reason: ReasonJustBlocked, Remaining: cfg.BlockDuration}
		}
		return Decision{Reason: ReasonLimited}
	}

	rec.LastEvent = now
	if rec.Warnings > 0 && elapsed > 3*threshold {
		rec.Warnings--
	}
	return Decision{Allowed: true, Reason: ReasonOK}
}

// maybeSweep drops idle, unblocked records at most once per CleanupInterval.
func (g *AbuseGuard) maybeSweep(ctx context.Context, cfg AbuseConfig, now time.Time) {
	g.mu.Lock()
	if g.lastSweep.IsZero() {
		g.lastSweep = now
	}
	due := now.Sub(g.lastSweep) >= cfg.CleanupInterval
	if due {
		g.lastSweep = now
	}
	g.mu.Unlock()
	if !due {
		return
	}

	cutoff := now.Add(-cfg.CleanupInterval)
	n, err := g.store.Sweep(ctx, func(rec *AbuseRecord) bool {
		return rec.LastEvent.Before(cutoff) && !rec.BlockedUntil.After(now)
	})
	if err != nil {
		g.log.Warn("abuse guard sweep failed", logx.Err(err))
		return
	}
	if n > 0 {
		g.log.Debug("abuse guard sweep", logx.Int("removed", n))
	}
}
