package guard

import (
	"context"
	"sync"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

const (
	volumeWindow     = time.Hour
	volumeRateWindow = time.Minute
	volumeWarnEvery  = 30 * time.Second
)

type VolumeReason string

const (
	VolumeOK    VolumeReason = "ok"
	VolumeCount VolumeReason = "count"
	VolumeBytes VolumeReason = "bytes"
)

// VolumeDecision is the outcome of one VolumeGuard check. Warn is true for
// at most one rejection per 30 seconds; the caller notifies the user only
// then. UsedBytes is the retained hourly total before this file.
type VolumeDecision struct {
	Allowed   bool
	Warn      bool
	Reason    VolumeReason
	UsedBytes int64
}

type Upload struct {
	At   time.Time `json:"at"`
	Size int64     `json:"size"`
}

// VolumeRecord is the rolling upload history of one user.
type VolumeRecord struct {
	Uploads     []Upload  `json:"uploads"`
	LastWarning time.Time `json:"last_warning"`
}

type VolumeConfig struct {
	FilesPerMinute  int
	MaxBytesPerHour int64
}

func (c VolumeConfig) withDefaults() VolumeConfig {
	if c.FilesPerMinute <= 0 {
		c.FilesPerMinute = 10
	}
	if c.MaxBytesPerHour <= 0 {
		c.MaxBytesPerHour = 100 << 20
	}
	return c
}

// VolumeGuard caps attachment uploads per minute (count) and per hour
// (bytes). It runs independently of the AbuseGuard.
type VolumeGuard struct {
	store Store[VolumeRecord]
	log   logx.Logger

	mu        sync.RWMutex
	cfg       VolumeConfig
	lastSweep time.Time
}

func NewVolumeGuard(store Store[VolumeRecord], cfg VolumeConfig, log logx.Logger) *VolumeGuard {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &VolumeGuard{store: store, cfg: cfg.withDefaults(), log: log}
}

func (g *VolumeGuard) SetConfig(cfg VolumeConfig) {
	g.mu.Lock()
	g.cfg = cfg.withDefaults()
	g.mu.Unlock()
}

func (g *VolumeGuard) Config() VolumeConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Check records one attachment of size bytes. A failing store lets the
// upload through.
func (g *VolumeGuard) Check(ctx context.Context, userID int64, size int64, now time.Time) VolumeDecision {
	cfg := g.Config()
	g.maybeSweep(ctx, now)

	var d VolumeDecision
	err := g.store.Update(ctx, userID, func(rec *VolumeRecord) {
		d = decideVolume(rec, cfg, size, now)
	})
	if err != nil {
		g.log.Warn("volume guard store failed; allowing", logx.Int64("user_id", userID), logx.Err(err))
		return VolumeDecision{Allowed: true, Reason: VolumeOK}
	}
	if !d.Allowed {
		g.log.Warn("upload limit exceeded",
			logx.Int64("user_id", userID),
			logx.String("reason", string(d.Reason)),
			logx.Int64("used_bytes", d.UsedBytes),
		)
	}
	return d
}

func decideVolume(rec *VolumeRecord, cfg VolumeConfig, size int64, now time.Time) VolumeDecision {
	kept := rec.Uploads[:0]
	var used int64
	recent := 0
	for _, u := range rec.Uploads {
		age := now.Sub(u.At)
		if age >= volumeWindow {
			continue
		}
		kept = append(kept, u)
		used += u.Size
		if age < volumeRateWindow {
			recent++
		}
	}
	rec.Uploads = kept

	reason := VolumeOK
	switch {
	case recent >= cfg.FilesPerMinute:
		reason = VolumeCount
	case used+size > cfg.MaxBytesPerHour:
		reason = VolumeBytes
	}
	if reason != VolumeOK {
		d := VolumeDecision{Reason: reason, UsedBytes: used}
		if now.Sub(rec.LastWarning) > volumeWarnEvery {
			rec.LastWarning = now
			d.Warn = true
		}
		return d
	}

	rec.Uploads = append(rec.Uploads, Upload{At: now, Size: size})
	return VolumeDecision{Allowed: true, Reason: VolumeOK, UsedBytes: used}
}

// maybeSweep drops records with no upload inside the hourly window.
func (g *VolumeGuard) maybeSweep(ctx context.Context, now time.Time) {
	g.mu.Lock()
	if g.lastSweep.IsZero() {
		g.lastSweep = now
	}
	due := now.Sub(g.lastSweep) >= volumeWindow
	if due {
		g.lastSweep = now
	}
	g.mu.Unlock()
	if !due {
		return
	}
	cutoff := now.Add(-volumeWindow)
	if _, err := g.store.Sweep(ctx, func(rec *VolumeRecord) bool {
		for _, u := range rec.Uploads {
			if u.At.After(cutoff) {
				return false
			}
		}
		return true
	}); err != nil {
		g.log.Warn("volume guard sweep failed", logx.Err(err))
	}
}
