// Package router turns inbound updates into intake events, commands and
// admin actions. Updates of one user are handled strictly in order.
package router

import (
	"context"
	"errors"
	"hash/maphash"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clover2di/tochkavnimanie-bot/internal/dispatch"
	"github.com/clover2di/tochkavnimanie-bot/internal/guard"
	"github.com/clover2di/tochkavnimanie-bot/internal/intake"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// Config sizes the worker pool. Zero values take the defaults.
type Config struct {
	Workers   int           // default 8
	QueueSize int           // per worker, default 64
	Timeout   time.Duration // per update, default 2m
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// ImageSaver keeps broadcast images on local disk.
type ImageSaver interface {
	SaveBroadcastImage(ext string, data []byte) (string, error)
}

type Deps struct {
	Sender     transport.Sender
	Downloader transport.Downloader
	Machine    *intake.Machine
	Store      storage.Store
	Dispatch   *dispatch.Service
	Abuse      *guard.AbuseGuard
	Volume     *guard.VolumeGuard
	Images     ImageSaver
	Log        logx.Logger
}

type Router struct {
	cfg     Config
	d       Deps
	log     logx.Logger
	now     func() time.Time
	handler HandlerFunc

	omu    sync.RWMutex
	owners map[int64]bool

	processed atomic.Uint64
	seed      maphash.Seed
}

func New(cfg Config, d Deps, owners []int64) *Router {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	r := &Router{
		cfg:  cfg.withDefaults(),
		d:    d,
		log:  d.Log.With(logx.String("comp", "router")),
		now:  time.Now,
		seed: maphash.MakeSeed(),
	}
	r.SetOwners(owners)
	if d.Machine != nil {
		d.Machine.SetNotify(r.notify)
	}
	clock := func() time.Time { return r.now() }
	r.handler = Chain(r.handle,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(r.cfg.Timeout),
		MWAbuseGuard(d.Abuse, d.Sender, clock),
		MWVolumeGuard(d.Volume, d.Sender, clock),
	)
	return r
}

// SetOwners replaces the administrator list. Safe during hot reload.
func (r *Router) SetOwners(ids []int64) {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	r.omu.Lock()
	r.owners = m
	r.omu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.omu.RLock()
	defer r.omu.RUnlock()
	return r.owners[id]
}

// Processed reports how many updates went through the chain.
func (r *Router) Processed() uint64 { return r.processed.Load() }

// Run reads updates until ctx ends or the channel closes. Each user is
// pinned to one worker so their events never run concurrently or out of
// order.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	shards := make([]chan transport.Update, r.cfg.Workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan transport.Update, r.cfg.QueueSize)
		wg.Add(1)
		go func(idx int, in <-chan transport.Update) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("panic in router worker", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
				}
			}()
			for up := range in {
				r.Dispatch(ctx, up)
			}
		}(i, shards[i])
	}
	r.log.Info("router started", logx.Int("workers", r.cfg.Workers), logx.Int("queue_size", r.cfg.QueueSize))

	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
		r.log.Info("router stopped", logx.Uint64("processed", r.Processed()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			// blocking send keeps per-user order under backpressure
			select {
			case shards[r.shard(up.FromID)] <- up:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *Router) shard(userID int64) int {
	var h maphash.Hash
	h.SetSeed(r.seed)
	var b [8]byte
	for i := range b {
		b[i] = byte(userID >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return int(h.Sum64() % uint64(r.cfg.Workers))
}

// Dispatch runs one update through the middleware chain synchronously.
func (r *Router) Dispatch(ctx context.Context, up transport.Update) {
	if ctx.Err() != nil {
		return
	}
	req := &Request{
		Update: up,
		Chat:   transport.ChatTarget{ChatID: up.ChatID},
		FromID: up.FromID,
		ReqID:  uuid.NewString(),
	}
	req.Logger = r.log.With(logx.String("req_id", req.ReqID), logx.Int64("user_id", up.FromID))
	r.processed.Add(1)
	if err := r.handler(ctx, req); err != nil && !errors.Is(err, context.Canceled) {
		// already logged by the request log middleware
		return
	}
}
