// Package dispatch sends an administrator notice to every known user,
// sequentially and paced, checkpointing progress as it goes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

var (
	ErrUnknownJob     = errors.New("dispatch: unknown job")
	ErrAlreadySending = errors.New("dispatch: job is already sending")
	ErrAlreadyQueued  = errors.New("dispatch: job is already queued")
	ErrQueueFull      = errors.New("dispatch: queue is full")
)

// Config paces sending. Zero values take the defaults.
type Config struct {
	// Delay is the minimum spacing between the starts of two consecutive
	// sends (default 50ms). A send that takes longer than Delay is followed
	// by the next one immediately; it is not a pause after each send.
	Delay time.Duration
	// BatchSize is how many recipients are processed between checkpoints
	// (default 50).
	BatchSize int
	// QueueSize bounds jobs waiting for the worker (default 16).
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Delay <= 0 {
		c.Delay = 50 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	return c
}

// Result is the outcome of one run.
type Result struct {
	Total  int
	Sent   int
	Failed int
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	store  storage.Store
	sender transport.Sender
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	limiter *rate.Limiter
	queue   chan int64
	pending map[int64]bool

	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress.
	stopDone  chan struct{}
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, store storage.Store, sender transport.Sender, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		sender:  sender,
		bus:     bus,
		log:     log.With(logx.String("comp", "dispatch")),
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(cfg.Delay), 1),
		queue:   make(chan int64, cfg.QueueSize),
		pending: map[int64]bool{},
	}
}

// Apply updates pacing live. The queue size is fixed at construction.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Delay = cfg.Delay
	s.cfg.BatchSize = cfg.BatchSize
	s.limiter.SetLimit(rate.Every(cfg.Delay))
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start runs the queue worker until Stop or ctx cancellation.
func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	stopCh := s.stopCh

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in dispatch worker", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.worker(runCtx, stopCh)
	}()
	s.log.Info("service started", logx.Duration("delay", s.cfg.Delay), logx.Int("batch_size", s.cfg.BatchSize))
}

// Stop cancels the running job, if any. The job keeps its last checkpoint.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Enqueue schedules a job for the worker. Unknown jobs, jobs already
// sending and jobs already queued are refused.
func (s *Service) Enqueue(ctx context.Context, id int64) error {
	b, err := s.store.GetBroadcast(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrUnknownJob, id)
	}
	if err != nil {
		return err
	}
	if b.Status == storage.BroadcastSending {
		return fmt.Errorf("%w: %d", ErrAlreadySending, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[id] {
		return fmt.Errorf("%w: %d", ErrAlreadyQueued, id)
	}
	select {
	case s.queue <- id:
		s.pending[id] = true
		s.log.Info("job queued", logx.Int64("broadcast_id", id))
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}) {
	for {
		// stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case id := <-s.queue:
			if _, err := s.Run(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("job failed", logx.Int64("broadcast_id", id), logx.Err(err))
			}
			s.mu.Lock()
			delete(s.pending, id)
			s.mu.Unlock()
		}
	}
}
