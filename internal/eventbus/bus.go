package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the bot.
const (
	// SubmissionCreated carries a SubmissionCreatedData.
	SubmissionCreated = "submission.created"
	// DispatchProgress carries a DispatchProgressData at every checkpoint.
	DispatchProgress = "dispatch.progress"
	// DispatchFinished carries a DispatchProgressData with the final counts.
	DispatchFinished = "dispatch.finished"
	// ConfigReloaded carries the list of changed sections ([]string).
	ConfigReloaded = "config.reloaded"
	// BackupCreated carries the backup file path (string).
	BackupCreated = "backup.created"
)

// Event is a small in-memory signal used to decouple components.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; slow subscribers drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type SubmissionCreatedData struct {
	SubmissionID int64
	UserID       int64
	TelegramID   int64
	Username     string
	FullName     string
	City         string
	School       string
	Grade        string
	StageName    string
	FileCount    int
	StoredFiles  int
	HasVoice     bool
	CommentText  string
}

type DispatchProgressData struct {
	BroadcastID int64
	Status      string
	Sent        int
	Failed      int
	Total       int
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends are non-blocking, so holding the read lock is cheap and keeps
	// unsubscribe (which closes under the write lock) from racing a send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
