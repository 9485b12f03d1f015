package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	users       map[int64]*User // by telegram id
	nextUser    int64
	stages      map[int64]Stage
	nextStage   int64
	submissions []Submission
	nextSub     int64
	broadcasts  map[int64]Broadcast
	nextBcast   int64
	settings    map[string]string
}

// NewMemory returns a Store kept in process memory. Backup is unsupported.
func NewMemory() Store {
	return &memoryStore{
		now:        time.Now,
		users:      make(map[int64]*User),
		stages:     make(map[int64]Stage),
		broadcasts: make(map[int64]Broadcast),
		settings:   make(map[string]string),
	}
}

func (m *memoryStore) GetOrCreateUser(_ context.Context, telegramID int64, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if u, ok := m.users[telegramID]; ok {
		if username != "" {
			u.Username = username
		}
		return *u, nil
	}
	m.nextUser++
	u := &User{ID: m.nextUser, TelegramID: telegramID, Username: username, CreatedAt: now, UpdatedAt: now}
	m.users[telegramID] = u
	return *u, nil
}

func (m *memoryStore) GetUserByTelegramID(_ context.Context, telegramID int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[telegramID]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (m *memoryStore) UpdateProfile(_ context.Context, userID int64, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			u.Profile = p
			u.UpdatedAt = m.now().UTC()
			return nil
		}
	}
	return ErrNotFound
}

func (m *memoryStore) ListRecipientIDs(context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		if !u.IsBlocked {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.TelegramID
	}
	return ids, nil
}

func (m *memoryStore) CreateStage(_ context.Context, st Stage) (Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextStage++
	st.ID = m.nextStage
	st.CreatedAt = m.now().UTC()
	m.stages[st.ID] = st
	return st, nil
}

func (m *memoryStore) GetStage(_ context.Context, id int64) (Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stages[id]
	if !ok {
		return Stage{}, ErrNotFound
	}
	return st, nil
}

func (m *memoryStore) ListStages(context.Context) ([]Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Stage, 0, len(m.stages))
	for _, st := range m.stages {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryStore) ListAvailableStages(ctx context.Context, now time.Time) ([]Stage, error) {
	all, err := m.ListStages(ctx)
	if err != nil {
		return nil, err
	}
	return filterOpen(all, now), nil
}

func (m *memoryStore) CreateSubmission(_ context.Context, sub Submission) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stages[sub.StageID]; !ok {
		return Submission{}, fmt.Errorf("create submission: stage %d: %w", sub.StageID, ErrNotFound)
	}
	m.nextSub++
	sub.ID = m.nextSub
	if sub.Status == "" {
		sub.Status = SubmissionPending
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = m.now().UTC()
	}
	sub.FileIDs = append([]string(nil), sub.FileIDs...)
	sub.FilePaths = append([]string(nil), sub.FilePaths...)
	m.submissions = append(m.submissions, sub)
	return sub, nil
}

func (m *memoryStore) ListUserSubmissions(_ context.Context, userID int64) ([]SubmissionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SubmissionSummary
	for i := len(m.submissions) - 1; i >= 0; i-- {
		sub := m.submissions[i]
		if sub.UserID != userID {
			continue
		}
		out = append(out, SubmissionSummary{Submission: sub, StageName: m.stages[sub.StageID].Name})
	}
	return out, nil
}

func (m *memoryStore) CountSubmissions(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.submissions), nil
}

func (m *memoryStore) CreateBroadcast(_ context.Context, text, imagePath string) (Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBcast++
	b := Broadcast{ID: m.nextBcast, Text: text, ImagePath: imagePath, Status: BroadcastDraft, CreatedAt: m.now().UTC()}
	m.broadcasts[b.ID] = b
	return b, nil
}

func (m *memoryStore) GetBroadcast(_ context.Context, id int64) (Broadcast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.broadcasts[id]
	if !ok {
		return Broadcast{}, ErrNotFound
	}
	return b, nil
}

func (m *memoryStore) UpdateBroadcastProgress(_ context.Context, id int64, p BroadcastProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = p.Status
	b.SentCount = p.SentCount
	b.FailedCount = p.FailedCount
	b.TotalCount = p.TotalCount
	if p.SentAt != nil {
		t := *p.SentAt
		b.SentAt = &t
	}
	m.broadcasts[id] = b
	return nil
}

func (m *memoryStore) ListBroadcasts(_ context.Context, limit int) ([]Broadcast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]Broadcast, 0, len(m.broadcasts))
	for _, b := range m.broadcasts {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memoryStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *memoryStore) Backup(context.Context, string) error {
	return fmt.Errorf("memory store backup: %w", errors.ErrUnsupported)
}

func (m *memoryStore) Close() error { return nil }
