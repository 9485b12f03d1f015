// Package backup takes rotated snapshots of the bot database, on demand or
// on a cron schedule.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

const (
	filePrefix = "bot_db_backup_"
	fileSuffix = ".db"

	DefaultMaxBackups = 10
)

// Snapshotter writes a consistent copy of the database to dst.
type Snapshotter interface {
	Backup(ctx context.Context, dst string) error
}

type Info struct {
	Filename string
	Path     string
	Size     int64
	Created  time.Time
}

type Manager struct {
	src Snapshotter
	dir string
	max int
	bus eventbus.Bus
	log logx.Logger
	now func() time.Time
	mu  sync.Mutex // one snapshot at a time
}

func NewManager(src Snapshotter, dir string, maxBackups int, bus eventbus.Bus, log logx.Logger) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "./backups"
	}
	if maxBackups <= 0 {
		maxBackups = DefaultMaxBackups
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		src: src,
		dir: dir,
		max: maxBackups,
		bus: bus,
		log: log.With(logx.String("comp", "backup")),
		now: time.Now,
	}, nil
}

func (m *Manager) Dir() string { return m.dir }

// Create writes bot_db_backup_YYYYMMDD_HHMMSS[_suffix].db and prunes old
// snapshots beyond the retention count.
func (m *Manager) Create(ctx context.Context, suffix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := filePrefix + m.now().Format("20060102_150405")
	if suffix = strings.TrimSpace(suffix); suffix != "" {
		name += "_" + suffix
	}
	name += fileSuffix
	dst := filepath.Join(m.dir, name)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("backup %s already exists", name)
	}

	if err := m.src.Backup(ctx, dst); err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	m.log.Info("backup created", logx.String("path", dst))

	if err := m.prune(); err != nil {
		m.log.Warn("prune backups failed", logx.Err(err))
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.BackupCreated, Time: m.now(), Data: dst})
	}
	return dst, nil
}

// List returns the snapshots, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, Info{
			Filename: name,
			Path:     filepath.Join(m.dir, name),
			Size:     fi.Size(),
			Created:  fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].Filename > out[j].Filename
	})
	return out, nil
}

func (m *Manager) prune() error {
	list, err := m.List()
	if err != nil {
		return err
	}
	var errs []error
	for _, b := range list[min(len(list), m.max):] {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		m.log.Info("old backup removed", logx.String("path", b.Path))
	}
	return errors.Join(errs...)
}
