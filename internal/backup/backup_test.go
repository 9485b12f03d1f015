package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

type fileSnap struct{ calls int }

func (f *fileSnap) Backup(_ context.Context, dst string) error {
	f.calls++
	return os.WriteFile(dst, []byte("snapshot"), 0o644)
}

func TestCreateNamesAndRotates(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	m, err := NewManager(&fileSnap{}, dir, 3, bus, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	step := 0
	m.now = func() time.Time { return base.Add(time.Duration(step) * time.Second) }

	var paths []string
	for step = 0; step < 5; step++ {
		p, err := m.Create(context.Background(), "")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		// mtime drives ordering
		mt := base.Add(time.Duration(step) * time.Minute)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	if want := filepath.Join(dir, "bot_db_backup_20240506_070809.db"); paths[0] != want {
		t.Fatalf("first path = %q, want %q", paths[0], want)
	}

	list, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(list))
	}
	if list[0].Path != paths[4] || list[2].Path != paths[2] {
		t.Fatalf("List() = %+v, want newest first", list)
	}
	if _, err := os.Stat(paths[0]); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("oldest backup still present: %v", err)
	}

	n := 0
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.BackupCreated {
			n++
		}
	}
	if n != 5 {
		t.Fatalf("backup events = %d, want 5", n)
	}
}

func TestCreateSuffixAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(&fileSnap{}, dir, 10, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := m.Create(context.Background(), "manual")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(p, "_manual.db") {
		t.Fatalf("path = %q, want _manual suffix", p)
	}
	if _, err := m.Create(context.Background(), "manual"); err == nil {
		t.Fatal("second Create() in the same second error = nil")
	}
	list, _ := m.List()
	if len(list) != 1 {
		t.Fatalf("List() = %+v, want only the backup", list)
	}
}

func TestCreateFromSQLite(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Path: filepath.Join(dir, "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	m, err := NewManager(st, filepath.Join(dir, "backups"), 2, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p, err := m.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if fi, err := os.Stat(p); err != nil || fi.Size() == 0 {
		t.Fatalf("backup %q missing: %v", p, err)
	}
}

func TestSchedule(t *testing.T) {
	m, err := NewManager(&fileSnap{}, t.TempDir(), 2, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Schedule(context.Background(), "every day", ""); err == nil {
		t.Fatal("Schedule(bad spec) error = nil")
	}
	if _, err := m.Schedule(context.Background(), "@daily", "Mars/Olympus"); err == nil {
		t.Fatal("Schedule(bad tz) error = nil")
	}
	s, err := m.Schedule(context.Background(), "0 3 * * *", "Asia/Yekaterinburg")
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	defer s.Stop(context.Background())
	if next := s.Next(); next.IsZero() || next.Hour() != 3 {
		t.Fatalf("Next() = %v, want 03:00 local", next)
	}
}
