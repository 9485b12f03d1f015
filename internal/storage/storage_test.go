package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	return map[string]Store{"sqlite": sq, "memory": mem}
}

func TestStoreUsers(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			u, err := st.GetOrCreateUser(ctx, 100, "alice")
			if err != nil {
				t.Fatalf("GetOrCreateUser() error = %v", err)
			}
			again, err := st.GetOrCreateUser(ctx, 100, "")
			if err != nil {
				t.Fatalf("GetOrCreateUser() second error = %v", err)
			}
			if again.ID != u.ID || again.Username != "alice" {
				t.Fatalf("second GetOrCreateUser = %+v, want id %d username alice", again, u.ID)
			}
			if again.Complete() {
				t.Fatalf("new user profile Complete() = true, want false")
			}

			p := Profile{FullName: "Иван Петров", City: "Москва", School: "Школа 1", Grade: "9"}
			if err := st.UpdateProfile(ctx, u.ID, p); err != nil {
				t.Fatalf("UpdateProfile() error = %v", err)
			}
			got, err := st.GetUserByTelegramID(ctx, 100)
			if err != nil {
				t.Fatalf("GetUserByTelegramID() error = %v", err)
			}
			if got.Profile != p {
				t.Fatalf("profile = %+v, want %+v", got.Profile, p)
			}
			if err := st.UpdateProfile(ctx, 9999, p); !errors.Is(err, ErrNotFound) {
				t.Fatalf("UpdateProfile(unknown) error = %v, want ErrNotFound", err)
			}
			if _, err := st.GetUserByTelegramID(ctx, 555); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetUserByTelegramID(unknown) error = %v, want ErrNotFound", err)
			}

			if _, err := st.GetOrCreateUser(ctx, 200, "bob"); err != nil {
				t.Fatal(err)
			}
			ids, err := st.ListRecipientIDs(ctx)
			if err != nil {
				t.Fatalf("ListRecipientIDs() error = %v", err)
			}
			if len(ids) != 2 || ids[0] != 100 || ids[1] != 200 {
				t.Fatalf("ListRecipientIDs() = %v, want [100 200]", ids)
			}
		})
	}
}

func TestStoreAvailableStages(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			mk := func(s Stage) Stage {
				t.Helper()
				out, err := st.CreateStage(ctx, s)
				if err != nil {
					t.Fatalf("CreateStage(%s) error = %v", s.Name, err)
				}
				return out
			}
			open := mk(Stage{Name: "open", IsActive: true, StartAt: &past, Deadline: &future, Order: 2})
			mk(Stage{Name: "inactive", IsActive: false, Order: 0})
			mk(Stage{Name: "not started", IsActive: true, StartAt: &future})
			mk(Stage{Name: "expired", IsActive: true, Deadline: &past})
			first := mk(Stage{Name: "unbounded", IsActive: true, Order: 1})

			got, err := st.ListAvailableStages(ctx, now)
			if err != nil {
				t.Fatalf("ListAvailableStages() error = %v", err)
			}
			if len(got) != 2 || got[0].ID != first.ID || got[1].ID != open.ID {
				t.Fatalf("ListAvailableStages() = %+v, want [unbounded open]", got)
			}

			loaded, err := st.GetStage(ctx, open.ID)
			if err != nil {
				t.Fatalf("GetStage() error = %v", err)
			}
			if loaded.Deadline == nil || !loaded.Deadline.Equal(future) {
				t.Fatalf("deadline = %v, want %v", loaded.Deadline, future)
			}
			if _, err := st.GetStage(ctx, 9999); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetStage(unknown) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreSubmissions(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			u, _ := st.GetOrCreateUser(ctx, 1, "u")
			stage, err := st.CreateStage(ctx, Stage{Name: "Этап 1", IsActive: true})
			if err != nil {
				t.Fatal(err)
			}

			for i := 0; i < 2; i++ {
				_, err := st.CreateSubmission(ctx, Submission{
					UserID:      u.ID,
					StageID:     stage.ID,
					FileIDs:     []string{"a", "b", "c"},
					FilePaths:   []string{"/uploads/@u/stage1_file1.jpg"},
					CommentText: "comment",
				})
				if err != nil {
					t.Fatalf("CreateSubmission() error = %v", err)
				}
			}

			list, err := st.ListUserSubmissions(ctx, u.ID)
			if err != nil {
				t.Fatalf("ListUserSubmissions() error = %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("len(list) = %d, want 2", len(list))
			}
			if list[0].ID < list[1].ID {
				t.Fatalf("list not newest first: %d, %d", list[0].ID, list[1].ID)
			}
			s := list[0]
			if s.StageName != "Этап 1" || len(s.FileIDs) != 3 || s.Status != SubmissionPending || len(s.FilePaths) != 1 {
				t.Fatalf("summary = %+v", s)
			}
			if n, _ := st.CountSubmissions(ctx); n != 2 {
				t.Fatalf("CountSubmissions() = %d, want 2", n)
			}
		})
	}
}

func TestStoreBroadcastProgress(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			b, err := st.CreateBroadcast(ctx, "hello", "")
			if err != nil {
				t.Fatalf("CreateBroadcast() error = %v", err)
			}
			if b.Status != BroadcastDraft {
				t.Fatalf("status = %q, want draft", b.Status)
			}
			if err := st.UpdateBroadcastProgress(ctx, b.ID, BroadcastProgress{Status: BroadcastSending, SentCount: 3, TotalCount: 10}); err != nil {
				t.Fatalf("UpdateBroadcastProgress() error = %v", err)
			}
			sentAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			if err := st.UpdateBroadcastProgress(ctx, b.ID, BroadcastProgress{Status: BroadcastSent, SentCount: 9, FailedCount: 1, TotalCount: 10, SentAt: &sentAt}); err != nil {
				t.Fatal(err)
			}
			got, err := st.GetBroadcast(ctx, b.ID)
			if err != nil {
				t.Fatalf("GetBroadcast() error = %v", err)
			}
			if got.Status != BroadcastSent || got.SentCount != 9 || got.FailedCount != 1 || got.SentAt == nil || !got.SentAt.Equal(sentAt) {
				t.Fatalf("broadcast = %+v", got)
			}
			if err := st.UpdateBroadcastProgress(ctx, 999, BroadcastProgress{}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("UpdateBroadcastProgress(unknown) error = %v, want ErrNotFound", err)
			}
			list, _ := st.ListBroadcasts(ctx, 5)
			if len(list) != 1 {
				t.Fatalf("ListBroadcasts() len = %d, want 1", len(list))
			}
		})
	}
}

func TestAcceptingApplications(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := AcceptingApplications(ctx, st)
			if err != nil || !ok {
				t.Fatalf("AcceptingApplications() = (%v, %v), want (true, nil) when unset", ok, err)
			}
			if err := st.SetSetting(ctx, SettingAcceptingApplications, "false"); err != nil {
				t.Fatal(err)
			}
			if ok, _ := AcceptingApplications(ctx, st); ok {
				t.Fatalf("AcceptingApplications() = true after close")
			}
			if err := st.SetSetting(ctx, SettingAcceptingApplications, "true"); err != nil {
				t.Fatal(err)
			}
			if ok, _ := AcceptingApplications(ctx, st); !ok {
				t.Fatalf("AcceptingApplications() = false after reopen")
			}
		})
	}
}

func TestSQLiteBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := Open(Config{Path: filepath.Join(dir, "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, err := st.GetOrCreateUser(ctx, 42, "x"); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "backups", "snap.db")
	if err := st.Backup(ctx, dst); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if fi, err := os.Stat(dst); err != nil || fi.Size() == 0 {
		t.Fatalf("backup file missing or empty: %v", err)
	}

	restored, err := Open(Config{Path: dst}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer restored.Close()
	if _, err := restored.GetUserByTelegramID(ctx, 42); err != nil {
		t.Fatalf("restored GetUserByTelegramID() error = %v", err)
	}

	if err := NewMemory().Backup(ctx, dst); !errors.Is(err, errors.ErrUnsupported) {
		t.Fatalf("memory Backup() error = %v, want ErrUnsupported", err)
	}
}

func TestListUserSubmissionsCorruptFiles(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.NewWriter(&buf, "debug"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	u, _ := st.GetOrCreateUser(ctx, 1, "u")
	stage, err := st.CreateStage(ctx, Stage{Name: "Этап 1", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	sub, err := st.CreateSubmission(ctx, Submission{UserID: u.ID, StageID: stage.ID, FileIDs: []string{"a"}, CommentText: "c"})
	if err != nil {
		t.Fatal(err)
	}
	db := st.(*sqliteStore).db
	if _, err := db.ExecContext(ctx, `UPDATE submissions SET file_ids = 'not json' WHERE id = ?`, sub.ID); err != nil {
		t.Fatal(err)
	}

	list, err := st.ListUserSubmissions(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListUserSubmissions() error = %v", err)
	}
	if len(list) != 1 || len(list[0].FileIDs) != 0 || list[0].CommentText != "c" {
		t.Fatalf("ListUserSubmissions() = %+v, want one row with no file ids", list)
	}
	if !strings.Contains(buf.String(), "corrupt submission file_ids") {
		t.Fatalf("log = %q, want corrupt file_ids warning", buf.String())
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("Open(postgres) error = nil")
	}
}
