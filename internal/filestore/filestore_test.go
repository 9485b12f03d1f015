package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

func TestSanitizeNamespace(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"@ivan_petrov", "@ivan_petrov"},
		{"../../etc", "etc"},
		{"иван", "____"},
		{"", "unknown_user"},
		{"@", "unknown_user"},
		{"a b/c", "a_bc"},
		{strings.Repeat("x", 80), strings.Repeat("x", 64)},
	}
	for _, tt := range tests {
		if got := SanitizeNamespace(tt.in); got != tt.want {
			t.Fatalf("SanitizeNamespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"stage1_file1.jpg", "stage1_file1.jpg"},
		{"Photo.JPEG", "Photo.jpeg"},
		{"../../passwd", "passwd.bin"},
		{`C:\evil\run.exe`, "run.bin"},
		{"work.pdf", "work.pdf"},
		{".ogg", "file.ogg"},
		{"my work (1).png", "my_work__1_.png"},
		{strings.Repeat("a", 60) + ".png", strings.Repeat("a", 50) + ".png"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLocalSave(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	l.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }

	ctx := context.Background()
	ref, err := l.Save(ctx, "ivan", "stage2_file1.jpg", []byte("img"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if want := "/uploads/@ivan/stage2_file1_20260203_040506.jpg"; ref != want {
		t.Fatalf("ref = %q, want %q", ref, want)
	}
	b, err := os.ReadFile(filepath.Join(dir, "@ivan", "stage2_file1_20260203_040506.jpg"))
	if err != nil || string(b) != "img" {
		t.Fatalf("stored file = %q, %v", b, err)
	}

	// same second, same name
	ref2, err := l.Save(ctx, "ivan", "stage2_file1.jpg", []byte("img2"))
	if err != nil {
		t.Fatalf("Save() second error = %v", err)
	}
	if ref2 == ref || !strings.HasSuffix(ref2, "_1.jpg") {
		t.Fatalf("second ref = %q, want collision suffix", ref2)
	}

	traversal, err := l.Save(ctx, "../..", "../x.exe", []byte("x"))
	if err != nil {
		t.Fatalf("Save(traversal) error = %v", err)
	}
	if !strings.HasPrefix(traversal, "/uploads/@") || strings.Contains(traversal, "..") {
		t.Fatalf("traversal ref = %q", traversal)
	}
}

func TestFreeObjectName(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	taken := map[string]bool{
		"@ivan/stage2_file1_20260203_040506.jpg": true,
	}
	exists := func(_ context.Context, key string) (bool, error) { return taken[key], nil }

	first, err := freeObjectName(ctx, "ivan", "stage2_file1.jpg", now, exists)
	if err != nil {
		t.Fatalf("freeObjectName() error = %v", err)
	}
	if first == "@ivan/stage2_file1_20260203_040506.jpg" || !strings.HasSuffix(first, "_1.jpg") {
		t.Fatalf("freeObjectName() = %q, want collision suffix", first)
	}

	taken[first] = true
	second, _ := freeObjectName(ctx, "ivan", "stage2_file1.jpg", now, exists)
	if second == first || !strings.HasSuffix(second, "_2.jpg") {
		t.Fatalf("freeObjectName() second = %q, want _2 suffix", second)
	}

	boom := errors.New("stat failed")
	if _, err := freeObjectName(ctx, "ivan", "x.jpg", now, func(context.Context, string) (bool, error) { return false, boom }); !errors.Is(err, boom) {
		t.Fatalf("freeObjectName() error = %v, want %v", err, boom)
	}
}

func TestLocalSaveBroadcastImage(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p, err := l.SaveBroadcastImage("PNG", []byte("png"))
	if err != nil {
		t.Fatalf("SaveBroadcastImage() error = %v", err)
	}
	if filepath.Dir(p) != filepath.Join(l.Dir(), "broadcasts") || filepath.Ext(p) != ".png" {
		t.Fatalf("path = %q", p)
	}
	if _, err := l.SaveBroadcastImage(".pdf", nil); err == nil {
		t.Fatal("SaveBroadcastImage(.pdf) error = nil")
	}
}

func TestOpenDrivers(t *testing.T) {
	st, err := Open(context.Background(), Config{Dir: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(local) error = %v", err)
	}
	if _, ok := st.(*Local); !ok {
		t.Fatalf("Open(local) = %T, want *Local", st)
	}
	if _, err := Open(context.Background(), Config{Driver: "s3"}, logx.Nop()); err == nil {
		t.Fatal("Open(s3) without endpoint error = nil")
	}
	if _, err := Open(context.Background(), Config{Driver: "ftp"}, logx.Nop()); err == nil {
		t.Fatal("Open(ftp) error = nil")
	}
}
