package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxCollisions = 100

// Local writes files below a base directory. References have the form
// "/uploads/@ns/file".
type Local struct {
	dir string
	now func() time.Time
}

func NewLocal(dir string) (*Local, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "./uploads"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{dir: abs, now: time.Now}, nil
}

func (l *Local) Dir() string { return l.dir }

func (l *Local) Save(ctx context.Context, namespace, name string, data []byte) (string, error) {
	now := l.now()
	for attempt := 0; attempt < maxCollisions; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rel := objectName(namespace, name, now, attempt)
		full, err := l.resolve(rel)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", err
		}
		err = writeExclusive(full, data)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("save %s: %w", rel, err)
		}
		return "/uploads/" + rel, nil
	}
	return "", fmt.Errorf("save %s: too many name collisions", name)
}

// SaveBroadcastImage stores an admin-provided image under a random name and
// returns its filesystem path, which the dispatcher sends from disk.
func (l *Local) SaveBroadcastImage(ext string, data []byte) (string, error) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if !allowedExt[ext] || ext == ".pdf" || ext == ".ogg" {
		return "", fmt.Errorf("unsupported image extension %q", ext)
	}
	full, err := l.resolve(filepath.Join("broadcasts", uuid.NewString()+ext))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := writeExclusive(full, data); err != nil {
		return "", err
	}
	return full, nil
}

// resolve joins rel to the base dir and refuses anything that escapes it.
func (l *Local) resolve(rel string) (string, error) {
	full := filepath.Join(l.dir, filepath.FromSlash(rel))
	r, err := filepath.Rel(l.dir, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid file path %q", rel)
	}
	return full, nil
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
