// Package filestore keeps submission attachments durably, outside the
// messaging platform.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// Store persists one file under a per-user namespace and returns a durable
// reference to it.
type Store interface {
	Save(ctx context.Context, namespace, name string, data []byte) (ref string, err error)
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// Config selects the backend.
//
// Driver values:
//   - "local": files under Dir (default)
//   - "s3": objects in an S3 compatible bucket
type Config struct {
	Driver string
	Dir    string
	S3     S3Config
}

// Open returns the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "local":
		return NewLocal(cfg.Dir)
	case "s3":
		return NewS3(ctx, cfg.S3, log)
	default:
		return nil, errors.New("unknown file store driver: " + driver)
	}
}

var (
	unsafeNamespace = regexp.MustCompile(`[^a-zA-Z0-9_\-@]`)
	unsafeStem      = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)
)

var allowedExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".pdf": true, ".ogg": true,
}

const (
	maxNamespaceLen = 64
	maxStemLen      = 50
	timeSuffix      = "20060102_150405"
)

// SanitizeNamespace maps a username or id to a safe directory name.
func SanitizeNamespace(ns string) string {
	ns = strings.NewReplacer("/", "", `\`, "", "..", "").Replace(ns)
	ns = unsafeNamespace.ReplaceAllString(ns, "_")
	if len(ns) > maxNamespaceLen {
		ns = ns[:maxNamespaceLen]
	}
	if ns == "" || ns == "@" {
		return "unknown_user"
	}
	return ns
}

// SanitizeFilename strips directories and unsafe characters. Extensions
// outside the allowed set become .bin.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.NewReplacer("/", "", "..", "").Replace(name)
	if name == "." {
		name = ""
	}
	ext := strings.ToLower(path.Ext(name))
	stem := strings.TrimSuffix(name, path.Ext(name))
	stem = unsafeStem.ReplaceAllString(stem, "_")
	if !allowedExt[ext] {
		ext = ".bin"
	}
	if len(stem) > maxStemLen {
		stem = stem[:maxStemLen]
	}
	if stem == "" {
		stem = "file"
	}
	return stem + ext
}

// objectName returns "@ns/<stem>_<YYYYMMDD_HHMMSS>[_n]<ext>".
func objectName(namespace, name string, now time.Time, attempt int) string {
	safe := SanitizeFilename(name)
	ext := path.Ext(safe)
	stem := strings.TrimSuffix(safe, ext)
	file := stem + "_" + now.Format(timeSuffix)
	if attempt > 0 {
		file += fmt.Sprintf("_%d", attempt)
	}
	return "@" + SanitizeNamespace(namespace) + "/" + file + ext
}
