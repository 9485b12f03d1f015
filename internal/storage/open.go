package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// Store is the persistence API used by the bot.
type Store interface {
	GetOrCreateUser(ctx context.Context, telegramID int64, username string) (User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (User, error)
	UpdateProfile(ctx context.Context, userID int64, p Profile) error
	// ListRecipientIDs returns the Telegram ids of every non-blocked user.
	ListRecipientIDs(ctx context.Context) ([]int64, error)

	CreateStage(ctx context.Context, s Stage) (Stage, error)
	GetStage(ctx context.Context, id int64) (Stage, error)
	// ListAvailableStages returns the stages open at now, in display order.
	ListAvailableStages(ctx context.Context, now time.Time) ([]Stage, error)
	ListStages(ctx context.Context) ([]Stage, error)

	CreateSubmission(ctx context.Context, s Submission) (Submission, error)
	ListUserSubmissions(ctx context.Context, userID int64) ([]SubmissionSummary, error)
	CountSubmissions(ctx context.Context) (int, error)

	CreateBroadcast(ctx context.Context, text, imagePath string) (Broadcast, error)
	GetBroadcast(ctx context.Context, id int64) (Broadcast, error)
	UpdateBroadcastProgress(ctx context.Context, id int64, p BroadcastProgress) error
	ListBroadcasts(ctx context.Context, limit int) ([]Broadcast, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Backup writes a consistent copy of the database to dst.
	Backup(ctx context.Context, dst string) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// AcceptingApplications reads the intake switch. A missing setting means
// intake is open.
func AcceptingApplications(ctx context.Context, st Store) (bool, error) {
	v, err := st.GetSetting(ctx, SettingAcceptingApplications)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(v), "true"), nil
}
