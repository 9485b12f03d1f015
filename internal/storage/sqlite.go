package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) stamp() string { return s.now().UTC().Format(timeLayout) }

// ---- users ----

const userColumns = `id, telegram_id, username, full_name, city, school, grade, is_blocked, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		u                                   User
		username, name, city, school, grade sql.NullString
		created, updated                    string
	)
	err := row.Scan(&u.ID, &u.TelegramID, &username, &name, &city, &school, &grade, &u.IsBlocked, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.Profile = Profile{FullName: name.String, City: city.String, School: school.String, Grade: grade.String}
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return u, nil
}

func (s *sqliteStore) GetUserByTelegramID(ctx context.Context, telegramID int64) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID)
	return scanUser(row)
}

func (s *sqliteStore) GetOrCreateUser(ctx context.Context, telegramID int64, username string) (User, error) {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(telegram_id, username, created_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(telegram_id) DO UPDATE SET
		   username = COALESCE(excluded.username, users.username)`,
		telegramID, nullStr(username), now, now,
	)
	if err != nil {
		return User{}, fmt.Errorf("upsert user %d: %w", telegramID, err)
	}
	return s.GetUserByTelegramID(ctx, telegramID)
}

func (s *sqliteStore) UpdateProfile(ctx context.Context, userID int64, p Profile) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET full_name = ?, city = ?, school = ?, grade = ?, updated_at = ? WHERE id = ?`,
		p.FullName, p.City, p.School, p.Grade, s.stamp(), userID,
	)
	return affected(res, err)
}

func (s *sqliteStore) ListRecipientIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT telegram_id FROM users WHERE is_blocked = 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---- stages ----

const stageColumns = `id, name, description, is_active, start_at, deadline, sort_order, created_at`

func scanStage(row interface{ Scan(...any) error }) (Stage, error) {
	var (
		st                    Stage
		desc, start, deadline sql.NullString
		created               string
	)
	err := row.Scan(&st.ID, &st.Name, &desc, &st.IsActive, &start, &deadline, &st.Order, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Stage{}, ErrNotFound
	}
	if err != nil {
		return Stage{}, err
	}
	st.Description = desc.String
	st.StartAt = parseNullTime(start)
	st.Deadline = parseNullTime(deadline)
	st.CreatedAt = parseTime(created)
	return st, nil
}

func (s *sqliteStore) CreateStage(ctx context.Context, st Stage) (Stage, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stages(name, description, is_active, start_at, deadline, sort_order, created_at) VALUES(?,?,?,?,?,?,?)`,
		st.Name, nullStr(st.Description), st.IsActive, nullTime(st.StartAt), nullTime(st.Deadline), st.Order, now.Format(timeLayout),
	)
	if err != nil {
		return Stage{}, fmt.Errorf("create stage: %w", err)
	}
	st.ID, err = res.LastInsertId()
	st.CreatedAt = now
	return st, err
}

func (s *sqliteStore) GetStage(ctx context.Context, id int64) (Stage, error) {
	return scanStage(s.db.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE id = ?`, id))
}

func (s *sqliteStore) ListStages(ctx context.Context) ([]Stage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stageColumns+` FROM stages ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListAvailableStages(ctx context.Context, now time.Time) ([]Stage, error) {
	all, err := s.ListStages(ctx)
	if err != nil {
		return nil, err
	}
	return filterOpen(all, now), nil
}

func filterOpen(stages []Stage, now time.Time) []Stage {
	out := stages[:0]
	for _, st := range stages {
		if st.OpenAt(now) {
			out = append(out, st)
		}
	}
	return out
}

// ---- submissions ----

func (s *sqliteStore) CreateSubmission(ctx context.Context, sub Submission) (Submission, error) {
	ids, err := json.Marshal(nonNil(sub.FileIDs))
	if err != nil {
		return Submission{}, err
	}
	paths, err := json.Marshal(nonNil(sub.FilePaths))
	if err != nil {
		return Submission{}, err
	}
	if sub.Status == "" {
		sub.Status = SubmissionPending
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions(user_id, stage_id, file_ids, file_paths, comment_text, voice_file_id, voice_path, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		sub.UserID, sub.StageID, string(ids), string(paths),
		nullStr(sub.CommentText), nullStr(sub.VoiceFileID), nullStr(sub.VoicePath),
		sub.Status, sub.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return Submission{}, fmt.Errorf("create submission: %w", err)
	}
	sub.ID, err = res.LastInsertId()
	return sub, err
}

func (s *sqliteStore) ListUserSubmissions(ctx context.Context, userID int64) ([]SubmissionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.user_id, s.stage_id, s.file_ids, s.file_paths, s.comment_text, s.voice_file_id, s.voice_path,
		        s.status, s.created_at, COALESCE(st.name, '')
		   FROM submissions s LEFT JOIN stages st ON st.id = s.stage_id
		  WHERE s.user_id = ?
		  ORDER BY s.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubmissionSummary
	for rows.Next() {
		var (
			sum                   SubmissionSummary
			ids, paths, created   string
			comment, voice, vpath sql.NullString
		)
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.StageID, &ids, &paths, &comment, &voice, &vpath,
			&sum.Status, &created, &sum.StageName); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &sum.FileIDs); err != nil {
			s.log.Warn("corrupt submission file_ids", logx.Int64("submission_id", sum.ID), logx.Err(err))
		}
		if err := json.Unmarshal([]byte(paths), &sum.FilePaths); err != nil {
			s.log.Warn("corrupt submission file_paths", logx.Int64("submission_id", sum.ID), logx.Err(err))
		}
		sum.CommentText = comment.String
		sum.VoiceFileID = voice.String
		sum.VoicePath = vpath.String
		sum.CreatedAt = parseTime(created)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountSubmissions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&n)
	return n, err
}

// ---- broadcasts ----

const broadcastColumns = `id, text, image_path, status, sent_count, failed_count, total_count, created_at, sent_at`

func scanBroadcast(row interface{ Scan(...any) error }) (Broadcast, error) {
	var (
		b             Broadcast
		image, sentAt sql.NullString
		status        string
		created       string
	)
	err := row.Scan(&b.ID, &b.Text, &image, &status, &b.SentCount, &b.FailedCount, &b.TotalCount, &created, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Broadcast{}, ErrNotFound
	}
	if err != nil {
		return Broadcast{}, err
	}
	b.ImagePath = image.String
	b.Status = BroadcastStatus(status)
	b.CreatedAt = parseTime(created)
	b.SentAt = parseNullTime(sentAt)
	return b, nil
}

func (s *sqliteStore) CreateBroadcast(ctx context.Context, text, imagePath string) (Broadcast, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(text, image_path, status, created_at) VALUES(?,?,?,?)`,
		text, nullStr(imagePath), string(BroadcastDraft), now.Format(timeLayout),
	)
	if err != nil {
		return Broadcast{}, fmt.Errorf("create broadcast: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Broadcast{}, err
	}
	return Broadcast{ID: id, Text: text, ImagePath: imagePath, Status: BroadcastDraft, CreatedAt: now}, nil
}

func (s *sqliteStore) GetBroadcast(ctx context.Context, id int64) (Broadcast, error) {
	return scanBroadcast(s.db.QueryRowContext(ctx, `SELECT `+broadcastColumns+` FROM broadcasts WHERE id = ?`, id))
}

func (s *sqliteStore) UpdateBroadcastProgress(ctx context.Context, id int64, p BroadcastProgress) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET status = ?, sent_count = ?, failed_count = ?, total_count = ?,
		        sent_at = COALESCE(?, sent_at)
		  WHERE id = ?`,
		string(p.Status), p.SentCount, p.FailedCount, p.TotalCount, nullTime(p.SentAt), id,
	)
	return affected(res, err)
}

func (s *sqliteStore) ListBroadcasts(ctx context.Context, limit int) ([]Broadcast, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+broadcastColumns+` FROM broadcasts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ---- settings ----

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.stamp(),
	)
	return err
}

// Backup snapshots the live database with VACUUM INTO. dst must not exist.
func (s *sqliteStore) Backup(ctx context.Context, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dst); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dst, err)
	}
	return nil
}

// ---- helpers ----

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
