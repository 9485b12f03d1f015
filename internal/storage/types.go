package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": process memory, for tests and local runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// Profile is the four fields collected by the intake flow.
type Profile struct {
	FullName string
	City     string
	School   string
	Grade    string
}

// Complete reports whether every field is filled in.
func (p Profile) Complete() bool {
	return p.FullName != "" && p.City != "" && p.School != "" && p.Grade != ""
}

type User struct {
	ID         int64
	TelegramID int64
	Username   string
	Profile
	IsBlocked bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stage is a competition phase submissions are made against. Nil StartAt
// or Deadline means the window is open on that side.
type Stage struct {
	ID          int64
	Name        string
	Description string
	IsActive    bool
	StartAt     *time.Time
	Deadline    *time.Time
	Order       int
	CreatedAt   time.Time
}

// OpenAt reports whether the stage accepts submissions at now.
func (s Stage) OpenAt(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.StartAt != nil && now.Before(*s.StartAt) {
		return false
	}
	if s.Deadline != nil && now.After(*s.Deadline) {
		return false
	}
	return true
}

const SubmissionPending = "pending"

// Submission is written once when a participant finishes the intake.
// FileIDs are the messaging platform ids of every attachment; FilePaths
// holds the durable references of those that were stored successfully.
type Submission struct {
	ID          int64
	UserID      int64
	StageID     int64
	FileIDs     []string
	FilePaths   []string
	CommentText string
	VoiceFileID string
	VoicePath   string
	Status      string
	CreatedAt   time.Time
}

// SubmissionSummary is a submission joined with its stage name.
type SubmissionSummary struct {
	Submission
	StageName string
}

type BroadcastStatus string

const (
	BroadcastDraft   BroadcastStatus = "draft"
	BroadcastSending BroadcastStatus = "sending"
	BroadcastSent    BroadcastStatus = "sent"
	BroadcastFailed  BroadcastStatus = "failed"
)

type Broadcast struct {
	ID          int64
	Text        string
	ImagePath   string
	Status      BroadcastStatus
	SentCount   int
	FailedCount int
	TotalCount  int
	CreatedAt   time.Time
	SentAt      *time.Time
}

// BroadcastProgress is a checkpoint written by the dispatcher.
type BroadcastProgress struct {
	Status      BroadcastStatus
	SentCount   int
	FailedCount int
	TotalCount  int
	SentAt      *time.Time
}

// Setting keys.
const (
	SettingAcceptingApplications = "accepting_applications"
	// SettingWelcomeMessage and SettingInfoMessage override the built-in
	// /start greeting and the info screen.
	SettingWelcomeMessage = "welcome_message"
	SettingInfoMessage    = "info_message"
)
