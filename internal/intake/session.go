package intake

import (
	"sync"

	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
)

type State int

const (
	Idle State = iota
	CollectingName
	CollectingCity
	CollectingSchool
	CollectingGrade
	SelectingStage
	CollectingFiles
	CollectingComment
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CollectingName:
		return "collecting_name"
	case CollectingCity:
		return "collecting_city"
	case CollectingSchool:
		return "collecting_school"
	case CollectingGrade:
		return "collecting_grade"
	case SelectingStage:
		return "selecting_stage"
	case CollectingFiles:
		return "collecting_files"
	case CollectingComment:
		return "collecting_comment"
	default:
		return "unknown"
	}
}

type AttachmentKind string

const (
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment references a file still held by the messaging platform.
type Attachment struct {
	FileID   string
	UniqueID string
	Kind     AttachmentKind
	Ext      string
	Name     string
	Size     int64
}

// Session is the in-progress submission of one user.
type Session struct {
	State     State
	UserID    int64 // storage user id
	Profile   storage.Profile
	StageID   int64
	StageName string
	Files     []Attachment

	CommentText string
	VoiceFileID string
}

// SessionStore keeps sessions by platform user id. Get returns a copy.
type SessionStore interface {
	Get(userID int64) (Session, bool)
	Put(userID int64, s Session)
	Delete(userID int64)
}

type MemorySessions struct {
	mu sync.Mutex
	m  map[int64]Session
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{m: make(map[int64]Session)}
}

func (s *MemorySessions) Get(userID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[userID]
	if ok {
		sess.Files = append([]Attachment(nil), sess.Files...)
	}
	return sess, ok
}

func (s *MemorySessions) Put(userID int64, sess Session) {
	sess.Files = append([]Attachment(nil), sess.Files...)
	s.mu.Lock()
	s.m[userID] = sess
	s.mu.Unlock()
}

func (s *MemorySessions) Delete(userID int64) {
	s.mu.Lock()
	delete(s.m, userID)
	s.mu.Unlock()
}

func (s *MemorySessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
