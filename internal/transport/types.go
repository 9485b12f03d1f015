package transport

import "context"

// UpdateKind tags the payload carried by an Update.
type UpdateKind string

const (
	UpdateText     UpdateKind = "text"
	UpdatePhoto    UpdateKind = "photo"
	UpdateDocument UpdateKind = "document"
	UpdateVoice    UpdateKind = "voice"
	UpdateCallback UpdateKind = "callback"
)

// IsAttachment reports whether the update carries a file the user uploaded
// as part of a submission (voice clips are comments, not attachments).
func (k UpdateKind) IsAttachment() bool {
	return k == UpdatePhoto || k == UpdateDocument
}

// Update is one inbound event. Exactly one payload matches Kind:
//   - text: Text
//   - photo/document/voice: File (Text holds the caption, if any)
//   - callback: Callback
type Update struct {
	Kind         UpdateKind
	ChatID       int64
	FromID       int64
	FromUsername string
	MessageID    int
	Text         string
	File         *File
	Callback     *Callback
}

// File describes a file held by the messaging platform.
type File struct {
	FileID   string
	UniqueID string
	FileName string // documents only
	MIME     string
	Size     int64
	Duration int // voice only, seconds
}

type Callback struct {
	ID        string
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Sender is the outbound half of an adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendPhoto sends a local image file with a caption.
	SendPhoto(ctx context.Context, to ChatTarget, path, caption string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Downloader retrieves file bytes by platform file id.
type Downloader interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

type Adapter interface {
	Sender
	Downloader

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
