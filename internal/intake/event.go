package intake

import (
	"strings"

	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/pkg/tgui"
)

// CancelText is the reply-keyboard cancel button.
const CancelText = "❌ Отмена"

type EventKind int

const (
	EventText EventKind = iota
	EventPhoto
	EventDocument
	EventVoice
	EventCallback
	// EventStart begins (or restarts) a submission.
	EventStart
	// EventCancel abandons the current submission.
	EventCancel
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventPhoto:
		return "photo"
	case EventDocument:
		return "document"
	case EventVoice:
		return "voice"
	case EventCallback:
		return "callback"
	case EventStart:
		return "start"
	case EventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Event is one user input as seen by the machine. UserID is the messaging
// platform id of the sender.
type Event struct {
	Kind         EventKind
	UserID       int64
	ChatID       int64
	Username     string
	Text         string
	File         *transport.File
	CallbackID   string
	CallbackData string
}

func (e Event) fromCallback() bool { return e.CallbackID != "" }

// FromUpdate classifies an inbound update. The cancel button and the
// cancel callback both become EventCancel.
func FromUpdate(up transport.Update) Event {
	ev := Event{
		UserID:   up.FromID,
		ChatID:   up.ChatID,
		Username: up.FromUsername,
		Text:     up.Text,
		File:     up.File,
	}
	switch up.Kind {
	case transport.UpdatePhoto:
		ev.Kind = EventPhoto
	case transport.UpdateDocument:
		ev.Kind = EventDocument
	case transport.UpdateVoice:
		ev.Kind = EventVoice
	case transport.UpdateCallback:
		ev.Kind = EventCallback
		if up.Callback != nil {
			ev.CallbackID = up.Callback.ID
			ev.CallbackData = up.Callback.Data
		}
		if ev.CallbackData == tgui.CallbackCancel {
			ev.Kind = EventCancel
		}
	default:
		ev.Kind = EventText
		if strings.TrimSpace(up.Text) == CancelText {
			ev.Kind = EventCancel
		}
	}
	return ev
}

type ReplyKind int

const (
	// ReplySend posts a new message to the chat.
	ReplySend ReplyKind = iota
	// ReplyEdit replaces the text of the message the callback came from.
	ReplyEdit
	// ReplyAnswer answers the callback query (toast or alert).
	ReplyAnswer
)

// Markup names the keyboard attached to a reply; rendering is up to the
// transport side.
type Markup int

const (
	MarkupNone Markup = iota
	MarkupMain
	MarkupCancel
	MarkupStages
)

type Reply struct {
	Kind   ReplyKind
	Text   string
	HTML   bool
	Markup Markup
	// Stages and ChangeProfile fill a MarkupStages keyboard.
	Stages        []storage.Stage
	ChangeProfile bool
	// Alert shows a ReplyAnswer as a modal alert.
	Alert bool
}

func send(text string, mk Markup) Reply { return Reply{Kind: ReplySend, Text: text, Markup: mk} }

func answer(text string, alert bool) Reply { return Reply{Kind: ReplyAnswer, Text: text, Alert: alert} }

func edit(text string) Reply { return Reply{Kind: ReplyEdit, Text: text} }
