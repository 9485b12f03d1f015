package intake

import (
	"context"
	"path"
	"strings"
	"time"
)

var imageExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// attachmentFrom classifies a photo or document. ok is false for documents
// that are neither images nor PDF.
func attachmentFrom(ev Event) (Attachment, bool) {
	f := ev.File
	a := Attachment{FileID: f.FileID, UniqueID: f.UniqueID, Size: f.Size}
	if ev.Kind == EventPhoto {
		a.Kind = AttachmentPhoto
		a.Ext = ".jpg"
		return a, true
	}
	a.Name = f.FileName
	ext := strings.ToLower(path.Ext(f.FileName))
	switch {
	case ext == ".pdf":
		a.Kind = AttachmentDocument
		a.Ext = ".pdf"
	case imageExt[ext]:
		a.Kind = AttachmentPhoto
		a.Ext = ext
	default:
		return Attachment{}, false
	}
	return a, true
}

// onAttachment accumulates a file. In CollectingFiles reaching the minimum
// advances to CollectingComment; in CollectingComment the state holds.
func (m *Machine) onAttachment(_ context.Context, s *Session, ev Event) []Reply {
	cfg := m.Config()
	inComment := s.State == CollectingComment

	if len(s.Files) >= cfg.MaxFiles {
		if inComment {
			return []Reply{send(textCommentCountExceeded(cfg.MaxFiles), MarkupNone)}
		}
		return []Reply{send(textCountExceeded(cfg.MaxFiles), MarkupNone)}
	}
	if ev.File == nil {
		return []Reply{send(textNotAttachment, MarkupNone)}
	}
	a, ok := attachmentFrom(ev)
	if !ok {
		return []Reply{send(textWrongFormat, MarkupNone)}
	}
	if a.Size > cfg.MaxFileBytes {
		return []Reply{send(textTooLarge(cfg), MarkupNone)}
	}
	s.Files = append(s.Files, a)
	n := len(s.Files)

	if inComment {
		if n < cfg.MaxFiles {
			return []Reply{send(textExtraFile(n, cfg.MaxFiles), MarkupNone)}
		}
		return []Reply{send(textExtraAll(cfg.MaxFiles), MarkupNone)}
	}
	if n < cfg.MinFiles {
		return []Reply{send(textNeedMore(n, cfg.MaxFiles, cfg.MinFiles-n), MarkupNone)}
	}
	s.State = CollectingComment
	status := textEnough(n, cfg.MaxFiles)
	if n >= cfg.MaxFiles {
		status = textAllFiles(cfg.MaxFiles)
	}
	return []Reply{send(status, MarkupNone), send(textAskComment, MarkupNone)}
}

func (m *Machine) onNeedFiles(_ context.Context, _ *Session, _ Event) []Reply {
	return []Reply{send(textNotAttachment, MarkupNone)}
}

// onEarlyComment takes text or voice sent while still collecting files as
// the comment, once enough files are in.
func (m *Machine) onEarlyComment(ctx context.Context, s *Session, ev Event) []Reply {
	s.State = CollectingComment
	return m.onComment(ctx, s, ev)
}

func (m *Machine) onComment(ctx context.Context, s *Session, ev Event) []Reply {
	switch ev.Kind {
	case EventVoice:
		if ev.File == nil {
			return []Reply{send(textAskComment, MarkupNone)}
		}
		if time.Duration(ev.File.Duration)*time.Second > m.Config().MaxVoiceDuration {
			return []Reply{send(textVoiceTooLong, MarkupNone)}
		}
		s.VoiceFileID = ev.File.FileID
		s.CommentText = ""
	default:
		if strings.TrimSpace(ev.Text) == "" {
			return []Reply{send(textAskComment, MarkupNone)}
		}
		s.CommentText = ev.Text
		s.VoiceFileID = ""
	}
	return m.finish(ctx, s, ev)
}
