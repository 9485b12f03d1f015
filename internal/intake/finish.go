package intake

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// finish stores the submission. File relocation is best effort: failed
// files are logged and left out of FilePaths. A failed record write keeps
// the session so the comment can be resent.
func (m *Machine) finish(ctx context.Context, s *Session, ev Event) []Reply {
	var out []Reply
	saving := send(textSaving, MarkupNone)
	m.mu.RLock()
	notify := m.notify
	m.mu.RUnlock()
	if notify != nil {
		notify(ctx, ev, saving)
	} else {
		out = append(out, saving)
	}

	log := m.log.With(logx.Int64("user_id", ev.UserID), logx.Int64("stage_id", s.StageID))

	if err := m.store.UpdateProfile(ctx, s.UserID, s.Profile); err != nil {
		log.Error("update profile failed", logx.Err(err))
	}

	paths, voicePath := m.relocate(ctx, s, ev, log)

	fileIDs := make([]string, len(s.Files))
	for i, f := range s.Files {
		fileIDs[i] = f.FileID
	}
	sub, err := m.store.CreateSubmission(ctx, storage.Submission{
		UserID:      s.UserID,
		StageID:     s.StageID,
		FileIDs:     fileIDs,
		FilePaths:   paths,
		CommentText: s.CommentText,
		VoiceFileID: s.VoiceFileID,
		VoicePath:   voicePath,
		Status:      storage.SubmissionPending,
	})
	if err != nil {
		log.Error("create submission failed", logx.Err(err))
		return append(out, send(textSaveFail, MarkupNone))
	}
	log.Info("submission created",
		logx.Int64("submission_id", sub.ID),
		logx.Int("files", len(fileIDs)),
		logx.Int("stored", len(paths)),
		logx.Bool("voice", s.VoiceFileID != ""),
	)

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{
			Type: eventbus.SubmissionCreated,
			Time: m.now(),
			Data: eventbus.SubmissionCreatedData{
				SubmissionID: sub.ID,
				UserID:       s.UserID,
				TelegramID:   ev.UserID,
				Username:     ev.Username,
				FullName:     s.Profile.FullName,
				City:         s.Profile.City,
				School:       s.Profile.School,
				Grade:        s.Profile.Grade,
				StageName:    s.StageName,
				FileCount:    len(fileIDs),
				StoredFiles:  len(paths),
				HasVoice:     s.VoiceFileID != "",
				CommentText:  s.CommentText,
			},
		})
	}

	*s = Session{State: Idle}
	return append(out, send(textFinish, MarkupMain))
}

// relocate downloads every attachment (and the voice comment) and saves it
// in the file store. Paths keep attachment order; failures leave gaps that
// are dropped.
func (m *Machine) relocate(ctx context.Context, s *Session, ev Event, log logx.Logger) ([]string, string) {
	if m.dl == nil || m.files == nil {
		return nil, ""
	}
	namespace := ev.Username
	if namespace == "" {
		namespace = strconv.FormatInt(ev.UserID, 10)
	}

	slots := make([]string, len(s.Files))
	var voice string

	var g errgroup.Group
	g.SetLimit(m.Config().Workers)
	for i, f := range s.Files {
		name := fmt.Sprintf("stage%d_file%d%s", s.StageID, i+1, f.Ext)
		g.Go(func() error {
			ref, err := m.storeFile(ctx, namespace, name, f.FileID)
			if err != nil {
				log.Warn("store attachment failed", logx.String("file_id", f.FileID), logx.Err(err))
				return nil
			}
			slots[i] = ref
			return nil
		})
	}
	if s.VoiceFileID != "" {
		name := fmt.Sprintf("stage%d_comment.ogg", s.StageID)
		g.Go(func() error {
			ref, err := m.storeFile(ctx, namespace, name, s.VoiceFileID)
			if err != nil {
				log.Warn("store voice failed", logx.String("file_id", s.VoiceFileID), logx.Err(err))
				return nil
			}
			voice = ref
			return nil
		})
	}
	_ = g.Wait()

	paths := make([]string, 0, len(slots))
	for _, p := range slots {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths, voice
}

const downloadTimeout = time.Minute

func (m *Machine) storeFile(ctx context.Context, namespace, name, fileID string) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	data, err := m.dl.Download(dctx, fileID)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	return m.files.Save(ctx, namespace, name, data)
}
