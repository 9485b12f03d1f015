package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
	"github.com/clover2di/tochkavnimanie-bot/pkg/tgui"
)

// MyWorks lists the submissions of a user, newest first.
func (m *Machine) MyWorks(ctx context.Context, telegramID int64) Reply {
	user, err := m.store.GetUserByTelegramID(ctx, telegramID)
	if errors.Is(err, storage.ErrNotFound) {
		return send(textNoWorks, MarkupMain)
	}
	if err != nil {
		m.log.Error("load user failed", logx.Int64("user_id", telegramID), logx.Err(err))
		return send(textInternal, MarkupMain)
	}
	subs, err := m.store.ListUserSubmissions(ctx, user.ID)
	if err != nil {
		m.log.Error("list submissions failed", logx.Int64("user_id", telegramID), logx.Err(err))
		return send(textInternal, MarkupMain)
	}
	if len(subs) == 0 {
		return send(textNoWorksHint, MarkupMain)
	}

	loc := m.Config().Location
	var b strings.Builder
	b.WriteString(textWorksHeader)
	for i, s := range subs {
		comment := "нет"
		switch {
		case s.CommentText != "":
			comment = "📝 текст"
		case s.VoiceFileID != "":
			comment = "🎤 голосовое"
		}
		fmt.Fprintf(&b, "<b>%d. %s</b>\n   📎 Файлов: %d\n   💬 Комментарий: %s\n   📅 Дата: %s\n\n",
			i+1, tgui.Esc(s.StageName), len(s.FileIDs), comment, s.CreatedAt.In(loc).Format("02.01.2006 15:04"))
	}
	return Reply{Kind: ReplySend, Text: b.String(), HTML: true, Markup: MarkupMain}
}
