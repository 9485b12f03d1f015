package notifier

import (
	"fmt"
	"strconv"

	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
	"github.com/clover2di/tochkavnimanie-bot/pkg/tgui"
)

const commentPreviewRunes = 300

// FormatEvent renders the bus events worth an operator's attention.
func FormatEvent(e eventbus.Event) (Notice, bool) {
	switch e.Type {
	case eventbus.SubmissionCreated:
		d, ok := e.Data.(eventbus.SubmissionCreatedData)
		if !ok {
			return Notice{}, false
		}
		return Notice{Key: "submission:" + strconv.FormatInt(d.SubmissionID, 10), Text: submissionText(d), HTML: true}, true
	case eventbus.DispatchFinished:
		d, ok := e.Data.(eventbus.DispatchProgressData)
		if !ok {
			return Notice{}, false
		}
		text := tgui.JoinH("\n",
			tgui.B(fmt.Sprintf("📣 Рассылка #%d завершена", d.BroadcastID)),
			tgui.Esc(fmt.Sprintf("Статус: %s", d.Status)),
			tgui.Esc(fmt.Sprintf("Отправлено: %d из %d, ошибок: %d", d.Sent, d.Total, d.Failed)),
		)
		return Notice{Key: "dispatch:" + strconv.FormatInt(d.BroadcastID, 10) + ":" + d.Status, Text: text.String(), HTML: true}, true
	case eventbus.BackupCreated:
		path, ok := e.Data.(string)
		if !ok {
			return Notice{}, false
		}
		text := tgui.Esc("💾 Резервная копия создана: ") + tgui.Code(path)
		return Notice{Key: "backup:" + path, Text: text.String(), HTML: true}, true
	}
	return Notice{}, false
}

func submissionText(d eventbus.SubmissionCreatedData) string {
	name := d.FullName
	if d.Username != "" {
		name = "@" + d.Username
	}
	if name == "" {
		name = strconv.FormatInt(d.TelegramID, 10)
	}
	field := func(label, v string) tgui.H {
		return tgui.Raw(label + ": " + tgui.B(v).String())
	}
	parts := []tgui.H{
		tgui.B(fmt.Sprintf("🎯 Новая заявка #%d", d.SubmissionID)) + "\n",
		tgui.Esc("Пользователь: ") + tgui.Mention(name, d.TelegramID),
		field("ФИО", d.FullName),
		field("Город/поселок", d.City),
		field("Школа", d.School),
		field("Класс", d.Grade),
		field("Этап", d.StageName),
		tgui.Esc(fmt.Sprintf("Файлы: %d (сохранено %d)", d.FileCount, d.StoredFiles)),
	}
	switch {
	case d.HasVoice:
		parts = append(parts, tgui.Esc("Комментарий: ")+tgui.I("🎤 голосовое"))
	case d.CommentText != "":
		parts = append(parts, tgui.Raw("Комментарий:"), tgui.Quote(tgui.TruncRunes(d.CommentText, commentPreviewRunes)))
	}
	return tgui.JoinH("\n", parts...).String()
}
