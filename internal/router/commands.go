package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clover2di/tochkavnimanie-bot/internal/dispatch"
	"github.com/clover2di/tochkavnimanie-bot/internal/intake"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
	"github.com/clover2di/tochkavnimanie-bot/pkg/tgui"
)

const (
	textInfo = "ℹ️ <b>«Точка внимания»</b>\n\nВсероссийский дизайн-челлендж среди школьников.\n" +
		"Задания публикуются по этапам, ответ на каждый этап отправляется через «📝 Подать заявку»."
	textHelp = "❓ <b>Как подать заявку</b>\n\n" +
		"1. Нажми «📝 Подать заявку».\n" +
		"2. Заполни данные о себе: ФИО, город, школу и класс.\n" +
		"3. Выбери этап.\n" +
		"4. Отправь фотографии или PDF-файлы с работой.\n" +
		"5. Добавь голосовой или текстовый комментарий.\n\n" +
		"/start начать сначала, /menu показать меню, /my_works мои заявки."

	textBroadcastUsage  = "Использование: /broadcast_new <текст> (можно подписью к фото)"
	textBroadcastIDHint = "Укажите номер рассылки, например: %s 12"
	textOpened          = "✅ Приём заявок открыт."
	textClosedAdmin     = "⛔️ Приём заявок закрыт."
)

// Command names published to the client menu.
var UserCommands = []struct{ Name, Description string }{
	{"start", "Начать"},
	{"menu", "Главное меню"},
	{"my_works", "Мои работы"},
	{"help", "Помощь"},
}

// parseCommand splits "/cmd@bot args" into ("cmd", "args").
func parseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// handle is the end of the middleware chain.
func (r *Router) handle(ctx context.Context, req *Request) error {
	up := req.Update
	owner := r.isOwner(req.FromID)

	if cmd, args, ok := parseCommand(up.Text); ok && (up.Kind == transport.UpdateText || owner) {
		if done, err := r.command(ctx, req, cmd, args, owner); done {
			return err
		}
	}

	if up.Kind == transport.UpdateText {
		switch strings.TrimSpace(up.Text) {
		case BtnSubmit:
			ev := intake.FromUpdate(up)
			ev.Kind = intake.EventStart
			return r.runMachine(ctx, up, ev)
		case BtnWorks, BtnInfo, BtnHelp:
			// inside a submission these are ordinary answers
			if r.d.Machine.State(req.FromID) == intake.Idle {
				return r.menuAction(ctx, req, strings.TrimSpace(up.Text))
			}
		}
	}
	return r.runMachine(ctx, up, intake.FromUpdate(up))
}

func (r *Router) runMachine(ctx context.Context, up transport.Update, ev intake.Event) error {
	replies, err := r.d.Machine.Handle(ctx, ev)
	if rerr := r.render(ctx, up, replies); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// command runs a slash command. done is false when the text should fall
// through to the conversation.
func (r *Router) command(ctx context.Context, req *Request, cmd, args string, owner bool) (done bool, err error) {
	switch cmd {
	case "start":
		return true, r.start(ctx, req)
	case "menu":
		return true, r.sendMain(ctx, req, intake.TextMenu, false)
	case "my_works":
		return true, r.menuAction(ctx, req, BtnWorks)
	case "help":
		return true, r.menuAction(ctx, req, BtnHelp)
	case "info":
		return true, r.menuAction(ctx, req, BtnInfo)
	}
	if !owner {
		return false, nil
	}
	switch cmd {
	case "broadcast_new":
		return true, r.broadcastNew(ctx, req, args)
	case "broadcast_send":
		return true, r.broadcastSend(ctx, req, args)
	case "broadcast_status":
		return true, r.broadcastStatus(ctx, req, args)
	case "open":
		return true, r.setAccepting(ctx, req, true)
	case "close":
		return true, r.setAccepting(ctx, req, false)
	}
	return false, nil
}

// start drops any unfinished submission, registers the user and greets them.
func (r *Router) start(ctx context.Context, req *Request) error {
	r.d.Machine.Reset(req.FromID)
	if _, err := r.d.Store.GetOrCreateUser(ctx, req.FromID, req.Update.FromUsername); err != nil {
		req.Logger.Warn("register user failed", logx.Err(err))
	}
	text := intake.TextGreeting
	if v, err := r.d.Store.GetSetting(ctx, storage.SettingWelcomeMessage); err == nil && strings.TrimSpace(v) != "" {
		text = v
	}
	return r.sendMain(ctx, req, text, false)
}

func (r *Router) menuAction(ctx context.Context, req *Request, btn string) error {
	switch btn {
	case BtnWorks:
		rep := r.d.Machine.MyWorks(ctx, req.FromID)
		return r.render(ctx, req.Update, []intake.Reply{rep})
	case BtnInfo:
		text := textInfo
		if v, err := r.d.Store.GetSetting(ctx, storage.SettingInfoMessage); err == nil && strings.TrimSpace(v) != "" {
			text = v
		}
		return r.sendMain(ctx, req, text, true)
	default:
		return r.sendMain(ctx, req, textHelp, true)
	}
}

func (r *Router) sendMain(ctx context.Context, req *Request, text string, html bool) error {
	return r.render(ctx, req.Update, []intake.Reply{{
		Kind:   intake.ReplySend,
		Text:   text,
		HTML:   html,
		Markup: intake.MarkupMain,
	}})
}

func (r *Router) reply(ctx context.Context, req *Request, text string) error {
	return r.render(ctx, req.Update, []intake.Reply{{Kind: intake.ReplySend, Text: text}})
}

// broadcastNew creates a draft. A photo with the command as caption
// becomes the broadcast image.
func (r *Router) broadcastNew(ctx context.Context, req *Request, text string) error {
	if text == "" {
		return r.reply(ctx, req, textBroadcastUsage)
	}
	var image string
	if up := req.Update; up.Kind == transport.UpdatePhoto && up.File != nil {
		if r.d.Images == nil || r.d.Downloader == nil {
			return r.reply(ctx, req, "❗️ Изображения для рассылки не поддерживаются.")
		}
		data, err := r.d.Downloader.Download(ctx, up.File.FileID)
		if err != nil {
			req.Logger.Warn("download broadcast image failed", logx.Err(err))
			return r.reply(ctx, req, "❗️ Не удалось загрузить изображение.")
		}
		ext := strings.ToLower(filepath.Ext(up.File.FileName))
		if ext == "" {
			ext = ".jpg"
		}
		image, err = r.d.Images.SaveBroadcastImage(ext, data)
		if err != nil {
			req.Logger.Warn("save broadcast image failed", logx.Err(err))
			return r.reply(ctx, req, "❗️ Не удалось сохранить изображение.")
		}
	}
	b, err := r.d.Store.CreateBroadcast(ctx, text, image)
	if err != nil {
		return fmt.Errorf("create broadcast: %w", err)
	}
	req.Logger.Info("broadcast created", logx.Int64("broadcast_id", b.ID), logx.Bool("image", image != ""))
	return r.reply(ctx, req, fmt.Sprintf("📝 Рассылка #%d создана. Отправить: /broadcast_send %d", b.ID, b.ID))
}

func (r *Router) broadcastSend(ctx context.Context, req *Request, args string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || id <= 0 {
		return r.reply(ctx, req, fmt.Sprintf(textBroadcastIDHint, "/broadcast_send"))
	}
	if r.d.Dispatch == nil {
		return r.reply(ctx, req, "❗️ Рассылка недоступна.")
	}
	switch err := r.d.Dispatch.Enqueue(ctx, id); {
	case err == nil:
		return r.reply(ctx, req, fmt.Sprintf("🚀 Рассылка #%d поставлена в очередь.", id))
	case errors.Is(err, dispatch.ErrUnknownJob):
		return r.reply(ctx, req, fmt.Sprintf("ℹ️ Рассылка #%d не найдена.", id))
	case errors.Is(err, dispatch.ErrAlreadySending), errors.Is(err, dispatch.ErrAlreadyQueued):
		return r.reply(ctx, req, fmt.Sprintf("ℹ️ Рассылка #%d уже отправляется.", id))
	case errors.Is(err, dispatch.ErrQueueFull):
		return r.reply(ctx, req, "ℹ️ Очередь рассылок заполнена, попробуйте позже.")
	default:
		return fmt.Errorf("enqueue broadcast %d: %w", id, err)
	}
}

func (r *Router) broadcastStatus(ctx context.Context, req *Request, args string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || id <= 0 {
		return r.reply(ctx, req, fmt.Sprintf(textBroadcastIDHint, "/broadcast_status"))
	}
	b, err := r.d.Store.GetBroadcast(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return r.reply(ctx, req, fmt.Sprintf("ℹ️ Рассылка #%d не найдена.", id))
	}
	if err != nil {
		return fmt.Errorf("get broadcast %d: %w", id, err)
	}
	return r.render(ctx, req.Update, []intake.Reply{{
		Kind: intake.ReplySend,
		HTML: true,
		Text: tgui.JoinH("\n",
			tgui.B(fmt.Sprintf("Рассылка #%d", b.ID)),
			tgui.Esc("Статус: "+string(b.Status)),
			tgui.Esc(fmt.Sprintf("Отправлено: %d из %d, ошибок: %d", b.SentCount, b.TotalCount, b.FailedCount)),
		).String(),
	}})
}

func (r *Router) setAccepting(ctx context.Context, req *Request, open bool) error {
	if err := r.d.Store.SetSetting(ctx, storage.SettingAcceptingApplications, strconv.FormatBool(open)); err != nil {
		return fmt.Errorf("set accepting: %w", err)
	}
	req.Logger.Info("accepting applications changed", logx.Bool("open", open))
	if open {
		return r.reply(ctx, req, textOpened)
	}
	return r.reply(ctx, req, textClosedAdmin)
}
