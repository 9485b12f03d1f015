package router

import (
	"context"
	"errors"

	"github.com/clover2di/tochkavnimanie-bot/internal/intake"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// render delivers machine replies in order. A failed send is logged and
// the remaining replies are still attempted.
func (r *Router) render(ctx context.Context, up transport.Update, replies []intake.Reply) error {
	var errs []error
	for _, rep := range replies {
		if err := r.deliver(ctx, up, rep); err != nil {
			r.log.Warn("reply failed",
				logx.Int64("chat_id", up.ChatID),
				logx.Int("reply_kind", int(rep.Kind)),
				logx.Err(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) deliver(ctx context.Context, up transport.Update, rep intake.Reply) error {
	opt := &transport.SendOptions{ReplyMarkupAdapter: markupFor(rep), DisablePreview: true}
	if rep.HTML {
		opt.ParseMode = "HTML"
	}
	switch rep.Kind {
	case intake.ReplyAnswer:
		if up.Callback == nil {
			return nil
		}
		return r.d.Sender.AnswerCallback(ctx, up.Callback.ID, rep.Text, rep.Alert)
	case intake.ReplyEdit:
		if up.Callback == nil || up.Callback.MessageID == 0 {
			// not from a callback; fall back to a new message
			_, err := r.d.Sender.SendText(ctx, transport.ChatTarget{ChatID: up.ChatID}, rep.Text, opt)
			return err
		}
		// edits cannot carry reply keyboards
		opt.ReplyMarkupAdapter = nil
		return r.d.Sender.EditText(ctx, transport.MessageRef{ChatID: up.ChatID, MessageID: up.Callback.MessageID}, rep.Text, opt)
	default:
		_, err := r.d.Sender.SendText(ctx, transport.ChatTarget{ChatID: up.ChatID}, rep.Text, opt)
		return err
	}
}

// notify sends an interim reply while the machine is still working.
func (r *Router) notify(ctx context.Context, ev intake.Event, rep intake.Reply) {
	up := transport.Update{ChatID: ev.ChatID, FromID: ev.UserID}
	if ev.CallbackID != "" {
		up.Callback = &transport.Callback{ID: ev.CallbackID}
	}
	if err := r.deliver(ctx, up, rep); err != nil {
		r.log.Warn("notice failed", logx.Int64("chat_id", ev.ChatID), logx.Err(err))
	}
}
