package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/internal/guard"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// Request is one inbound update on its way through the middleware chain.
type Request struct {
	Update transport.Update
	Chat   transport.ChatTarget
	FromID int64
	ReqID  string
	Logger logx.Logger
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
			} else {
				req.Logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWAbuseGuard refuses events from flooding or blocked users before they
// reach any handler.
func MWAbuseGuard(g *guard.AbuseGuard, sender transport.Sender, now func() time.Time) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if g == nil {
				return next(ctx, req)
			}
			class := guard.ClassMessage
			if req.Update.Kind == transport.UpdateCallback {
				class = guard.ClassCallback
			}
			d := g.Check(ctx, req.FromID, class, now())
			if d.Allowed {
				return next(ctx, req)
			}
			req.Logger.Debug("event refused",
				logx.String("reason", string(d.Reason)),
				logx.Duration("remaining", d.Remaining),
			)
			return refuse(ctx, sender, req, guard.AbuseNotice(d, class))
		}
	}
}

// MWVolumeGuard caps uploaded attachments per user. Other updates pass
// through.
func MWVolumeGuard(g *guard.VolumeGuard, sender transport.Sender, now func() time.Time) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			up := req.Update
			if g == nil || !up.Kind.IsAttachment() || up.File == nil {
				return next(ctx, req)
			}
			d := g.Check(ctx, req.FromID, up.File.Size, now())
			if d.Allowed {
				return next(ctx, req)
			}
			req.Logger.Debug("upload refused",
				logx.String("reason", string(d.Reason)),
				logx.Int64("used_bytes", d.UsedBytes),
			)
			return refuse(ctx, sender, req, guard.VolumeNotice(d, g.Config()))
		}
	}
}

// refuse delivers a guard notice. Callbacks are always answered so the
// client stops waiting.
func refuse(ctx context.Context, sender transport.Sender, req *Request, n guard.Notice) error {
	if req.Update.Kind == transport.UpdateCallback && req.Update.Callback != nil {
		return sender.AnswerCallback(ctx, req.Update.Callback.ID, n.Text, n.Alert)
	}
	if n.Text == "" {
		return nil
	}
	_, err := sender.SendText(ctx, req.Chat, n.Text, nil)
	return err
}
