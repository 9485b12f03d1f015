package dispatch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// Run sends one job in the calling goroutine. Recipients are read once at
// the start. A failed send is counted and skipped. Cancelling ctx stops
// the loop and leaves the last checkpoint in place.
func (s *Service) Run(ctx context.Context, id int64) (Result, error) {
	start := time.Now()
	log := s.log.With(logx.Int64("broadcast_id", id))

	b, err := s.store.GetBroadcast(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("load job %d: %w", id, err)
	}
	if b.ImagePath != "" {
		if _, err := os.Stat(b.ImagePath); err != nil {
			log.Warn("image unavailable, sending text only", logx.String("path", b.ImagePath), logx.Err(err))
			b.ImagePath = ""
		}
	}

	recipients, err := s.store.ListRecipientIDs(ctx)
	if err != nil {
		log.Error("load recipients failed", logx.Err(err))
		if uerr := s.store.UpdateBroadcastProgress(ctx, id, storage.BroadcastProgress{Status: storage.BroadcastFailed}); uerr != nil {
			log.Error("mark failed", logx.Err(uerr))
		}
		s.publish(eventbus.DispatchFinished, id, storage.BroadcastFailed, Result{})
		return Result{}, fmt.Errorf("load recipients: %w", err)
	}

	res := Result{Total: len(recipients)}
	if err := s.checkpoint(ctx, id, storage.BroadcastSending, res, nil); err != nil {
		return res, err
	}
	log.Info("job started", logx.Int("total", res.Total))

	cfg := s.config()
	for i, chatID := range recipients {
		if err := s.limiter.Wait(ctx); err != nil {
			log.Warn("job interrupted", logx.Int("sent", res.Sent), logx.Int("failed", res.Failed), logx.Err(err))
			return res, err
		}
		if err := s.sendOne(ctx, b, chatID); err != nil {
			res.Failed++
			log.Warn("send failed", logx.Int64("chat_id", chatID), logx.Err(err))
		} else {
			res.Sent++
		}
		if (i+1)%cfg.BatchSize == 0 && i+1 < len(recipients) {
			if err := s.checkpoint(ctx, id, storage.BroadcastSending, res, nil); err != nil {
				log.Warn("checkpoint failed", logx.Err(err))
			}
		}
	}

	sentAt := s.now().UTC()
	if err := s.checkpoint(ctx, id, storage.BroadcastSent, res, &sentAt); err != nil {
		return res, err
	}

	fields := []logx.Field{
		logx.Int("total", res.Total),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if res.Failed > 0 {
		log.Warn("job finished with failures", fields...)
	} else {
		log.Info("job finished", fields...)
	}
	return res, nil
}

func (s *Service) sendOne(ctx context.Context, b storage.Broadcast, chatID int64) error {
	to := transport.ChatTarget{ChatID: chatID}
	opt := &transport.SendOptions{ParseMode: "HTML"}
	if b.ImagePath != "" {
		_, err := s.sender.SendPhoto(ctx, to, b.ImagePath, b.Text, opt)
		return err
	}
	_, err := s.sender.SendText(ctx, to, b.Text, opt)
	return err
}

func (s *Service) checkpoint(ctx context.Context, id int64, status storage.BroadcastStatus, res Result, sentAt *time.Time) error {
	err := s.store.UpdateBroadcastProgress(ctx, id, storage.BroadcastProgress{
		Status:      status,
		SentCount:   res.Sent,
		FailedCount: res.Failed,
		TotalCount:  res.Total,
		SentAt:      sentAt,
	})
	if err != nil {
		return fmt.Errorf("checkpoint job %d: %w", id, err)
	}
	typ := eventbus.DispatchProgress
	if status != storage.BroadcastSending {
		typ = eventbus.DispatchFinished
	}
	s.publish(typ, id, status, res)
	return nil
}

func (s *Service) publish(typ string, id int64, status storage.BroadcastStatus, res Result) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Time: s.now(),
		Data: eventbus.DispatchProgressData{
			BroadcastID: id,
			Status:      string(status),
			Sent:        res.Sent,
			Failed:      res.Failed,
			Total:       res.Total,
		},
	})
}
