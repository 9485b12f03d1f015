package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
	to    []transport.ChatTarget
	calls int
	got   chan struct{}
}

func newFakeSender(fails int) *fakeSender {
	return &fakeSender{fails: fails, got: make(chan struct{}, 16)}
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return transport.MessageRef{}, errors.New("boom")
	}
	f.sent = append(f.sent, text)
	f.to = append(f.to, to)
	f.got <- struct{}{}
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) SendPhoto(context.Context, transport.ChatTarget, string, string, *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}

func (f *fakeSender) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}

func (f *fakeSender) AnswerCallback(context.Context, string, string, bool) error { return nil }

func (f *fakeSender) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.got:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for send")
	}
}

func testConfig() Config {
	return Config{Enabled: true, RatePerSec: 1000, RetryMax: 2, DedupWindow: time.Minute}
}

func newTestService(t *testing.T, sender transport.Sender, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(testConfig(), sender, bus, logx.Nop())
	s.sleep = func(context.Context, time.Duration) error { return nil }
	s.SetTarget(transport.ChatTarget{ChatID: -1001, ThreadID: 7})
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestSubmissionEventReachesAdminChat(t *testing.T) {
	bus := eventbus.New()
	sender := newFakeSender(0)
	newTestService(t, sender, bus)

	// let the subscription register
	time.Sleep(50 * time.Millisecond)
	bus.Publish(eventbus.Event{Type: eventbus.SubmissionCreated, Data: eventbus.SubmissionCreatedData{
		SubmissionID: 42,
		TelegramID:   100,
		Username:     "ivan",
		FullName:     "Иванов Иван",
		City:         "Казань",
		School:       "Лицей <1>",
		Grade:        "9",
		StageName:    "Этап 1",
		FileCount:    3,
		StoredFiles:  3,
		CommentText:  "комментарий",
	}})
	sender.wait(t)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	text := sender.sent[0]
	for _, want := range []string{"Новая заявка #42", `<a href="tg://user?id=100">@ivan</a>`, "<b>Иванов Иван</b>", "Лицей &lt;1&gt;", "комментарий"} {
		if !strings.Contains(text, want) {
			t.Fatalf("notice %q missing %q", text, want)
		}
	}
	if got := sender.to[0]; got.ChatID != -1001 || got.ThreadID != 7 {
		t.Fatalf("target = %+v, want -1001:7", got)
	}
}

func TestNotifyRetriesThenDelivers(t *testing.T) {
	sender := newFakeSender(2)
	s := newTestService(t, sender, nil)

	if err := s.Notify(context.Background(), Notice{Key: "k", Text: "hello"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	sender.wait(t)
	sender.mu.Lock()
	calls := sender.calls
	sender.mu.Unlock()
	if calls != 3 {
		t.Fatalf("send calls = %d, want 3", calls)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].Text != "hello" {
		t.Fatalf("history = %+v, want one hello", h)
	}
}

func TestNotifyDedup(t *testing.T) {
	sender := newFakeSender(0)
	s := newTestService(t, sender, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Notify(ctx, Notice{Key: "submission:1", Text: "x"}); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}
	if err := s.Notify(ctx, Notice{Key: "submission:2", Text: "y"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	sender.wait(t)
	sender.wait(t)
	time.Sleep(50 * time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 2 {
		t.Fatalf("sent = %v, want 2 notices", sender.sent)
	}
}

func TestNotifyRefusals(t *testing.T) {
	ctx := context.Background()

	disabled := New(Config{}, newFakeSender(0), nil, logx.Nop())
	if err := disabled.Notify(ctx, Notice{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Notify() error = %v, want ErrDisabled", err)
	}

	s := New(testConfig(), newFakeSender(0), nil, logx.Nop())
	if err := s.Notify(ctx, Notice{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started Notify() error = %v, want ErrStopped", err)
	}
	s.Start(ctx)
	defer s.Stop(ctx)
	if err := s.Notify(ctx, Notice{Text: "x"}); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("no target Notify() error = %v, want ErrNoTarget", err)
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name    string
		ev      eventbus.Event
		ok      bool
		wantKey string
	}{
		{"dispatch finished", eventbus.Event{Type: eventbus.DispatchFinished, Data: eventbus.DispatchProgressData{BroadcastID: 3, Status: "sent", Sent: 9, Total: 10, Failed: 1}}, true, "dispatch:3:sent"},
		{"backup", eventbus.Event{Type: eventbus.BackupCreated, Data: "/b/x.db"}, true, "backup:/b/x.db"},
		{"progress ignored", eventbus.Event{Type: eventbus.DispatchProgress, Data: eventbus.DispatchProgressData{}}, false, ""},
		{"wrong payload", eventbus.Event{Type: eventbus.SubmissionCreated, Data: "nope"}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := FormatEvent(tt.ev)
			if ok != tt.ok || n.Key != tt.wantKey {
				t.Fatalf("FormatEvent() = (%q, %v), want (%q, %v)", n.Key, ok, tt.wantKey, tt.ok)
			}
		})
	}
}

func TestFormatEventMarkup(t *testing.T) {
	n, _ := FormatEvent(eventbus.Event{Type: eventbus.BackupCreated, Data: "/b/x_<1>.db"})
	if !n.HTML || !strings.Contains(n.Text, "<code>/b/x_&lt;1&gt;.db</code>") {
		t.Fatalf("backup notice = (%q, html=%v), want escaped <code> path", n.Text, n.HTML)
	}

	n, _ = FormatEvent(eventbus.Event{Type: eventbus.SubmissionCreated, Data: eventbus.SubmissionCreatedData{
		SubmissionID: 7,
		TelegramID:   555,
		FullName:     "Петрова Анна",
		HasVoice:     true,
	}})
	for _, want := range []string{`<a href="tg://user?id=555">Петрова Анна</a>`, "<i>🎤 голосовое</i>"} {
		if !strings.Contains(n.Text, want) {
			t.Fatalf("submission notice %q missing %q", n.Text, want)
		}
	}
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}.withDefaults()
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("retryDelay(%d) = %v, want (0, 1s]", attempt, d)
		}
	}
}
