package intake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
	"github.com/clover2di/tochkavnimanie-bot/pkg/tgui"
)

const uid = int64(777)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fakeDownloader struct {
	mu   sync.Mutex
	fail map[string]bool
}

func (d *fakeDownloader) Download(_ context.Context, fileID string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[fileID] {
		return nil, errors.New("telegram: file is unavailable")
	}
	return []byte("bytes:" + fileID), nil
}

type memFiles struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (f *memFiles) Save(_ context.Context, namespace, name string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := "/uploads/@" + namespace + "/" + name
	f.saved[ref] = data
	return ref, nil
}

type harness struct {
	m     *Machine
	store storage.Store
	files *memFiles
	dl    *fakeDownloader
	bus   eventbus.Bus
	stage storage.Stage
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: storage.NewMemory(),
		files: &memFiles{saved: map[string][]byte{}},
		dl:    &fakeDownloader{fail: map[string]bool{}},
		bus:   eventbus.New(),
	}
	h.m = NewMachine(Deps{
		Store:      h.store,
		Files:      h.files,
		Downloader: h.dl,
		Bus:        h.bus,
		Log:        logx.Nop(),
	}, Config{Location: time.UTC})
	h.m.now = func() time.Time { return now }

	past, future := now.Add(-time.Hour), now.Add(time.Hour)
	st, err := h.store.CreateStage(context.Background(), storage.Stage{Name: "Этап 1", IsActive: true, StartAt: &past, Deadline: &future})
	if err != nil {
		t.Fatal(err)
	}
	h.stage = st
	return h
}

func (h *harness) do(t *testing.T, ev Event) []Reply {
	t.Helper()
	if ev.UserID == 0 {
		ev.UserID = uid
	}
	ev.ChatID = ev.UserID
	out, err := h.m.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle(%s) error = %v", ev.Kind, err)
	}
	return out
}

func (h *harness) wantState(t *testing.T, want State) {
	t.Helper()
	if got := h.m.State(uid); got != want {
		t.Fatalf("state = %s, want %s", got, want)
	}
}

func text(s string) Event { return Event{Kind: EventText, Text: s, Username: "ivan"} }

func photo(id string) Event {
	return Event{Kind: EventPhoto, Username: "ivan", File: &transport.File{FileID: id, UniqueID: "u" + id, Size: 1024}}
}

func doc(id, name string, size int64) Event {
	return Event{Kind: EventDocument, Username: "ivan", File: &transport.File{FileID: id, FileName: name, Size: size}}
}

func voice(id string, seconds int) Event {
	return Event{Kind: EventVoice, Username: "ivan", File: &transport.File{FileID: id, Duration: seconds}}
}

func callback(data string) Event {
	return Event{Kind: EventCallback, CallbackID: "cb1", CallbackData: data}
}

func lastText(out []Reply) string {
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Kind == ReplySend {
			return out[i].Text
		}
	}
	return ""
}

func answerOf(out []Reply) (Reply, bool) {
	for _, r := range out {
		if r.Kind == ReplyAnswer {
			return r, true
		}
	}
	return Reply{}, false
}

// fillProfile drives a new user up to stage selection.
func (h *harness) fillProfile(t *testing.T) {
	t.Helper()
	h.do(t, Event{Kind: EventStart, Username: "ivan"})
	h.wantState(t, CollectingName)
	for _, in := range []string{"иванов иван", "москва", "Школа №5", "10a"} {
		h.do(t, text(in))
	}
	h.wantState(t, SelectingStage)
}

func (h *harness) chooseStage(t *testing.T) {
	t.Helper()
	h.do(t, callback(tgui.StageData(h.stage.ID)))
	h.wantState(t, CollectingFiles)
}

func TestFullSubmission(t *testing.T) {
	h := newHarness(t)
	events, unsub := h.bus.Subscribe(4)
	defer unsub()

	h.fillProfile(t)
	h.chooseStage(t)

	for i, id := range []string{"p1", "p2"} {
		out := h.do(t, photo(id))
		want := textNeedMore(i+1, 5, 3-(i+1))
		if got := lastText(out); got != want {
			t.Fatalf("reply = %q, want %q", got, want)
		}
	}

	// Below the minimum a comment is refused.
	out := h.do(t, text("готово"))
	if got := lastText(out); got != textNotAttachment {
		t.Fatalf("reply = %q, want %q", got, textNotAttachment)
	}
	h.wantState(t, CollectingFiles)

	out = h.do(t, doc("d3", "Work.PDF", 2048))
	if got := out[0].Text; got != textEnough(3, 5) {
		t.Fatalf("status = %q, want %q", got, textEnough(3, 5))
	}
	h.wantState(t, CollectingComment)

	out = h.do(t, text("мой комментарий"))
	if out[0].Text != textSaving || lastText(out) != textFinish || out[len(out)-1].Markup != MarkupMain {
		t.Fatalf("finish replies = %+v", out)
	}
	h.wantState(t, Idle)

	ctx := context.Background()
	user, err := h.store.GetUserByTelegramID(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	want := storage.Profile{FullName: "Иванов Иван", City: "Москва", School: "Школа № 5", Grade: "10A"}
	if user.Profile != want {
		t.Fatalf("profile = %+v, want %+v", user.Profile, want)
	}

	subs, err := h.store.ListUserSubmissions(ctx, user.ID)
	if err != nil || len(subs) != 1 {
		t.Fatalf("submissions = %v, %v", subs, err)
	}
	s := subs[0]
	if strings.Join(s.FileIDs, ",") != "p1,p2,d3" {
		t.Fatalf("file ids = %v", s.FileIDs)
	}
	wantPaths := []string{
		"/uploads/@ivan/stage1_file1.jpg",
		"/uploads/@ivan/stage1_file2.jpg",
		"/uploads/@ivan/stage1_file3.pdf",
	}
	if strings.Join(s.FilePaths, ",") != strings.Join(wantPaths, ",") {
		t.Fatalf("paths = %v, want %v", s.FilePaths, wantPaths)
	}
	if s.CommentText != "мой комментарий" || s.VoiceFileID != "" || s.StageName != "Этап 1" {
		t.Fatalf("submission = %+v", s)
	}

	select {
	case e := <-events:
		d, ok := e.Data.(eventbus.SubmissionCreatedData)
		if e.Type != eventbus.SubmissionCreated || !ok || d.FileCount != 3 || d.StoredFiles != 3 || d.FullName != "Иванов Иван" {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no submission event")
	}
}

func TestValidationKeepsState(t *testing.T) {
	h := newHarness(t)
	h.do(t, Event{Kind: EventStart})
	out := h.do(t, text("Ян"))
	if got := lastText(out); !strings.HasPrefix(got, "❌") {
		t.Fatalf("reply = %q, want rejection", got)
	}
	h.wantState(t, CollectingName)

	h.do(t, text("иванов иван"))
	h.do(t, text("москва"))
	h.do(t, text("Школа 1"))
	out = h.do(t, text("12"))
	if got := lastText(out); got == textAskStage {
		t.Fatalf("grade 12 accepted")
	}
	h.wantState(t, CollectingGrade)

	// Photos are not field input; the prompt repeats.
	out = h.do(t, photo("p"))
	if got := lastText(out); got != textAskGrade {
		t.Fatalf("reply = %q, want %q", got, textAskGrade)
	}
}

func TestStageChoiceRefusals(t *testing.T) {
	past, future := now.Add(-48*time.Hour), now.Add(48*time.Hour)
	pastEnd := now.Add(-24 * time.Hour)
	tests := []struct {
		name  string
		stage storage.Stage
		want  string
	}{
		{"expired", storage.Stage{Name: "old", IsActive: true, StartAt: &past, Deadline: &pastEnd}, textStageExpired},
		{"not open", storage.Stage{Name: "later", IsActive: true, StartAt: &future}, textStageNotOpen},
		{"inactive", storage.Stage{Name: "off", IsActive: false}, textStageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			st, err := h.store.CreateStage(context.Background(), tt.stage)
			if err != nil {
				t.Fatal(err)
			}
			h.fillProfile(t)

			out := h.do(t, callback(tgui.StageData(st.ID)))
			a, ok := answerOf(out)
			if !ok || a.Text != tt.want || !a.Alert {
				t.Fatalf("answer = %+v, want alert %q", a, tt.want)
			}
			h.wantState(t, SelectingStage)
		})
	}

	t.Run("unknown id", func(t *testing.T) {
		h := newHarness(t)
		h.fillProfile(t)
		out := h.do(t, callback(tgui.StageData(999)))
		if a, _ := answerOf(out); a.Text != textStageNotFound {
			t.Fatalf("answer = %+v", a)
		}
		h.wantState(t, SelectingStage)
	})
}

func TestCheckStage(t *testing.T) {
	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)
	if err := CheckStage(storage.Stage{IsActive: true}, now); err != nil {
		t.Fatalf("unbounded stage error = %v", err)
	}
	if err := CheckStage(storage.Stage{IsActive: true, Deadline: &earlier}, now); !errors.Is(err, ErrStageExpired) {
		t.Fatalf("error = %v, want ErrStageExpired", err)
	}
	if err := CheckStage(storage.Stage{IsActive: true, StartAt: &later}, now); !errors.Is(err, ErrStageNotOpen) {
		t.Fatalf("error = %v, want ErrStageNotOpen", err)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t)

	out := h.do(t, Event{Kind: EventCancel})
	if got := lastText(out); got != TextMenu {
		t.Fatalf("idle cancel = %q, want menu", got)
	}

	h.fillProfile(t)
	h.chooseStage(t)
	h.do(t, photo("p1"))

	out = h.do(t, FromUpdate(transport.Update{Kind: transport.UpdateText, FromID: uid, Text: CancelText}))
	if got := lastText(out); got != textCancelled || out[0].Markup != MarkupMain {
		t.Fatalf("cancel = %+v", out)
	}
	h.wantState(t, Idle)

	// the inline cancel button during stage choice edits the message
	h.fillProfile(t)
	ev := FromUpdate(transport.Update{Kind: transport.UpdateCallback, FromID: uid, Callback: &transport.Callback{ID: "c", Data: tgui.CallbackCancel}})
	if ev.Kind != EventCancel {
		t.Fatalf("callback kind = %s, want cancel", ev.Kind)
	}
	out = h.do(t, ev)
	if out[0].Kind != ReplyEdit || out[0].Text != textCancelled {
		t.Fatalf("callback cancel = %+v", out)
	}
	h.wantState(t, Idle)
}

func TestReturningUserShortcut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, _ := h.store.GetOrCreateUser(ctx, uid, "ivan")
	p := storage.Profile{FullName: "Иванов Иван", City: "Москва", School: "Школа 1", Grade: "9"}
	if err := h.store.UpdateProfile(ctx, u.ID, p); err != nil {
		t.Fatal(err)
	}

	out := h.do(t, Event{Kind: EventStart})
	h.wantState(t, SelectingStage)
	if len(out) != 1 || out[0].Text != textWelcomeBack(p) || !out[0].ChangeProfile || len(out[0].Stages) != 1 {
		t.Fatalf("welcome back = %+v", out)
	}

	out = h.do(t, callback(tgui.CallbackChangeProfile))
	h.wantState(t, CollectingName)
	if lastText(out) != textAskName {
		t.Fatalf("change profile = %+v", out)
	}
	// the shortcut keeps only the user id
	for _, in := range []string{"петров пётр", "казань", "Лицей 2", "11"} {
		h.do(t, text(in))
	}
	h.wantState(t, SelectingStage)
}

func TestStartClosedAndNoStages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.SetSetting(ctx, storage.SettingAcceptingApplications, "false"); err != nil {
		t.Fatal(err)
	}
	out := h.do(t, Event{Kind: EventStart})
	if lastText(out) != textClosed {
		t.Fatalf("closed = %+v", out)
	}
	h.wantState(t, Idle)

	// open again, but no stage is available any more
	_ = h.store.SetSetting(ctx, storage.SettingAcceptingApplications, "true")
	h.m.now = func() time.Time { return now.Add(24 * time.Hour) }
	h.do(t, Event{Kind: EventStart})
	for _, in := range []string{"иванов иван", "москва", "Школа 1"} {
		h.do(t, text(in))
	}
	out = h.do(t, text("9"))
	if lastText(out) != textNoStages {
		t.Fatalf("no stages = %+v", out)
	}
	h.wantState(t, Idle)
}

func TestAttachmentRules(t *testing.T) {
	h := newHarness(t)
	h.fillProfile(t)
	h.chooseStage(t)

	if got := lastText(h.do(t, doc("x", "virus.exe", 10))); got != textWrongFormat {
		t.Fatalf("exe = %q", got)
	}
	if got := lastText(h.do(t, doc("big", "scan.png", 21<<20))); got != textTooLarge(h.m.Config()) {
		t.Fatalf("too large = %q", got)
	}
	for _, id := range []string{"1", "2", "3"} {
		h.do(t, photo(id))
	}
	h.wantState(t, CollectingComment)

	// more attachments are accepted in the comment state without leaving it
	if got := lastText(h.do(t, photo("4"))); got != textExtraFile(4, 5) {
		t.Fatalf("extra = %q", got)
	}
	if got := lastText(h.do(t, doc("5", "five.webp", 10))); got != textExtraAll(5) {
		t.Fatalf("extra all = %q", got)
	}
	if got := lastText(h.do(t, photo("6"))); got != textCommentCountExceeded(5) {
		t.Fatalf("sixth = %q", got)
	}
	h.wantState(t, CollectingComment)

	if got := lastText(h.do(t, voice("v-long", 61))); got != textVoiceTooLong {
		t.Fatalf("long voice = %q", got)
	}
	h.wantState(t, CollectingComment)

	h.do(t, voice("v", 60))
	h.wantState(t, Idle)

	subs, _ := h.store.ListUserSubmissions(context.Background(), 1)
	if len(subs) != 1 || len(subs[0].FileIDs) != 5 || subs[0].VoiceFileID != "v" || subs[0].VoicePath != "/uploads/@ivan/stage1_comment.ogg" {
		t.Fatalf("submission = %+v", subs)
	}
}

func TestCountExceededWhileCollecting(t *testing.T) {
	h := newHarness(t)
	h.m.SetConfig(Config{MinFiles: 5, MaxFiles: 5, Location: time.UTC})
	h.fillProfile(t)
	h.chooseStage(t)
	for _, id := range []string{"1", "2", "3", "4"} {
		h.do(t, photo(id))
	}
	h.wantState(t, CollectingFiles)
	out := h.do(t, photo("5"))
	if out[0].Text != textAllFiles(5) {
		t.Fatalf("fifth = %+v", out)
	}
	h.wantState(t, CollectingComment)
}

func TestEarlyVoiceComment(t *testing.T) {
	h := newHarness(t)
	h.fillProfile(t)
	h.chooseStage(t)
	for _, id := range []string{"1", "2", "3"} {
		h.do(t, photo(id))
	}
	// jump back to files to exercise the dual-role rule directly
	s, _ := h.m.sessions.Get(uid)
	s.State = CollectingFiles
	h.m.sessions.Put(uid, s)

	h.do(t, voice("v", 5))
	h.wantState(t, Idle)
}

func TestFinishIsBestEffort(t *testing.T) {
	h := newHarness(t)
	h.dl.fail["p2"] = true
	h.fillProfile(t)
	h.chooseStage(t)
	for _, id := range []string{"p1", "p2", "p3"} {
		h.do(t, photo(id))
	}
	h.do(t, text("ok"))
	h.wantState(t, Idle)

	subs, _ := h.store.ListUserSubmissions(context.Background(), 1)
	if len(subs) != 1 {
		t.Fatalf("submissions = %d, want 1", len(subs))
	}
	if len(subs[0].FileIDs) != 3 || len(subs[0].FilePaths) != 2 {
		t.Fatalf("ids = %v paths = %v, want 3 ids and 2 paths", subs[0].FileIDs, subs[0].FilePaths)
	}
}

func TestFinishNotifiesSavingEarly(t *testing.T) {
	h := newHarness(t)
	var notified []string
	h.m.SetNotify(func(_ context.Context, _ Event, r Reply) { notified = append(notified, r.Text) })
	h.fillProfile(t)
	h.chooseStage(t)
	for _, id := range []string{"1", "2", "3"} {
		h.do(t, photo(id))
	}
	out := h.do(t, text("ok"))
	if len(notified) != 1 || notified[0] != textSaving {
		t.Fatalf("notified = %v", notified)
	}
	if len(out) != 1 || out[0].Text != textFinish {
		t.Fatalf("replies = %+v", out)
	}
}

func TestMyWorks(t *testing.T) {
	h := newHarness(t)
	if r := h.m.MyWorks(context.Background(), uid); r.Text != textNoWorks {
		t.Fatalf("unknown user = %q", r.Text)
	}
	h.fillProfile(t)
	h.chooseStage(t)
	for _, id := range []string{"1", "2", "3"} {
		h.do(t, photo(id))
	}
	h.do(t, voice("v", 3))

	r := h.m.MyWorks(context.Background(), uid)
	if !r.HTML || !strings.Contains(r.Text, "<b>1. Этап 1</b>") || !strings.Contains(r.Text, "Файлов: 3") || !strings.Contains(r.Text, "🎤 голосовое") {
		t.Fatalf("works = %q", r.Text)
	}
}
