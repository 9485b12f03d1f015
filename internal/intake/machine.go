// Package intake runs the per-user submission conversation: profile fields,
// stage choice, attachments and one comment, persisted as a Submission.
package intake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
	"github.com/clover2di/tochkavnimanie-bot/internal/filestore"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/internal/transport"
	"github.com/clover2di/tochkavnimanie-bot/internal/validate"
	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
	"github.com/clover2di/tochkavnimanie-bot/pkg/tgui"
)

var (
	ErrStageNotFound = errors.New("intake: stage not found")
	ErrStageNotOpen  = errors.New("intake: stage not open yet")
	ErrStageExpired  = errors.New("intake: stage expired")
)

// Config bounds a submission. Zero values take the defaults.
type Config struct {
	MinFiles         int
	MaxFiles         int
	MaxFileBytes     int64
	MaxVoiceDuration time.Duration
	// Workers bounds concurrent downloads when a submission finishes.
	Workers int
	// Location formats dates in the works listing.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.MinFiles <= 0 {
		c.MinFiles = 3
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = 5
	}
	if c.MinFiles > c.MaxFiles {
		c.MinFiles = c.MaxFiles
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 20 << 20
	}
	if c.MaxVoiceDuration <= 0 {
		c.MaxVoiceDuration = 60 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

func (c Config) maxFileMB() int64 { return c.MaxFileBytes >> 20 }

// Notify delivers a reply before Handle returns. Used for the "saving"
// notice while a submission is being stored.
type Notify func(ctx context.Context, ev Event, r Reply)

type Deps struct {
	Store      storage.Store
	Files      filestore.Store
	Downloader transport.Downloader
	Bus        eventbus.Bus
	Sessions   SessionStore
	Log        logx.Logger
}

// Machine is safe for concurrent use across users. Events of one user must
// be handled one at a time.
type Machine struct {
	store    storage.Store
	files    filestore.Store
	dl       transport.Downloader
	bus      eventbus.Bus
	sessions SessionStore
	log      logx.Logger
	now      func() time.Time

	mu     sync.RWMutex
	cfg    Config
	notify Notify
}

func NewMachine(d Deps, cfg Config) *Machine {
	if d.Sessions == nil {
		d.Sessions = NewMemorySessions()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Machine{
		store:    d.Store,
		files:    d.Files,
		dl:       d.Downloader,
		bus:      d.Bus,
		sessions: d.Sessions,
		log:      d.Log.With(logx.String("comp", "intake")),
		now:      time.Now,
		cfg:      cfg.withDefaults(),
	}
}

func (m *Machine) SetConfig(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

func (m *Machine) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Machine) SetNotify(fn Notify) {
	m.mu.Lock()
	m.notify = fn
	m.mu.Unlock()
}

// State returns the current state of a user, Idle when there is no session.
func (m *Machine) State(userID int64) State {
	s, ok := m.sessions.Get(userID)
	if !ok {
		return Idle
	}
	return s.State
}

// Reset drops any session of the user.
func (m *Machine) Reset(userID int64) { m.sessions.Delete(userID) }

type key struct {
	state State
	kind  EventKind
}

// rule is one candidate transition. Rules sharing a key are tried in order;
// the first whose guard holds wins.
type rule struct {
	when func(cfg Config, s *Session, ev Event) bool
	do   func(m *Machine, ctx context.Context, s *Session, ev Event) []Reply
}

var transitions = buildTransitions()

func buildTransitions() map[key][]rule {
	t := make(map[key][]rule)
	add := func(st State, kind EventKind, r ...rule) { t[key{st, kind}] = append(t[key{st, kind}], r...) }

	for _, st := range []State{CollectingName, CollectingCity, CollectingSchool, CollectingGrade} {
		add(st, EventText, rule{do: (*Machine).onField})
	}

	add(SelectingStage, EventCallback,
		rule{when: isChangeProfile, do: (*Machine).onChangeProfile},
		rule{when: isStageChoice, do: (*Machine).onStageChoice},
	)

	for _, kind := range []EventKind{EventPhoto, EventDocument} {
		add(CollectingFiles, kind, rule{do: (*Machine).onAttachment})
		add(CollectingComment, kind, rule{do: (*Machine).onAttachment})
	}
	for _, kind := range []EventKind{EventText, EventVoice} {
		add(CollectingFiles, kind,
			rule{when: hasMinFiles, do: (*Machine).onEarlyComment},
			rule{do: (*Machine).onNeedFiles},
		)
	}
	add(CollectingComment, EventText, rule{do: (*Machine).onComment})
	add(CollectingComment, EventVoice, rule{do: (*Machine).onComment})
	return t
}

func isChangeProfile(_ Config, _ *Session, ev Event) bool {
	return ev.CallbackData == tgui.CallbackChangeProfile
}

func isStageChoice(_ Config, _ *Session, ev Event) bool {
	_, ok := tgui.ParseStageData(ev.CallbackData)
	return ok
}

func hasMinFiles(cfg Config, s *Session, _ Event) bool { return len(s.Files) >= cfg.MinFiles }

// Handle applies one event and returns the replies to deliver, in order.
// Infrastructure failures are logged and turned into replies; the error
// return is reserved for malformed events.
func (m *Machine) Handle(ctx context.Context, ev Event) ([]Reply, error) {
	if ev.UserID == 0 {
		return nil, errors.New("intake: event without user id")
	}
	switch ev.Kind {
	case EventStart:
		return m.start(ctx, ev), nil
	case EventCancel:
		return m.cancel(ev), nil
	}

	sess, ok := m.sessions.Get(ev.UserID)
	if !ok {
		sess = Session{State: Idle}
	}
	cfg := m.Config()
	before := sess.State

	var out []Reply
	handled := false
	for _, r := range transitions[key{sess.State, ev.Kind}] {
		if r.when != nil && !r.when(cfg, &sess, ev) {
			continue
		}
		out = r.do(m, ctx, &sess, ev)
		handled = true
		break
	}
	if !handled {
		out = m.fallback(ctx, &sess, ev)
	}

	m.commit(ev.UserID, sess)
	if sess.State != before {
		m.log.Debug("transition",
			logx.Int64("user_id", ev.UserID),
			logx.String("from", before.String()),
			logx.String("to", sess.State.String()),
			logx.String("event", ev.Kind.String()),
		)
	}
	return out, nil
}

func (m *Machine) commit(userID int64, s Session) {
	if s.State == Idle {
		m.sessions.Delete(userID)
		return
	}
	m.sessions.Put(userID, s)
}

// fallback covers inputs no transition accepts: the current prompt is
// repeated and stray callbacks are acknowledged.
func (m *Machine) fallback(ctx context.Context, s *Session, ev Event) []Reply {
	var out []Reply
	if ev.fromCallback() {
		out = append(out, answer("", false))
	}
	switch s.State {
	case Idle:
		return out
	case CollectingName, CollectingCity, CollectingSchool, CollectingGrade:
		return append(out, send(fields[s.State].prompt, MarkupNone))
	case SelectingStage:
		if ev.fromCallback() {
			return out
		}
		return append(out, m.stagePrompt(ctx, s, textAskStage)...)
	case CollectingFiles:
		return append(out, send(textNotAttachment, MarkupNone))
	case CollectingComment:
		return append(out, send(textAskComment, MarkupNone))
	}
	return out
}

func (m *Machine) start(ctx context.Context, ev Event) []Reply {
	log := m.log.With(logx.Int64("user_id", ev.UserID))

	open, err := storage.AcceptingApplications(ctx, m.store)
	if err != nil {
		log.Error("read intake switch failed", logx.Err(err))
		return []Reply{send(textInternal, MarkupMain)}
	}
	if !open {
		return []Reply{send(textClosed, MarkupNone)}
	}

	user, err := m.store.GetOrCreateUser(ctx, ev.UserID, ev.Username)
	if err != nil {
		log.Error("get or create user failed", logx.Err(err))
		return []Reply{send(textInternal, MarkupMain)}
	}

	s := Session{UserID: user.ID}
	if !user.Profile.Complete() {
		s.State = CollectingName
		m.commit(ev.UserID, s)
		return []Reply{send(textAskName, MarkupCancel)}
	}

	s.Profile = user.Profile
	stages, err := m.store.ListAvailableStages(ctx, m.now())
	if err != nil {
		log.Error("list stages failed", logx.Err(err))
		m.sessions.Delete(ev.UserID)
		return []Reply{send(textInternal, MarkupMain)}
	}
	if len(stages) == 0 {
		m.sessions.Delete(ev.UserID)
		return []Reply{send(textNoStages, MarkupNone)}
	}
	s.State = SelectingStage
	m.commit(ev.UserID, s)
	return []Reply{{
		Kind:          ReplySend,
		Text:          textWelcomeBack(user.Profile),
		Markup:        MarkupStages,
		Stages:        stages,
		ChangeProfile: true,
	}}
}

func (m *Machine) cancel(ev Event) []Reply {
	_, active := m.sessions.Get(ev.UserID)
	m.sessions.Delete(ev.UserID)

	if ev.fromCallback() {
		if !active {
			return []Reply{answer("", false), send(TextMenu, MarkupMain)}
		}
		return []Reply{edit(textCancelled), send(TextMenu, MarkupMain), answer("", false)}
	}
	if !active {
		return []Reply{send(TextMenu, MarkupMain)}
	}
	return []Reply{send(textCancelled, MarkupMain)}
}

type field struct {
	validate validate.Func
	set      func(p *storage.Profile, v string)
	next     State
	prompt   string // asked when entering this state
}

var fields = map[State]field{
	CollectingName: {
		validate: validate.Name,
		set:      func(p *storage.Profile, v string) { p.FullName = v },
		next:     CollectingCity,
		prompt:   textAskName,
	},
	CollectingCity: {
		validate: validate.City,
		set:      func(p *storage.Profile, v string) { p.City = v },
		next:     CollectingSchool,
		prompt:   textAskCity,
	},
	CollectingSchool: {
		validate: validate.School,
		set:      func(p *storage.Profile, v string) { p.School = v },
		next:     CollectingGrade,
		prompt:   textAskSchool,
	},
	CollectingGrade: {
		validate: validate.Grade,
		set:      func(p *storage.Profile, v string) { p.Grade = v },
		next:     SelectingStage,
		prompt:   textAskGrade,
	},
}

func (m *Machine) onField(ctx context.Context, s *Session, ev Event) []Reply {
	f := fields[s.State]
	res := f.validate(ev.Text)
	if !res.OK {
		return []Reply{send(res.Message, MarkupNone)}
	}
	f.set(&s.Profile, res.Value)
	if f.next != SelectingStage {
		s.State = f.next
		return []Reply{send(fields[f.next].prompt, MarkupNone)}
	}
	s.State = SelectingStage
	return m.stagePrompt(ctx, s, textAskStage)
}

// stagePrompt lists the open stages. With none open the session is
// dropped.
func (m *Machine) stagePrompt(ctx context.Context, s *Session, text string) []Reply {
	stages, err := m.store.ListAvailableStages(ctx, m.now())
	if err != nil {
		m.log.Error("list stages failed", logx.Err(err))
		return []Reply{send(textInternal, MarkupNone)}
	}
	if len(stages) == 0 {
		*s = Session{State: Idle}
		return []Reply{send(textNoStages, MarkupMain)}
	}
	return []Reply{{Kind: ReplySend, Text: text, Markup: MarkupStages, Stages: stages}}
}

func (m *Machine) onChangeProfile(_ context.Context, s *Session, _ Event) []Reply {
	*s = Session{State: CollectingName, UserID: s.UserID}
	return []Reply{edit(textEditProfile), send(textAskName, MarkupCancel), answer("", false)}
}

// CheckStage reports whether a stage can be chosen at now. Inactive stages
// count as missing.
func CheckStage(st storage.Stage, now time.Time) error {
	if !st.IsActive {
		return ErrStageNotFound
	}
	if st.StartAt != nil && now.Before(*st.StartAt) {
		return ErrStageNotOpen
	}
	if st.Deadline != nil && now.After(*st.Deadline) {
		return ErrStageExpired
	}
	return nil
}

func stageRefusal(err error) string {
	switch {
	case errors.Is(err, ErrStageNotOpen):
		return textStageNotOpen
	case errors.Is(err, ErrStageExpired):
		return textStageExpired
	default:
		return textStageNotFound
	}
}

func (m *Machine) onStageChoice(ctx context.Context, s *Session, ev Event) []Reply {
	id, _ := tgui.ParseStageData(ev.CallbackData)
	st, err := m.store.GetStage(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		err = ErrStageNotFound
	case err != nil:
		m.log.Error("load stage failed", logx.Int64("stage_id", id), logx.Err(err))
		return []Reply{answer(textInternal, true)}
	default:
		err = CheckStage(st, m.now())
	}
	if err != nil {
		return []Reply{answer(stageRefusal(err), true)}
	}

	s.StageID = st.ID
	s.StageName = st.Name
	s.Files = nil
	s.CommentText, s.VoiceFileID = "", ""
	s.State = CollectingFiles
	return []Reply{
		edit(textStageChosen(st.Name)),
		send(textAskFiles(m.Config()), MarkupCancel),
		answer("", false),
	}
}
