package guard

import (
	"context"
	"testing"
	"time"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newAbuse() (*AbuseGuard, *MemoryStore[AbuseRecord]) {
	st := NewMemoryStore[AbuseRecord]()
	g := NewAbuseGuard(st, AbuseConfig{
		MessageInterval:  500 * time.Millisecond,
		CallbackInterval: 300 * time.Millisecond,
		SpamThreshold:    5,
		BlockDuration:    60 * time.Second,
		CleanupInterval:  5 * time.Minute,
	}, logx.Nop())
	return g, st
}

func record(t *testing.T, st *MemoryStore[AbuseRecord], id int64) AbuseRecord {
	t.Helper()
	var out AbuseRecord
	_ = st.Update(context.Background(), id, func(rec *AbuseRecord) { out = *rec })
	return out
}

func TestAbuseGuardBlocksAfterSpamThreshold(t *testing.T) {
	ctx := context.Background()
	g, st := newAbuse()

	now := t0
	if d := g.Check(ctx, 1, ClassMessage, now); !d.Allowed {
		t.Fatalf("first event = %+v, want allowed", d)
	}
	for i := 1; i <= 4; i++ {
		now = now.Add(100 * time.Millisecond)
		d := g.Check(ctx, 1, ClassMessage, now)
		if d.Allowed || d.Reason != ReasonLimited {
			t.Fatalf("event %d = %+v, want limited", i+1, d)
		}
	}
	now = now.Add(100 * time.Millisecond)
	d := g.Check(ctx, 1, ClassMessage, now)
	if d.Reason != ReasonJustBlocked {
		t.Fatalf("6th event = %+v, want just_blocked", d)
	}
	rec := record(t, st, 1)
	if got := rec.BlockedUntil.Sub(now); got != 60*time.Second {
		t.Fatalf("BlockedUntil - now = %v, want 60s", got)
	}
	if rec.Warnings != 0 {
		t.Fatalf("Warnings = %d, want 0", rec.Warnings)
	}

	mid := now.Add(30 * time.Second)
	d = g.Check(ctx, 1, ClassCallback, mid)
	if d.Reason != ReasonBlocked || d.Remaining != 30*time.Second {
		t.Fatalf("during block = %+v, want blocked with 30s remaining", d)
	}
	if got := record(t, st, 1).BlockedUntil; !got.Equal(now.Add(60 * time.Second)) {
		t.Fatalf("BlockedUntil moved during block: %v", got)
	}

	after := now.Add(60 * time.Second)
	if d := g.Check(ctx, 1, ClassMessage, after); !d.Allowed {
		t.Fatalf("first event after expiry = %+v, want allowed", d)
	}
	if got := record(t, st, 1).LastEvent; !got.Equal(after) {
		t.Fatalf("LastEvent = %v, want %v", got, after)
	}
}

func TestAbuseGuardClassesAndDecay(t *testing.T) {
	ctx := context.Background()
	g, st := newAbuse()

	g.Check(ctx, 7, ClassCallback, t0)
	if d := g.Check(ctx, 7, ClassCallback, t0.Add(350*time.Millisecond)); !d.Allowed {
		t.Fatalf("callback after 350ms = %+v, want allowed", d)
	}
	// 350ms clears the callback interval but not the message interval
	if d := g.Check(ctx, 7, ClassMessage, t0.Add(700*time.Millisecond)); d.Allowed {
		t.Fatalf("message after 350ms = %+v, want limited", d)
	}
	if got := record(t, st, 7).Warnings; got != 1 {
		t.Fatalf("Warnings = %d, want 1", got)
	}
	// spaced more than 3x the interval decays one warning
	if d := g.Check(ctx, 7, ClassMessage, t0.Add(3*time.Second)); !d.Allowed {
		t.Fatalf("spaced message = %+v, want allowed", d)
	}
	if got := record(t, st, 7).Warnings; got != 0 {
		t.Fatalf("Warnings after decay = %d, want 0", got)
	}
}

func TestAbuseGuardUsersAreIndependent(t *testing.T) {
	ctx := context.Background()
	g, _ := newAbuse()
	g.Check(ctx, 1, ClassMessage, t0)
	if d := g.Check(ctx, 2, ClassMessage, t0.Add(time.Millisecond)); !d.Allowed {
		t.Fatalf("other user = %+v, want allowed", d)
	}
}

func TestAbuseGuardSweep(t *testing.T) {
	ctx := context.Background()
	g, st := newAbuse()

	g.Check(ctx, 1, ClassMessage, t0)
	// user 2's block expires before the sweep; user 3's does not
	now := t0
	for i := 0; i < 6; i++ {
		g.Check(ctx, 2, ClassMessage, now)
		now = now.Add(10 * time.Millisecond)
	}
	g.SetConfig(AbuseConfig{BlockDuration: time.Hour})
	for i := 0; i < 6; i++ {
		g.Check(ctx, 3, ClassMessage, now)
		now = now.Add(10 * time.Millisecond)
	}

	// user 4's event is the first one past the cleanup interval
	g.Check(ctx, 4, ClassMessage, t0.Add(6*time.Minute))
	if got := st.Len(); got != 2 {
		t.Fatalf("records after sweep = %d, want 2 (blocked user 3 and user 4)", got)
	}
}

func TestVolumeGuardByteCap(t *testing.T) {
	ctx := context.Background()
	g := NewVolumeGuard(NewMemoryStore[VolumeRecord](), VolumeConfig{FilesPerMinute: 10, MaxBytesPerHour: 100 << 20}, logx.Nop())

	if d := g.Check(ctx, 1, 60<<20, t0); !d.Allowed {
		t.Fatalf("first 60MiB = %+v, want allowed", d)
	}
	if d := g.Check(ctx, 1, 30<<20, t0.Add(2*time.Minute)); !d.Allowed {
		t.Fatalf("30MiB = %+v, want allowed", d)
	}
	d := g.Check(ctx, 1, 20<<20, t0.Add(4*time.Minute))
	if d.Allowed || d.Reason != VolumeBytes || !d.Warn || d.UsedBytes != 90<<20 {
		t.Fatalf("crossing cap = %+v, want bytes rejection with warning, used 90MiB", d)
	}
	d = g.Check(ctx, 1, 20<<20, t0.Add(4*time.Minute+10*time.Second))
	if d.Allowed || d.Warn {
		t.Fatalf("second rejection within 30s = %+v, want silent rejection", d)
	}
	// the 60MiB upload leaves the window
	if d := g.Check(ctx, 1, 20<<20, t0.Add(time.Hour)); !d.Allowed {
		t.Fatalf("after window = %+v, want allowed", d)
	}
}

func TestVolumeGuardFilesPerMinute(t *testing.T) {
	ctx := context.Background()
	g := NewVolumeGuard(NewMemoryStore[VolumeRecord](), VolumeConfig{FilesPerMinute: 3, MaxBytesPerHour: 1 << 30}, logx.Nop())
	for i := 0; i < 3; i++ {
		if d := g.Check(ctx, 1, 1, t0.Add(time.Duration(i)*time.Second)); !d.Allowed {
			t.Fatalf("upload %d = %+v, want allowed", i, d)
		}
	}
	if d := g.Check(ctx, 1, 1, t0.Add(10*time.Second)); d.Allowed || d.Reason != VolumeCount {
		t.Fatalf("4th upload = %+v, want count rejection", d)
	}
	if d := g.Check(ctx, 1, 1, t0.Add(61*time.Second)); !d.Allowed {
		t.Fatalf("after a minute = %+v, want allowed", d)
	}
}

func TestNotices(t *testing.T) {
	n := AbuseNotice(Decision{Reason: ReasonBlocked, Remaining: 1500 * time.Millisecond}, ClassCallback)
	if n.Text != "⚠️ Подождите 2 сек." || !n.Alert {
		t.Fatalf("AbuseNotice() = %+v", n)
	}
	if n := AbuseNotice(Decision{Reason: ReasonLimited}, ClassMessage); n.Text != "" {
		t.Fatalf("limited notice = %q, want silent", n.Text)
	}
	v := VolumeNotice(VolumeDecision{Reason: VolumeBytes, Warn: true, UsedBytes: 90 << 20}, VolumeConfig{MaxBytesPerHour: 100 << 20})
	if v.Text != "⚠️ Превышен лимит загрузки: 100 МБ в час.\nВы загрузили: 90.0 МБ" {
		t.Fatalf("VolumeNotice() = %q", v.Text)
	}
}
