package guard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

func newRedisAbuse(t *testing.T) (*AbuseGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	st, err := NewRedisStore[AbuseRecord](client, "test:", "abuse", 5*time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	return NewAbuseGuard(st, AbuseConfig{SpamThreshold: 2, BlockDuration: time.Minute}, logx.Nop()), mr
}

func TestRedisStoreSharesBlocks(t *testing.T) {
	ctx := context.Background()
	g, mr := newRedisAbuse(t)

	g.Check(ctx, 5, ClassMessage, t0)
	g.Check(ctx, 5, ClassMessage, t0.Add(10*time.Millisecond))
	if d := g.Check(ctx, 5, ClassMessage, t0.Add(20*time.Millisecond)); d.Reason != ReasonJustBlocked {
		t.Fatalf("3rd event = %+v, want just_blocked", d)
	}
	if !mr.Exists("test:abuse:5") {
		t.Fatalf("record key missing; keys = %v", mr.Keys())
	}
	if ttl := mr.TTL("test:abuse:5"); ttl != 5*time.Minute {
		t.Fatalf("TTL = %v, want 5m", ttl)
	}

	// a second guard on the same redis sees the block
	st2, err := NewRedisStore[AbuseRecord](g.store.(*RedisStore[AbuseRecord]).client, "test:", "abuse", 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	g2 := NewAbuseGuard(st2, g.Config(), logx.Nop())
	if d := g2.Check(ctx, 5, ClassMessage, t0.Add(30*time.Second)); d.Reason != ReasonBlocked {
		t.Fatalf("second instance = %+v, want blocked", d)
	}
}

func TestRedisStoreFailsOpen(t *testing.T) {
	g, mr := newRedisAbuse(t)
	mr.Close()
	if d := g.Check(context.Background(), 1, ClassMessage, t0); !d.Allowed {
		t.Fatalf("Check() with redis down = %+v, want allowed", d)
	}
}

func TestRedisVolumeStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	st, err := NewRedisStore[VolumeRecord](client, "", "volume", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	g := NewVolumeGuard(st, VolumeConfig{FilesPerMinute: 10, MaxBytesPerHour: 10}, logx.Nop())
	ctx := context.Background()
	if d := g.Check(ctx, 1, 6, t0); !d.Allowed {
		t.Fatalf("first = %+v, want allowed", d)
	}
	if d := g.Check(ctx, 1, 6, t0.Add(time.Second)); d.Allowed || d.UsedBytes != 6 {
		t.Fatalf("second = %+v, want bytes rejection with 6 used", d)
	}
	if !mr.Exists("tochka:guard:volume:1") {
		t.Fatalf("volume key missing; keys = %v", mr.Keys())
	}
}
