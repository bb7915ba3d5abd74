package gate_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/warden/pkg/async"
	"github.com/NicolasHaas/warden/pkg/gate"
	"github.com/NicolasHaas/warden/pkg/logging"
	"github.com/NicolasHaas/warden/pkg/metrics"
	"github.com/NicolasHaas/warden/pkg/model"
	"github.com/NicolasHaas/warden/pkg/punish"
	"github.com/NicolasHaas/warden/pkg/store"

	"github.com/google/uuid"
)

var baseTime = time.UnixMilli(1_700_000_000_000).UTC()

type notifyRecorder struct {
	mu      sync.Mutex
	notices []punish.Notice
}

func (r *notifyRecorder) Disconnect(model.SubjectID, punish.Notice) {}

func (r *notifyRecorder) Notify(_ model.SubjectID, n punish.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

type fixture struct {
	gate    *gate.Gate
	engine  *punish.Engine
	store   *store.MemoryStore
	conns   *notifyRecorder
	metrics *metrics.Metrics
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemory(),
		conns:   &notifyRecorder{},
		metrics: metrics.New(),
		now:     baseTime,
	}
	pool := async.NewPool(2, logging.Discard())
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	engine, err := punish.New(punish.Options{
		Store:   f.store,
		Pool:    pool,
		Metrics: f.metrics,
		Logger:  logging.Discard(),
		Clock:   func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("punish.New: %v", err)
	}
	f.engine = engine
	f.gate = gate.New(engine, f.conns, f.metrics, logging.Discard())
	return f
}

func decision(t *testing.T, fut *async.Future[gate.Decision]) gate.Decision {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: gate futures must not fail, got %v", err)
	}
	return d
}

func TestCheckLogin(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture, subject model.SubjectID)
		allowed bool
		parts   []string
	}{
		{
			name:    "clean",
			setup:   func(*testing.T, *fixture, model.SubjectID) {},
			allowed: true,
		},
		{
			name: "permanent_ban",
			setup: func(t *testing.T, f *fixture, s model.SubjectID) {
				if _, err := f.engine.Ban(context.Background(), s, "cheating", punish.Permanent, "Mod1").Wait(context.Background()); err != nil {
					t.Fatal(err)
				}
			},
			parts: []string{"cheating", "Mod1", "permanent", "#1"},
		},
		{
			name: "timed_ban",
			setup: func(t *testing.T, f *fixture, s model.SubjectID) {
				if _, err := f.engine.Ban(context.Background(), s, "spam", 3*time.Hour, "Mod2").Wait(context.Background()); err != nil {
					t.Fatal(err)
				}
				f.now = f.now.Add(time.Hour)
			},
			parts: []string{"spam", "Mod2", "2h"},
		},
		{
			name: "expired_ban_without_sweep",
			setup: func(t *testing.T, f *fixture, s model.SubjectID) {
				if _, err := f.engine.Ban(context.Background(), s, "spam", time.Minute, "Mod2").Wait(context.Background()); err != nil {
					t.Fatal(err)
				}
				f.now = f.now.Add(time.Minute)
			},
			allowed: true,
		},
		{
			name: "mute_only",
			setup: func(t *testing.T, f *fixture, s model.SubjectID) {
				if _, err := f.engine.Mute(context.Background(), s, "caps", punish.Permanent, "Mod1").Wait(context.Background()); err != nil {
					t.Fatal(err)
				}
			},
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			subject := uuid.New()
			tt.setup(t, f, subject)

			d := decision(t, f.gate.CheckLogin(context.Background(), subject))
			if d.Allowed != tt.allowed {
				t.Fatalf("Allowed = %v, want %v (message %q)", d.Allowed, tt.allowed, d.Message)
			}
			if d.Err != nil {
				t.Errorf("Err = %v, want nil", d.Err)
			}
			for _, part := range tt.parts {
				if !strings.Contains(d.Message, part) {
					t.Errorf("message %q missing %q", d.Message, part)
				}
			}
		})
	}
}

func TestCheckLoginFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.store.Fail(errors.New("connection reset"))

	d := decision(t, f.gate.CheckLogin(context.Background(), uuid.New()))
	if d.Allowed {
		t.Fatal("login allowed while the store is down")
	}
	if d.Err == nil || d.Message != gate.UnavailableLogin {
		t.Errorf("Decision = %+v", d)
	}
	if f.metrics.GateFailures.Load() != 1 || f.metrics.LoginsDenied.Load() != 1 {
		t.Errorf("GateFailures=%d LoginsDenied=%d, want 1/1", f.metrics.GateFailures.Load(), f.metrics.LoginsDenied.Load())
	}
}

func TestCheckChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := uuid.New()

	if d := decision(t, f.gate.CheckChat(ctx, subject)); !d.Allowed {
		t.Fatalf("chat blocked for clean subject: %+v", d)
	}

	if _, err := f.engine.Mute(ctx, subject, "flooding", 30*time.Minute, "Mod1").Wait(ctx); err != nil {
		t.Fatal(err)
	}
	d := decision(t, f.gate.CheckChat(ctx, subject))
	if d.Allowed {
		t.Fatal("chat allowed for muted subject")
	}
	if !strings.Contains(d.Message, "flooding") || !strings.Contains(d.Message, "30m") {
		t.Errorf("message %q missing reason or remaining time", d.Message)
	}

	if _, err := f.engine.Unmute(ctx, subject, "Mod1").Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if d := decision(t, f.gate.CheckChat(ctx, subject)); !d.Allowed {
		t.Errorf("chat blocked after unmute: %+v", d)
	}
}

func TestCheckChatFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.store.Fail(errors.New("timeout"))

	d := decision(t, f.gate.CheckChat(context.Background(), uuid.New()))
	if d.Allowed || d.Err == nil || d.Message != gate.UnavailableChat {
		t.Errorf("Decision = %+v, want blocked with error", d)
	}
	if got := f.metrics.ChatBlocked.Load(); got != 1 {
		t.Errorf("ChatBlocked = %d, want 1", got)
	}
}

func TestOnServerSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := uuid.New()

	d := decision(t, f.gate.OnServerSwitch(ctx, subject))
	if !d.Allowed || len(f.conns.notices) != 0 {
		t.Fatalf("clean switch: decision=%+v notices=%d", d, len(f.conns.notices))
	}

	if _, err := f.engine.Mute(ctx, subject, "caps", punish.Permanent, "Mod1").Wait(ctx); err != nil {
		t.Fatal(err)
	}
	d = decision(t, f.gate.OnServerSwitch(ctx, subject))
	if !d.Allowed {
		t.Error("server switch must never be refused")
	}
	if len(f.conns.notices) != 1 || !strings.Contains(f.conns.notices[0].Message, "caps") {
		t.Errorf("notices = %+v, want one mute reminder", f.conns.notices)
	}

	f.store.Fail(errors.New("timeout"))
	d = decision(t, f.gate.OnServerSwitch(ctx, subject))
	if !d.Allowed || d.Err == nil {
		t.Errorf("failed switch check = %+v, want allowed with error", d)
	}
	if len(f.conns.notices) != 1 {
		t.Errorf("notices after failed check = %d, want 1", len(f.conns.notices))
	}
	if got := f.metrics.SwitchNotices.Load(); got != 1 {
		t.Errorf("SwitchNotices = %d, want 1", got)
	}
}

type stalledLookup struct {
	release chan struct{}
	pool    *async.Pool
}

func (s *stalledLookup) ActiveBan(ctx context.Context, _ model.SubjectID) *async.Future[*model.Punishment] {
	return async.Submit(s.pool, ctx, func(context.Context) (*model.Punishment, error) {
		<-s.release
		return nil, nil
	})
}

func (s *stalledLookup) ActiveMute(ctx context.Context, subject model.SubjectID) *async.Future[*model.Punishment] {
	return s.ActiveBan(ctx, subject)
}

func (s *stalledLookup) Now() time.Time { return baseTime }

func TestChecksDoNotBlockCaller(t *testing.T) {
	lookup := &stalledLookup{release: make(chan struct{}), pool: async.NewPool(1, logging.Discard())}
	g := gate.New(lookup, nil, nil, logging.Discard())

	returned := make(chan *async.Future[gate.Decision], 1)
	go func() { returned <- g.CheckLogin(context.Background(), uuid.New()) }()

	var fut *async.Future[gate.Decision]
	select {
	case fut = <-returned:
	case <-time.After(time.Second):
		t.Fatal("CheckLogin blocked its caller while the store was stalled")
	}
	select {
	case <-fut.Done():
		t.Fatal("decision completed before the lookup did")
	default:
	}

	close(lookup.release)
	if d := decision(t, fut); !d.Allowed {
		t.Errorf("Decision = %+v, want allowed", d)
	}
}
