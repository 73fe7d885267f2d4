package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*MemoryStore, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	return NewMemoryStore(WithClock(clk.Now), WithTTL(time.Hour)), clk
}

func TestBuildAndParseSessionKey(t *testing.T) {
	tenant := uuid.MustParse("0190f7a2-1111-7000-8000-000000000001")
	key := BuildSessionKey(tenant, "whatsapp", PeerDirect, "2348012345678")
	if want := "tenant:0190f7a2-1111-7000-8000-000000000001:whatsapp:direct:2348012345678"; key != want {
		t.Fatalf("key = %q, want %q", key, want)
	}
	id, rest := ParseSessionKey(key)
	if id != tenant || rest != "whatsapp:direct:2348012345678" {
		t.Errorf("parse = (%v, %q)", id, rest)
	}
	if id, rest := ParseSessionKey("agent:x:y"); id != uuid.Nil || rest != "" {
		t.Errorf("parse foreign key = (%v, %q), want empty", id, rest)
	}
}

func TestAcquireReturnsPrevious(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tenant := uuid.New()
	userA, userB := uuid.New(), uuid.New()

	prev, err := s.Acquire(ctx, "+234 801 234 5678", Identity{Role: store.RoleStaff, UserID: userA, TenantID: tenant, Channel: "whatsapp"})
	if err != nil || prev != nil {
		t.Fatalf("first acquire = (%v, %v), want (nil, nil)", prev, err)
	}

	prev, err = s.Acquire(ctx, "2348012345678", Identity{Role: store.RoleGuardian, UserID: userB, TenantID: tenant, Channel: "whatsapp"})
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if prev == nil || prev.UserID != userA || prev.Kind != KindStaff {
		t.Fatalf("previous = %+v, want staff session for user A", prev)
	}

	got, ok := s.Get(ctx, "2348012345678")
	if !ok {
		t.Fatal("expected active session")
	}
	if got.UserID != userB || got.Kind != KindGuardian {
		t.Errorf("session = %+v, want guardian session for user B", got)
	}
	if got.ID != BuildSessionKey(tenant, "whatsapp", PeerDirect, "2348012345678") {
		t.Errorf("session id = %q", got.ID)
	}
}

func TestLazyExpiry(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Acquire(ctx, "2348012345678", Identity{Role: store.RoleStaff, UserID: uuid.New(), TenantID: uuid.New()}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	clk.Advance(59 * time.Minute)
	if _, ok := s.Get(ctx, "2348012345678"); !ok {
		t.Fatal("session should still be active")
	}
	clk.Advance(time.Minute)
	if _, ok := s.Get(ctx, "2348012345678"); ok {
		t.Fatal("session should be absent at expiry")
	}
	if s.Len() != 1 {
		t.Errorf("expired entry should remain until swept, len = %d", s.Len())
	}

	prev, err := s.Acquire(ctx, "2348012345678", Identity{Role: store.RoleGuardian, UserID: uuid.New(), TenantID: uuid.New()})
	if err != nil || prev != nil {
		t.Errorf("acquire over expired = (%v, %v), want no previous", prev, err)
	}
}

func TestRepeatedReadsAreStable(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	user := uuid.New()

	if _, err := s.Acquire(ctx, "2348012345678", Identity{Role: store.RoleStaff, UserID: user, TenantID: uuid.New()}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, ok := s.Get(ctx, "2348012345678")
		if !ok || got.UserID != user {
			t.Fatalf("read %d = (%+v, %v)", i, got, ok)
		}
		got.Context["mutated"] = "yes"
	}
	got, _ := s.Get(ctx, "2348012345678")
	if _, ok := got.Context["mutated"]; ok {
		t.Error("Get must return a copy")
	}
}

func TestContextSessionCarriesForward(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SetContext(ctx, "2348012345678", ContextName, "Mrs. Bello"); err != nil {
		t.Fatalf("set context: %v", err)
	}
	anon, ok := s.Get(ctx, "2348012345678")
	if !ok {
		t.Fatal("expected context-only session")
	}
	if anon.HoldsDevice() {
		t.Error("context-only session must not hold the device")
	}

	if _, err := s.Acquire(ctx, "2348012345678", Identity{Role: store.RoleGuardian, UserID: uuid.New(), TenantID: uuid.New()}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	got, _ := s.Get(ctx, "2348012345678")
	if got.Context[ContextName] != "Mrs. Bello" {
		t.Errorf("context name = %q, want carried forward", got.Context[ContextName])
	}
	if !got.HoldsDevice() {
		t.Error("authenticated session should hold the device")
	}
}

func TestContextFollowsSameUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tenant := uuid.New()
	user, other := uuid.New(), uuid.New()
	phone := "2348012345678"

	if _, err := s.Acquire(ctx, phone, Identity{Role: store.RoleGuardian, UserID: user, TenantID: tenant}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := s.SetContext(ctx, phone, ContextName, "Ada"); err != nil {
		t.Fatalf("set context: %v", err)
	}

	if _, err := s.Acquire(ctx, phone, Identity{Role: store.RoleGuardian, UserID: user, TenantID: tenant}); err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	got, _ := s.Get(ctx, phone)
	if got.Context[ContextName] != "Ada" {
		t.Errorf("same user context name = %q, want Ada", got.Context[ContextName])
	}

	if _, err := s.Acquire(ctx, phone, Identity{Role: store.RoleStaff, UserID: other, TenantID: tenant}); err != nil {
		t.Fatalf("switch acquire: %v", err)
	}
	got, _ = s.Get(ctx, phone)
	if _, ok := got.Context[ContextName]; ok {
		t.Errorf("context leaked to a different user: %+v", got.Context)
	}
}

func TestSweep(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	s.Acquire(ctx, "2348000000001", Identity{Role: store.RoleStaff, UserID: uuid.New(), TenantID: uuid.New()})
	clk.Advance(30 * time.Minute)
	s.Acquire(ctx, "2348000000002", Identity{Role: store.RoleStaff, UserID: uuid.New(), TenantID: uuid.New()})
	clk.Advance(45 * time.Minute)

	if n := s.Sweep(ctx, clk.Now()); n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestSweeperSchedule(t *testing.T) {
	if _, err := NewSweeper(NewMemoryStore(), "not a cron"); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	w, err := NewSweeper(NewMemoryStore(), "")
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	ref := time.Date(2026, 3, 1, 8, 3, 0, 0, time.UTC)
	next, err := w.Next(ref)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := time.Date(2026, 3, 1, 8, 10, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	w, err := NewSweeper(NewMemoryStore(), "")
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestKindForRole(t *testing.T) {
	tests := []struct {
		role store.Role
		want Kind
	}{
		{store.RoleAdmin, KindStaff},
		{store.RoleStaff, KindStaff},
		{store.RoleGuardian, KindGuardian},
		{"", KindGuardian},
	}
	for _, tt := range tests {
		if got := KindForRole(tt.role); got != tt.want {
			t.Errorf("KindForRole(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}
