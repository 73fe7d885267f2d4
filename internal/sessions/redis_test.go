package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	clk := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	return NewRedisStore(rdb, WithTTL(time.Hour), WithClock(clk.Now)), mr, clk
}

func TestRedisContextCarriesForward(t *testing.T) {
	s, _, _ := newRedisTestStore(t)
	ctx := context.Background()
	phone := "2348012345678"
	user := uuid.New()

	if err := s.SetContext(ctx, phone, ContextName, "Ada"); err != nil {
		t.Fatalf("set context: %v", err)
	}
	prev, err := s.Acquire(ctx, phone, Identity{Role: store.RoleGuardian, UserID: user, TenantID: uuid.New()})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if prev == nil || prev.HoldsDevice() {
		t.Errorf("previous = %+v, want context-only session", prev)
	}
	got, ok := s.Get(ctx, phone)
	if !ok || got.UserID != user || got.Context[ContextName] != "Ada" {
		t.Errorf("get = (%+v, %v)", got, ok)
	}
	if err := s.Delete(ctx, phone); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Get(ctx, phone); ok {
		t.Error("session should be gone after delete")
	}
}

func TestRedisAcquireReplacesDeviceLock(t *testing.T) {
	s, _, _ := newRedisTestStore(t)
	ctx := context.Background()
	phone := "2348012345678"
	tenant := uuid.New()
	userA, userB := uuid.New(), uuid.New()

	if _, err := s.Acquire(ctx, "+234 801 234 5678", Identity{Role: store.RoleStaff, UserID: userA, TenantID: tenant, Channel: "whatsapp"}); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	prev, err := s.Acquire(ctx, phone, Identity{Role: store.RoleGuardian, UserID: userB, TenantID: tenant, Channel: "whatsapp"})
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if prev == nil || !prev.HoldsDevice() || prev.UserID != userA || prev.Kind != KindStaff {
		t.Fatalf("previous = %+v, want staff session for user A", prev)
	}

	got, ok := s.Get(ctx, phone)
	if !ok || got.UserID != userB || got.Kind != KindGuardian {
		t.Errorf("session = (%+v, %v), want guardian session for user B", got, ok)
	}
	if got.ID != BuildSessionKey(tenant, "whatsapp", PeerDirect, phone) {
		t.Errorf("session id = %q", got.ID)
	}
}

func TestRedisSessionExpiry(t *testing.T) {
	s, mr, clk := newRedisTestStore(t)
	ctx := context.Background()
	phone := "2348012345678"

	if _, err := s.Acquire(ctx, phone, Identity{Role: store.RoleStaff, UserID: uuid.New(), TenantID: uuid.New()}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ttl := mr.TTL(redisKey(phone)); ttl != time.Hour {
		t.Errorf("key ttl = %v, want 1h", ttl)
	}

	clk.Advance(time.Hour)
	if _, ok := s.Get(ctx, phone); ok {
		t.Error("session should be absent at expiry even before redis drops the key")
	}

	mr.FastForward(time.Hour)
	if mr.Exists(redisKey(phone)) {
		t.Error("redis should have expired the key")
	}
	prev, err := s.Acquire(ctx, phone, Identity{Role: store.RoleGuardian, UserID: uuid.New(), TenantID: uuid.New()})
	if err != nil || prev != nil {
		t.Errorf("acquire over expired = (%v, %v), want no previous", prev, err)
	}
}
