package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

const redisKeyPrefix = "edugate:session:"

// RedisStore keeps sessions in Redis so several gateway processes share
// device locks. Redis TTLs handle expiry; reads still check ExpiresAt.
type RedisStore struct {
	rdb  *redis.Client
	opts options
}

func NewRedisStore(rdb *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{rdb: rdb, opts: buildOptions(opts)}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func redisKey(phone string) string {
	return redisKeyPrefix + phone
}

func (r *RedisStore) load(ctx context.Context, phone string) (*Session, error) {
	raw, err := r.rdb.Get(ctx, redisKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Expired(r.opts.now()) {
		return nil, nil
	}
	return &s, nil
}

func (r *RedisStore) save(ctx context.Context, s *Session) error {
	ttl := s.ExpiresAt.Sub(r.opts.now())
	if ttl <= 0 {
		return r.rdb.Del(ctx, redisKey(s.Phone)).Err()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return r.rdb.Set(ctx, redisKey(s.Phone), data, ttl).Err()
}

func (r *RedisStore) Acquire(ctx context.Context, phone string, id Identity) (*Session, error) {
	phone = store.NormalizePhone(phone)
	prev, err := r.load(ctx, phone)
	if err != nil {
		slog.Warn("sessions.redis_read_failed", "phone", phone, "error", err)
		prev = nil
	}
	s := newSession(phone, id, prev, r.opts.now(), r.opts.ttl)
	if err := r.save(ctx, s); err != nil {
		return prev, fmt.Errorf("save session: %w", err)
	}
	return prev, nil
}

func (r *RedisStore) Get(ctx context.Context, phone string) (*Session, bool) {
	phone = store.NormalizePhone(phone)
	s, err := r.load(ctx, phone)
	if err != nil {
		slog.Warn("sessions.redis_read_failed", "phone", phone, "error", err)
		return nil, false
	}
	return s, s != nil
}

func (r *RedisStore) SetContext(ctx context.Context, phone, key, value string) error {
	phone = store.NormalizePhone(phone)
	s, err := r.load(ctx, phone)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		s = newContextSession(phone, r.opts.now(), r.opts.ttl)
	}
	if s.Context == nil {
		s.Context = map[string]string{}
	}
	s.Context[key] = value
	return r.save(ctx, s)
}

func (r *RedisStore) Delete(ctx context.Context, phone string) error {
	return r.rdb.Del(ctx, redisKey(store.NormalizePhone(phone))).Err()
}

// Sweep is a no-op: Redis expires keys itself.
func (r *RedisStore) Sweep(context.Context, time.Time) int {
	return 0
}
