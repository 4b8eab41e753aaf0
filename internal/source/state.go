package source

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitalsink/vitalsink/internal/logger"
)

// State is the shared session and cooldown state. Persisting it means a
// restart or a second tool observes the same cooldown instead of hammering
// the source again.
type State struct {
	SessionStarted   time.Time
	RateLimitedUntil time.Time
}

// RateLimited reports whether the cooldown is still in effect at now.
func (s State) RateLimited(now time.Time) bool {
	return now.Before(s.RateLimitedUntil)
}

// SessionFresh reports whether the session is young enough to reuse.
func (s State) SessionFresh(now time.Time, maxAge time.Duration) bool {
	return !s.SessionStarted.IsZero() && now.Sub(s.SessionStarted) < maxAge
}

// StateStore persists State across processes.
type StateStore interface {
	Load(ctx context.Context) (State, error)
	MarkSession(ctx context.Context, at time.Time) error
	MarkRateLimited(ctx context.Context, until time.Time) error
	ClearSession(ctx context.Context) error
}

// MemoryStateStore is the in-process fallback.
type MemoryStateStore struct {
	mu    sync.RWMutex
	state State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (m *MemoryStateStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

func (m *MemoryStateStore) MarkSession(ctx context.Context, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.SessionStarted = at
	return nil
}

func (m *MemoryStateStore) MarkRateLimited(ctx context.Context, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.RateLimitedUntil = until
	return nil
}

func (m *MemoryStateStore) ClearSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.SessionStarted = time.Time{}
	return nil
}

const (
	sessionKey     = "vitalsink:source:session_started"
	rateLimitedKey = "vitalsink:source:ratelimited_until"
)

// RedisStateStore keeps State in Redis as unix-second timestamps. The
// cooldown key expires on its own once the cooldown has passed.
type RedisStateStore struct {
	client *redis.Client
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (r *RedisStateStore) Load(ctx context.Context) (State, error) {
	var st State

	vals, err := r.client.MGet(ctx, sessionKey, rateLimitedKey).Result()
	if err != nil {
		return State{}, err
	}
	if t, ok := parseUnix(vals[0]); ok {
		st.SessionStarted = t
	}
	if t, ok := parseUnix(vals[1]); ok {
		st.RateLimitedUntil = t
	}
	return st, nil
}

func (r *RedisStateStore) MarkSession(ctx context.Context, at time.Time) error {
	return r.client.Set(ctx, sessionKey, at.Unix(), 0).Err()
}

func (r *RedisStateStore) MarkRateLimited(ctx context.Context, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return r.client.Del(ctx, rateLimitedKey).Err()
	}
	return r.client.Set(ctx, rateLimitedKey, until.Unix(), ttl).Err()
}

func (r *RedisStateStore) ClearSession(ctx context.Context) error {
	return r.client.Del(ctx, sessionKey).Err()
}

func parseUnix(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

// HybridStateStore writes through to memory and uses Redis when reachable,
// so shared state survives restarts but a Redis outage never blocks a fetch
// cycle.
type HybridStateStore struct {
	redis  *RedisStateStore
	memory *MemoryStateStore
}

// NewHybridStateStore accepts a nil client for memory-only operation.
func NewHybridStateStore(client *redis.Client) *HybridStateStore {
	h := &HybridStateStore{memory: NewMemoryStateStore()}
	if client != nil {
		h.redis = NewRedisStateStore(client)
	}
	return h
}

func (h *HybridStateStore) Load(ctx context.Context) (State, error) {
	if h.redis != nil {
		st, err := h.redis.Load(ctx)
		if err == nil {
			return st, nil
		}
		logger.FromContext(ctx).Warn("redis state unavailable, using in-memory state", "error", err)
	}
	return h.memory.Load(ctx)
}

func (h *HybridStateStore) MarkSession(ctx context.Context, at time.Time) error {
	if err := h.memory.MarkSession(ctx, at); err != nil {
		return err
	}
	if h.redis != nil {
		if err := h.redis.MarkSession(ctx, at); err != nil {
			logger.FromContext(ctx).Warn("failed to persist session state", "error", err)
		}
	}
	return nil
}

func (h *HybridStateStore) MarkRateLimited(ctx context.Context, until time.Time) error {
	if err := h.memory.MarkRateLimited(ctx, until); err != nil {
		return err
	}
	if h.redis != nil {
		if err := h.redis.MarkRateLimited(ctx, until); err != nil {
			logger.FromContext(ctx).Warn("failed to persist cooldown state", "error", err)
		}
	}
	return nil
}

func (h *HybridStateStore) ClearSession(ctx context.Context) error {
	if err := h.memory.ClearSession(ctx); err != nil {
		return err
	}
	if h.redis != nil {
		if err := h.redis.ClearSession(ctx); err != nil {
			logger.FromContext(ctx).Warn("failed to clear session state", "error", err)
		}
	}
	return nil
}

var (
	_ StateStore = (*MemoryStateStore)(nil)
	_ StateStore = (*RedisStateStore)(nil)
	_ StateStore = (*HybridStateStore)(nil)
)
