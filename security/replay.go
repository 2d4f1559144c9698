package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard remembers processed notification ids for a retention window.
type ReplayGuard interface {
	// Claim returns true when id has not been seen inside the window.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets id so a redelivery is processed again.
	Release(ctx context.Context, id string) error
}

type RedisReplayGuard struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisReplayGuard(client *redis.Client, ttl time.Duration) *RedisReplayGuard {
	return &RedisReplayGuard{redis: client, ttl: ttl}
}

func (g *RedisReplayGuard) key(id string) string {
	return "webhook:seen:" + id
}

func (g *RedisReplayGuard) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := g.redis.SetNX(ctx, g.key(id), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay guard claim %s: %w", id, err)
	}
	return ok, nil
}

func (g *RedisReplayGuard) Release(ctx context.Context, id string) error {
	return g.redis.Del(ctx, g.key(id)).Err()
}

type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryReplayGuard(ttl time.Duration, now func() time.Time) *MemoryReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryReplayGuard{seen: make(map[string]time.Time), ttl: ttl, now: now}
}

// Claim only looks at id's own entry. Expired entries of other ids are
// left to Prune.
func (g *MemoryReplayGuard) Claim(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, dup := g.seen[id]; dup && now.Sub(at) <= g.ttl {
		return false, nil
	}
	g.seen[id] = now
	return true, nil
}

// Prune drops entries older than the retention window and returns how
// many it removed.
func (g *MemoryReplayGuard) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	n := 0
	for k, at := range g.seen {
		if now.Sub(at) > g.ttl {
			delete(g.seen, k)
			n++
		}
	}
	return n
}

// RunPruner prunes every interval until ctx is done.
func (g *MemoryReplayGuard) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.Prune()
		case <-ctx.Done():
			return
		}
	}
}

func (g *MemoryReplayGuard) Release(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, id)
	return nil
}
