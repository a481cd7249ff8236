package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"odaiboard/internal/phase"
)

// PhaseCache remembers the last announced phase of each topic. The Redis
// version is shared by every API replica so a boundary is announced once.
type PhaseCache struct {
	client *redis.Client
	key    string
}

func NewPhaseCache(client *redis.Client, key string) *PhaseCache {
	return &PhaseCache{client: client, key: key}
}

func (c *PhaseCache) Load(ctx context.Context) (map[string]phase.Phase, error) {
	raw, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load phases: %w", err)
	}
	out := make(map[string]phase.Phase, len(raw))
	for topicID, p := range raw {
		out[topicID] = phase.Phase(p)
	}
	return out, nil
}

func (c *PhaseCache) Save(ctx context.Context, topicID string, p phase.Phase) error {
	if err := c.client.HSet(ctx, c.key, topicID, string(p)).Err(); err != nil {
		return fmt.Errorf("save phase %s: %w", topicID, err)
	}
	return nil
}

func (c *PhaseCache) Forget(ctx context.Context, topicIDs ...string) error {
	if len(topicIDs) == 0 {
		return nil
	}
	if err := c.client.HDel(ctx, c.key, topicIDs...).Err(); err != nil {
		return fmt.Errorf("forget phases: %w", err)
	}
	return nil
}

// MemoryPhaseCache is a process-local PhaseCache.
type MemoryPhaseCache struct {
	mu     sync.Mutex
	phases map[string]phase.Phase
}

func NewMemoryPhaseCache() *MemoryPhaseCache {
	return &MemoryPhaseCache{phases: map[string]phase.Phase{}}
}

func (c *MemoryPhaseCache) Load(context.Context) (map[string]phase.Phase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]phase.Phase, len(c.phases))
	for k, v := range c.phases {
		out[k] = v
	}
	return out, nil
}

func (c *MemoryPhaseCache) Save(_ context.Context, topicID string, p phase.Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phases[topicID] = p
	return nil
}

func (c *MemoryPhaseCache) Forget(_ context.Context, topicIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range topicIDs {
		delete(c.phases, id)
	}
	return nil
}
