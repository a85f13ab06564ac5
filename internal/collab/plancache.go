// internal/collab/plancache.go
package collab

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
)

// PlanCache remembers the execution plan chosen for a query so repeat
// questions can skip source ranking. Lookups are advisory: a miss or a
// cache error just means the pipeline plans from scratch.
type PlanCache interface {
	GetPlan(ctx context.Context, workspaceID, queryText string) (*models.ExecutionPlan, bool)
	PutPlan(ctx context.Context, workspaceID, queryText string, plan *models.ExecutionPlan)
}

func planKey(workspaceID, queryText string) string {
	normalized := strings.ToLower(strings.TrimSpace(queryText))
	sum := sha256.Sum256([]byte(workspaceID + "\x00" + normalized))
	return "plan:" + hex.EncodeToString(sum[:])
}

// RedisPlanCache stores plans in Redis with a TTL, shared across replicas.
type RedisPlanCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisPlanCache(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisPlanCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisPlanCache{
		client: client,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "plan-cache"}),
	}
}

func (c *RedisPlanCache) GetPlan(ctx context.Context, workspaceID, queryText string) (*models.ExecutionPlan, bool) {
	raw, err := c.client.Get(ctx, planKey(workspaceID, queryText)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("plan cache lookup failed", map[string]interface{}{"error": err.Error()})
		return nil, false
	}

	var plan models.ExecutionPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		c.logger.Warn("plan cache entry corrupt", map[string]interface{}{"error": err.Error()})
		return nil, false
	}
	return &plan, true
}

func (c *RedisPlanCache) PutPlan(ctx context.Context, workspaceID, queryText string, plan *models.ExecutionPlan) {
	if plan == nil {
		return
	}
	body, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, planKey(workspaceID, queryText), body, c.ttl).Err(); err != nil {
		c.logger.Warn("plan cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

// MemoryPlanCache is the in-process fallback when Redis is not configured.
// Bounded LRU, safe for concurrent use.
type MemoryPlanCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type memoryPlanEntry struct {
	key  string
	plan models.ExecutionPlan
}

func NewMemoryPlanCache(capacity int) *MemoryPlanCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemoryPlanCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *MemoryPlanCache) GetPlan(ctx context.Context, workspaceID, queryText string) (*models.ExecutionPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[planKey(workspaceID, queryText)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	plan := elem.Value.(*memoryPlanEntry).plan
	return &plan, true
}

func (c *MemoryPlanCache) PutPlan(ctx context.Context, workspaceID, queryText string, plan *models.ExecutionPlan) {
	if plan == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := planKey(workspaceID, queryText)
	if elem, ok := c.items[key]; ok {
		elem.Value.(*memoryPlanEntry).plan = *plan
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&memoryPlanEntry{key: key, plan: *plan})

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryPlanEntry).key)
	}
}

// Len reports the number of cached plans.
func (c *MemoryPlanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// NoopPlanCache never hits. Used when plan reuse is disabled entirely.
type NoopPlanCache struct{}

func (NoopPlanCache) GetPlan(ctx context.Context, workspaceID, queryText string) (*models.ExecutionPlan, bool) {
	return nil, false
}

func (NoopPlanCache) PutPlan(ctx context.Context, workspaceID, queryText string, plan *models.ExecutionPlan) {
}
