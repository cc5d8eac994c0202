// Package broker sits between the MCP layer and the usage log: writes are
// fire-and-forget, daily counters are cached per subject.
package broker

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/urfv/yandex-tracker-mcp/internal/db"
	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

// ToolDetail represents a single tool execution in the details array
type ToolDetail struct {
	TaskID string `json:"task_id,omitempty"`
	Module string `json:"module"`
	Tool   string `json:"tool"`
}

// usageStore is the persistence the broker sits on.
type usageStore interface {
	RecordUsage(ctx context.Context, subject, metaTool, requestID string, details []ToolDetail) error
	CountToolsSince(ctx context.Context, subject string, since time.Time) (int, error)
	UsageByDateRange(ctx context.Context, subject string, start, end time.Time) (*db.UsageData, error)
	HealthCheck(ctx context.Context) error
}

type gormStore struct {
	db *gorm.DB
}

func (s gormStore) RecordUsage(ctx context.Context, subject, metaTool, requestID string, details []ToolDetail) error {
	return db.RecordUsage(ctx, s.db, subject, metaTool, requestID, details)
}

func (s gormStore) CountToolsSince(ctx context.Context, subject string, since time.Time) (int, error) {
	return db.CountToolsSince(ctx, s.db, subject, since)
}

func (s gormStore) UsageByDateRange(ctx context.Context, subject string, start, end time.Time) (*db.UsageData, error) {
	return db.GetUsageByDateRange(ctx, s.db, subject, start, end)
}

func (s gormStore) HealthCheck(ctx context.Context) error {
	return db.HealthCheck(ctx, s.db)
}

// UsageBroker records tool usage and answers daily-usage queries.
type UsageBroker struct {
	store   usageStore
	cache   *usageCache
	now     func() time.Time
	pending sync.WaitGroup
}

// NewUsageBroker creates a usage broker on top of a gorm DB.
func NewUsageBroker(database *gorm.DB) *UsageBroker {
	return newUsageBroker(gormStore{db: database})
}

func newUsageBroker(store usageStore) *UsageBroker {
	return &UsageBroker{
		store: store,
		cache: &usageCache{
			items: make(map[string]*usageCacheItem),
			ttl:   30 * time.Second,
		},
		now: time.Now,
	}
}

// HealthCheck verifies database connectivity.
func (b *UsageBroker) HealthCheck(ctx context.Context) error {
	return b.store.HealthCheck(ctx)
}

// DailyUsed returns how many tools subject has executed today (UTC).
// On query failure a stale cached count is returned when available.
func (b *UsageBroker) DailyUsed(ctx context.Context, subject string) (int, error) {
	key := b.cacheKey(subject)
	if used, ok := b.cache.get(key); ok {
		return used, nil
	}

	used, err := b.store.CountToolsSince(ctx, subject, db.DayStart(b.now()))
	if err != nil {
		if stale, ok := b.cache.getStale(key); ok {
			observability.Warn("DailyUsed: using stale count", "subject", subject, "error", err)
			b.cache.set(key, stale)
			return stale, nil
		}
		return 0, err
	}

	b.cache.set(key, used)
	return used, nil
}

// RecordUsage records tool usage asynchronously (fire-and-forget). The
// cached daily count is bumped right away so limits apply before the
// write lands.
func (b *UsageBroker) RecordUsage(subject, metaTool, requestID string, details []ToolDetail) {
	if len(details) == 0 {
		return
	}
	b.cache.add(b.cacheKey(subject), len(details))

	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.store.RecordUsage(ctx, subject, metaTool, requestID, details); err != nil {
			observability.LogError("record usage", err)
		}
	}()
}

// Usage returns per-tool counts for [start, end).
func (b *UsageBroker) Usage(ctx context.Context, subject string, start, end time.Time) (*db.UsageData, error) {
	return b.store.UsageByDateRange(ctx, subject, start, end)
}

// Flush waits for in-flight usage writes.
func (b *UsageBroker) Flush() {
	b.pending.Wait()
}

// cacheKey scopes counts to the current UTC day.
func (b *UsageBroker) cacheKey(subject string) string {
	return db.DayStart(b.now()).Format(time.DateOnly) + "/" + subject
}

// usageCache stores daily counts with TTL
type usageCache struct {
	mu    sync.RWMutex
	items map[string]*usageCacheItem
	ttl   time.Duration
}

type usageCacheItem struct {
	used      int
	expiresAt time.Time
}

func (c *usageCache) get(key string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok || time.Now().After(item.expiresAt) {
		return 0, false
	}
	return item.used, true
}

// getStale returns a cached count even if expired.
func (c *usageCache) getStale(key string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok {
		return 0, false
	}
	return item.used, true
}

func (c *usageCache) set(key string, used int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &usageCacheItem{
		used:      used,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// add bumps an existing entry without extending its lifetime.
func (c *usageCache) add(key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok {
		item.used += n
	}
}

func (c *usageCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}
