package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"medstock/backend/internal/domain"
)

const (
	inventoryKeyPrefix = "inventory:rows:"
	generationKey      = "inventory:generation"

	// ChannelInventoryUpdated carries a JSON domain.InventoryChange for every
	// change to approved stock.
	ChannelInventoryUpdated = "inventory.updated"
	EventInventoryUpdated   = "inventoryUpdated"
)

// ErrStaleGeneration is returned by Set when an inventory change landed after
// the caller read the generation its rows were built under.
var ErrStaleGeneration = errors.New("inventory changed while rows were built")

// InventoryCache stores built inventory rows per calendar day and signals
// inventory changes to other listeners.
//
// Every change bumps a generation counter. Callers read Generation before
// loading entries and hand it to Set, so rows built from data that was
// already superseded are never written back.
type InventoryCache interface {
	Get(ctx context.Context, day string) ([]domain.InventoryRow, bool, error)
	Generation(ctx context.Context) (int64, error)
	Set(ctx context.Context, day string, generation int64, rows []domain.InventoryRow, ttl time.Duration) error
	// InventoryChanged bumps the generation, drops every cached day and
	// announces the change.
	InventoryChanged(ctx context.Context, change domain.InventoryChange) error
}

func InventoryKey(day string) string {
	return inventoryKeyPrefix + day
}

type NoopInventoryCache struct{}

func (NoopInventoryCache) Get(_ context.Context, _ string) ([]domain.InventoryRow, bool, error) {
	return nil, false, nil
}

func (NoopInventoryCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopInventoryCache) Set(_ context.Context, _ string, _ int64, _ []domain.InventoryRow, _ time.Duration) error {
	return nil
}

func (NoopInventoryCache) InventoryChanged(_ context.Context, _ domain.InventoryChange) error {
	return nil
}

type memoryItem struct {
	rows      []domain.InventoryRow
	expiresAt time.Time
}

// MemoryInventoryCache is the single-process cache used when no Redis address
// is configured. Listeners registered with OnChange run synchronously.
type MemoryInventoryCache struct {
	mu         sync.Mutex
	items      map[string]memoryItem
	generation int64
	listeners  []func(domain.InventoryChange)
	now        func() time.Time
}

func NewMemoryInventoryCache() *MemoryInventoryCache {
	return &MemoryInventoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (c *MemoryInventoryCache) Get(_ context.Context, day string) ([]domain.InventoryRow, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[InventoryKey(day)]
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		delete(c.items, InventoryKey(day))
		return nil, false, nil
	}
	return append([]domain.InventoryRow(nil), item.rows...), true, nil
}

func (c *MemoryInventoryCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *MemoryInventoryCache) Set(_ context.Context, day string, generation int64, rows []domain.InventoryRow, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return ErrStaleGeneration
	}

	item := memoryItem{rows: append([]domain.InventoryRow(nil), rows...)}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}
	c.items[InventoryKey(day)] = item
	return nil
}

func (c *MemoryInventoryCache) InventoryChanged(_ context.Context, change domain.InventoryChange) error {
	c.mu.Lock()
	c.generation++
	c.items = make(map[string]memoryItem)
	listeners := append(([]func(domain.InventoryChange))(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
	return nil
}

func (c *MemoryInventoryCache) OnChange(fn func(domain.InventoryChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}
