// Package guild holds the in-memory view of per-server settings.
package guild

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"lurkbot/internal/domain"
)

type snapshot map[string]domain.ServerConfig

// Cache mirrors the server store. Reads load an immutable snapshot and never
// lock; writers hold mu, write the store first and publish a new snapshot only
// when the write succeeded.
type Cache struct {
	store  domain.ServerStore
	logger *slog.Logger

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewCache returns an empty cache backed by store.
func NewCache(store domain.ServerStore, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{store: store, logger: logger}
	empty := snapshot{}
	c.snap.Store(&empty)
	return c
}

// Get returns the cached settings for serverID.
func (c *Cache) Get(serverID string) (domain.ServerConfig, bool) {
	cfg, ok := (*c.snap.Load())[serverID]
	return cfg, ok
}

// Len returns the number of cached servers.
func (c *Cache) Len() int {
	return len(*c.snap.Load())
}

// All returns every cached server ordered by id.
func (c *Cache) All() []domain.ServerConfig {
	snap := *c.snap.Load()
	out := make([]domain.ServerConfig, 0, len(snap))
	for _, cfg := range snap {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// Set upserts the patch into the store and then into the cache. A new row
// starts enabled.
func (c *Cache) Set(ctx context.Context, serverID string, patch domain.ServerPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.UpsertServer(ctx, serverID, patch); err != nil {
		return fmt.Errorf("save server %s: %w", serverID, err)
	}
	c.applyLocked(ctx, serverID, patch)
	return nil
}

// Update patches an existing server. It returns domain.ErrServerNotConfigured
// (wrapped) when the store has no row for serverID.
func (c *Cache) Update(ctx context.Context, serverID string, patch domain.ServerPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.UpdateServer(ctx, serverID, patch); err != nil {
		return fmt.Errorf("update server %s: %w", serverID, err)
	}
	c.applyLocked(ctx, serverID, patch)
	return nil
}

func (c *Cache) applyLocked(ctx context.Context, serverID string, patch domain.ServerPatch) {
	old := *c.snap.Load()
	next := make(snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}

	if cfg, ok := old[serverID]; ok {
		next[serverID] = patch.Apply(cfg)
	} else if stored, err := c.store.GetServer(ctx, serverID); err == nil {
		next[serverID] = *stored
	} else {
		c.logger.Warn("re-reading server after write failed", "server", serverID, "err", err)
		next[serverID] = patch.Apply(domain.ServerConfig{ServerID: serverID, Enabled: true})
	}
	c.snap.Store(&next)
}

// LoadAll replaces the whole cache with the store contents. On error the
// previous snapshot stays in place.
func (c *Cache) LoadAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	servers, err := c.store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("load servers: %w", err)
	}
	next := make(snapshot, len(servers))
	for _, cfg := range servers {
		next[cfg.ServerID] = cfg
	}
	c.snap.Store(&next)
	c.logger.Info("server cache loaded", "servers", len(next))
	return nil
}
