package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/cloudcost/internal/docstore"
	"go.uber.org/zap"
)

// EnrichmentSnapshot is an immutable project id -> fields mapping.
type EnrichmentSnapshot struct {
	entries  map[string]map[string]any
	loadedAt time.Time
}

func (s *EnrichmentSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

func (s *EnrichmentSnapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Lookup returns the entry for projectID. The map must not be modified.
func (s *EnrichmentSnapshot) Lookup(projectID string) (map[string]any, bool) {
	if s == nil || projectID == "" {
		return nil, false
	}
	fields, ok := s.entries[projectID]
	return fields, ok
}

// NewEnrichmentSnapshot builds a snapshot from in-memory entries.
func NewEnrichmentSnapshot(entries map[string]map[string]any) *EnrichmentSnapshot {
	copied := make(map[string]map[string]any, len(entries))
	for id, fields := range entries {
		inner := make(map[string]any, len(fields))
		for k, v := range fields {
			inner[k] = v
		}
		copied[id] = inner
	}
	return &EnrichmentSnapshot{entries: copied, loadedAt: time.Now().UTC()}
}

// EnrichmentCache serves project metadata lookups. Reload swaps the whole
// snapshot behind one atomic pointer; lookups never see a partial table.
type EnrichmentCache struct {
	store        docstore.Store
	collection   string
	projectField string
	fields       []string
	log          *zap.Logger

	current  atomic.Pointer[EnrichmentSnapshot]
	loadOnce sync.Once
	loadErr  error
}

type EnrichmentCacheConfig struct {
	Collection     string
	ProjectIDField string
	Fields         []string
}

func NewEnrichmentCache(store docstore.Store, cfg EnrichmentCacheConfig, log *zap.Logger) *EnrichmentCache {
	field := cfg.ProjectIDField
	if field == "" {
		field = "project_id"
	}
	return &EnrichmentCache{
		store:        store,
		collection:   cfg.Collection,
		projectField: field,
		fields:       cfg.Fields,
		log:          nopIfNil(log).Named("enrichment"),
	}
}

// Fields lists the enrichment field names this cache serves.
func (c *EnrichmentCache) Fields() []string { return c.fields }

// Load reads the side table once; later calls return the loaded size.
func (c *EnrichmentCache) Load(ctx context.Context) (int, error) {
	c.loadOnce.Do(func() {
		_, c.loadErr = c.Reload(ctx)
	})
	return c.Len(), c.loadErr
}

// Reload re-reads the side table and swaps it in. On error the previous
// snapshot stays in place.
func (c *EnrichmentCache) Reload(ctx context.Context) (int, error) {
	start := time.Now()
	entries := map[string]map[string]any{}
	for doc, err := range c.store.Documents(ctx, c.collection) {
		if err != nil {
			c.log.Error("enrichment.load_failed", zap.String("collection", c.collection), zap.Error(err))
			return c.Len(), RemoteError("load enrichment", 1, err)
		}
		projectID, _ := doc.Data[c.projectField].(string)
		if projectID == "" {
			continue
		}
		fields := make(map[string]any, len(c.fields))
		for _, name := range c.fields {
			if v, ok := doc.Data[name]; ok && v != nil {
				fields[name] = v
			}
		}
		if len(fields) == 0 {
			continue
		}
		entries[projectID] = fields
	}

	c.current.Store(&EnrichmentSnapshot{entries: entries, loadedAt: time.Now().UTC()})
	c.log.Info("enrichment.loaded",
		zap.String("collection", c.collection),
		zap.Int("projects", len(entries)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return len(entries), nil
}

// Set installs a snapshot directly.
func (c *EnrichmentCache) Set(s *EnrichmentSnapshot) {
	c.current.Store(s)
}

// Snapshot returns the current table; hold it for a consistent view.
func (c *EnrichmentCache) Snapshot() *EnrichmentSnapshot {
	return c.current.Load()
}

func (c *EnrichmentCache) Lookup(projectID string) (map[string]any, bool) {
	if c == nil {
		return nil, false
	}
	return c.Snapshot().Lookup(projectID)
}

func (c *EnrichmentCache) Len() int {
	if c == nil {
		return 0
	}
	return c.Snapshot().Len()
}

func (c *EnrichmentCache) Loaded() bool {
	return c.current.Load() != nil
}
