package catalog

import (
	"sync"
	"sync/atomic"
	"time"

	"storefront/internal/model"
)

// snapshot is an immutable raw+grouped pair. A new one replaces the old on
// every successful sync; readers hold whichever pointer they loaded.
type snapshot struct {
	raw      []model.RawProduct
	grouped  []model.GroupedProduct
	lastSync time.Time
}

// Cache serves the product catalog from memory.
//
// Reads never block on the network and always see a consistent raw/grouped
// pair. When a sync fails the previous snapshot stays in place. Slices
// returned by the getters are shared with the snapshot and must be treated
// as read-only.
type Cache struct {
	taxonomy *Taxonomy
	current  atomic.Pointer[snapshot]
	syncing  atomic.Bool
	now      func() time.Time

	mu        sync.Mutex
	lastError string
	lastErrAt time.Time
}

// Status is the observability view of the cache.
type Status struct {
	ProductCount int        `json:"product_count"`
	GroupCount   int        `json:"group_count"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	IsSyncing    bool       `json:"is_syncing"`
	LastError    string     `json:"last_error,omitempty"`
	LastErrorAt  *time.Time `json:"last_error_at,omitempty"`
}

// NewCache creates an empty cache grouping with the given taxonomy.
func NewCache(taxonomy *Taxonomy) *Cache {
	if taxonomy == nil {
		taxonomy = DefaultTaxonomy()
	}
	c := &Cache{taxonomy: taxonomy, now: time.Now}
	c.current.Store(&snapshot{
		raw:     []model.RawProduct{},
		grouped: []model.GroupedProduct{},
	})
	return c
}

// Taxonomy returns the taxonomy used for grouping and category filters.
func (c *Cache) Taxonomy() *Taxonomy {
	return c.taxonomy
}

// Update regroups raw and atomically replaces the current snapshot.
func (c *Cache) Update(raw []model.RawProduct) {
	owned := append(make([]model.RawProduct, 0, len(raw)), raw...)
	c.current.Store(&snapshot{
		raw:      owned,
		grouped:  Group(owned, c.taxonomy),
		lastSync: c.now(),
	})

	c.mu.Lock()
	c.lastError = ""
	c.lastErrAt = time.Time{}
	c.mu.Unlock()
}

// GroupedProducts returns the current grouped snapshot, stale or not.
func (c *Cache) GroupedProducts() []model.GroupedProduct {
	return c.current.Load().grouped
}

// RawProducts returns the current raw snapshot.
func (c *Cache) RawProducts() []model.RawProduct {
	return c.current.Load().raw
}

// FindBySKU returns the group containing sku and the variant itself.
func (c *Cache) FindBySKU(sku string) (*model.GroupedProduct, *model.RawProduct, bool) {
	snap := c.current.Load()
	for i := range snap.grouped {
		if v := snap.grouped[i].Variant(sku); v != nil {
			g := snap.grouped[i]
			variant := *v
			return &g, &variant, true
		}
	}
	return nil, nil, false
}

// SetSyncing records whether a sync is running. Observability only.
func (c *Cache) SetSyncing(v bool) {
	c.syncing.Store(v)
}

// TryStartSync sets the syncing flag if it is clear and reports whether it
// did, so that concurrent sync triggers collapse into one.
func (c *Cache) TryStartSync() bool {
	return c.syncing.CompareAndSwap(false, true)
}

// RecordFailure notes a failed sync without touching the snapshot.
func (c *Cache) RecordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = err.Error()
	c.lastErrAt = c.now()
}

// Status reports counts, the last successful sync time and sync state.
func (c *Cache) Status() Status {
	snap := c.current.Load()
	st := Status{
		ProductCount: len(snap.raw),
		GroupCount:   len(snap.grouped),
		IsSyncing:    c.syncing.Load(),
	}
	if !snap.lastSync.IsZero() {
		t := snap.lastSync
		st.LastSync = &t
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st.LastError = c.lastError
	if !c.lastErrAt.IsZero() {
		t := c.lastErrAt
		st.LastErrorAt = &t
	}
	return st
}
