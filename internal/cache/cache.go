// Package cache holds the client's materialized view of its lists. Every
// write goes through Patch or Mutate with a pure updater.
package cache

import (
	"slices"
	"sync"

	"github.com/Cameron64/HoneyDo-sub002/internal/model"
)

// OrderKey is the stamp key covering a list's item ordering.
const OrderKey = "#order"

// Stamp records the generation a mutation wrote to a set of keys. A later
// write to the same key supersedes it.
type Stamp struct {
	ListID string
	Keys   []string
	gen    uint64
}

// Cache is the in-memory view of every list this client has loaded. Updaters
// run under the cache lock and must not call back into the cache.
type Cache struct {
	mu        sync.RWMutex
	lists     map[string]model.List
	known     []model.ListMeta
	gens      map[string]map[string]uint64
	seq       uint64
	observers []func(listID string)
}

func New() *Cache {
	return &Cache{
		lists: make(map[string]model.List),
		gens:  make(map[string]map[string]uint64),
	}
}

// OnChange registers fn to run after any change to a list's items.
func (c *Cache) OnChange(fn func(listID string)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Cache) notify(listID string) {
	c.mu.RLock()
	obs := slices.Clone(c.observers)
	c.mu.RUnlock()
	for _, fn := range obs {
		fn(listID)
	}
}

// Get returns a copy of the cached list.
func (c *Cache) Get(listID string) (model.List, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lists[listID]
	if !ok {
		return model.List{}, false
	}
	return l.Clone(), true
}

// Item returns one cached item.
func (c *Cache) Item(listID, itemID string) (model.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lists[listID]
	if !ok {
		return model.Item{}, false
	}
	return l.Item(itemID)
}

// Set replaces the cached list with an authoritative copy. Every item and
// the ordering are stamped, so older in-flight rollbacks leave it alone.
func (c *Cache) Set(l model.List) {
	c.mu.Lock()
	c.lists[l.ID] = l.Clone()
	delete(c.gens, l.ID)
	c.stampLocked(l.ID, append(l.Order(), OrderKey))
	c.upsertKnownLocked(l.Meta())
	c.mu.Unlock()
	c.notify(l.ID)
}

// Patch applies fn to the cached list. It reports false, without calling fn,
// when the list is not cached.
func (c *Cache) Patch(listID string, fn func(model.List) model.List) bool {
	_, ok := c.Mutate(listID, nil, fn)
	return ok
}

// Mutate applies fn like Patch and stamps keys in the same critical section.
func (c *Cache) Mutate(listID string, keys []string, fn func(model.List) model.List) (Stamp, bool) {
	c.mu.Lock()
	cur, ok := c.lists[listID]
	if !ok {
		c.mu.Unlock()
		return Stamp{}, false
	}
	c.lists[listID] = fn(cur.Clone())
	st := c.stampLocked(listID, keys)
	c.mu.Unlock()
	c.notify(listID)
	return st, true
}

func (c *Cache) stampLocked(listID string, keys []string) Stamp {
	c.seq++
	g, ok := c.gens[listID]
	if !ok {
		g = make(map[string]uint64)
		c.gens[listID] = g
	}
	for _, k := range keys {
		g[k] = c.seq
	}
	return Stamp{ListID: listID, Keys: slices.Clone(keys), gen: c.seq}
}

// Current reports whether key still carries the stamp's generation.
func (c *Cache) Current(st Stamp, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[st.ListID][key] == st.gen
}

// Restore rolls the stamped keys back to their state in previous. Keys
// written since the stamp, by another mutation or by a reconciled event, are
// skipped. It returns the keys it restored.
func (c *Cache) Restore(st Stamp, previous model.List) []string {
	c.mu.Lock()
	cur, ok := c.lists[st.ListID]
	if !ok {
		c.mu.Unlock()
		return nil
	}

	var owned []string
	for _, k := range st.Keys {
		if c.gens[st.ListID][k] == st.gen {
			owned = append(owned, k)
		}
	}
	if len(owned) == 0 {
		c.mu.Unlock()
		return nil
	}

	prevPos := make(map[string]int, len(previous.Items))
	for i, it := range previous.Items {
		prevPos[it.ID] = i
	}
	// Restore in previous order so re-inserted items land where they were.
	slices.SortStableFunc(owned, func(a, b string) int {
		pa, oka := prevPos[a]
		pb, okb := prevPos[b]
		switch {
		case oka && okb:
			return pa - pb
		case oka:
			return -1
		case okb:
			return 1
		}
		return 0
	})

	next := cur.Clone()
	for _, k := range owned {
		if k == OrderKey {
			next = restoreOrder(next, previous, prevPos)
			continue
		}
		prev, had := previous.Item(k)
		idx := next.Index(k)
		switch {
		case had && idx >= 0:
			next.Items[idx] = prev
		case had:
			at := min(prevPos[k], len(next.Items))
			next.Items = slices.Insert(next.Items, at, prev)
		case idx >= 0:
			next.Items = slices.Delete(next.Items, idx, idx+1)
		}
	}
	c.lists[st.ListID] = next
	c.mu.Unlock()
	c.notify(st.ListID)
	return owned
}

func restoreOrder(cur, previous model.List, prevPos map[string]int) model.List {
	for i := range cur.Items {
		if p, ok := previous.Item(cur.Items[i].ID); ok {
			cur.Items[i].SortOrder = p.SortOrder
		}
	}
	slices.SortStableFunc(cur.Items, func(a, b model.Item) int {
		pa, oka := prevPos[a.ID]
		pb, okb := prevPos[b.ID]
		switch {
		case oka && okb:
			return pa - pb
		case oka:
			return -1
		case okb:
			return 1
		}
		return 0
	})
	return cur
}

// Lists returns the known lists in the order they were first seen.
func (c *Cache) Lists() []model.ListMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.known)
}

// PutList adds or replaces a list in the known set. A cached copy of the
// list keeps its items and takes the new name and archived flag.
func (c *Cache) PutList(meta model.ListMeta) {
	c.mu.Lock()
	c.upsertKnownLocked(meta)
	l, cached := c.lists[meta.ID]
	if cached {
		l.Name = meta.Name
		l.Archived = meta.Archived
		c.lists[meta.ID] = l
	}
	c.mu.Unlock()
	if cached {
		c.notify(meta.ID)
	}
}

func (c *Cache) upsertKnownLocked(meta model.ListMeta) {
	i := slices.IndexFunc(c.known, func(m model.ListMeta) bool { return m.ID == meta.ID })
	if i >= 0 {
		c.known[i] = meta
		return
	}
	c.known = append(c.known, meta)
}

// RemoveList forgets a list and any cached items for it.
func (c *Cache) RemoveList(listID string) {
	c.mu.Lock()
	c.known = slices.DeleteFunc(c.known, func(m model.ListMeta) bool { return m.ID == listID })
	_, cached := c.lists[listID]
	delete(c.lists, listID)
	delete(c.gens, listID)
	c.mu.Unlock()
	if cached {
		c.notify(listID)
	}
}
