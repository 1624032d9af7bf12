// Package reconcile applies server-broadcast events to the list cache. Events
// are authoritative: each one stamps the keys it writes so a rollback still in
// flight cannot overwrite it.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Cameron64/HoneyDo-sub002/internal/cache"
	"github.com/Cameron64/HoneyDo-sub002/internal/model"
	"github.com/Cameron64/HoneyDo-sub002/internal/websocket"
)

// ItemsAdded is the payload of items:added.
type ItemsAdded struct {
	ListID string       `json:"listId"`
	Items  []model.Item `json:"items"`
}

// ItemRemoved is the payload of item:removed.
type ItemRemoved struct {
	ListID string `json:"listId"`
	ItemID string `json:"itemId"`
}

// ItemChecked is the payload of item:checked.
type ItemChecked struct {
	ListID    string     `json:"listId"`
	ItemID    string     `json:"itemId"`
	Checked   bool       `json:"checked"`
	CheckedBy *string    `json:"checkedBy"`
	CheckedAt *time.Time `json:"checkedAt"`
}

// ItemIDs is the payload of items:cleared and items:reordered.
type ItemIDs struct {
	ListID  string   `json:"listId"`
	ItemIDs []string `json:"itemIds"`
}

// Reconciler applies events for the watched list, plus list-level events for
// every list.
type Reconciler struct {
	cache  *cache.Cache
	logger *slog.Logger

	mu      sync.RWMutex
	watched string
}

func New(c *cache.Cache, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{cache: c, logger: logger.With("component", "reconcile")}
}

// Watch sets the list whose item events are applied.
func (r *Reconciler) Watch(listID string) {
	r.mu.Lock()
	r.watched = listID
	r.mu.Unlock()
}

func (r *Reconciler) watching(listID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return listID != "" && listID == r.watched
}

// Run handles events in arrival order until the channel closes or ctx ends.
// Malformed events are logged and skipped.
func (r *Reconciler) Run(ctx context.Context, events <-chan websocket.Message) error {
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.Handle(msg); err != nil {
				r.logger.Warn("skipping event", "event", msg.Event, "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Handle applies one event. Applying the same event twice leaves the cache as
// applying it once.
func (r *Reconciler) Handle(msg websocket.Message) error {
	switch msg.Event {
	case websocket.EventItemAdded:
		var it model.Item
		if err := msg.Decode(&it); err != nil {
			return err
		}
		r.addItems(it.ListID, []model.Item{it})

	case websocket.EventItemsAdded:
		var p ItemsAdded
		if err := msg.Decode(&p); err != nil {
			return err
		}
		r.addItems(p.ListID, p.Items)

	case websocket.EventItemUpdated:
		var it model.Item
		if err := msg.Decode(&it); err != nil {
			return err
		}
		r.patch(it.ListID, []string{it.ID}, func(l model.List) model.List {
			return l.ReplaceItem(it)
		})

	case websocket.EventItemRemoved:
		var p ItemRemoved
		if err := msg.Decode(&p); err != nil {
			return err
		}
		r.patch(p.ListID, []string{p.ItemID}, func(l model.List) model.List {
			return l.WithoutItems(p.ItemID)
		})

	case websocket.EventItemChecked:
		var p ItemChecked
		if err := msg.Decode(&p); err != nil {
			return err
		}
		r.patch(p.ListID, []string{p.ItemID}, func(l model.List) model.List {
			it, ok := l.Item(p.ItemID)
			if !ok {
				return l
			}
			it.Checked = p.Checked
			it.CheckedBy, it.CheckedAt = nil, nil
			if p.Checked {
				it.CheckedBy, it.CheckedAt = p.CheckedBy, p.CheckedAt
			}
			return l.ReplaceItem(it)
		})

	case websocket.EventItemsCleared:
		var p ItemIDs
		if err := msg.Decode(&p); err != nil {
			return err
		}
		r.patch(p.ListID, p.ItemIDs, func(l model.List) model.List {
			return l.WithoutItems(p.ItemIDs...)
		})

	case websocket.EventItemsReordered:
		var p ItemIDs
		if err := msg.Decode(&p); err != nil {
			return err
		}
		r.patch(p.ListID, []string{cache.OrderKey}, func(l model.List) model.List {
			return l.Reordered(p.ItemIDs)
		})

	case websocket.EventListCreated, websocket.EventListUpdated:
		var meta model.ListMeta
		if err := msg.Decode(&meta); err != nil {
			return err
		}
		if meta.ID == "" {
			return fmt.Errorf("%s: missing list id", msg.Event)
		}
		r.cache.PutList(meta)

	case websocket.EventListArchived:
		var meta model.ListMeta
		if err := msg.Decode(&meta); err != nil {
			return err
		}
		if meta.ID == "" {
			return fmt.Errorf("%s: missing list id", msg.Event)
		}
		r.cache.RemoveList(meta.ID)

	default:
		r.logger.Debug("ignoring unknown event", "event", msg.Event)
	}
	return nil
}

func (r *Reconciler) addItems(listID string, items []model.Item) {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.ID
	}
	r.patch(listID, keys, func(l model.List) model.List {
		for _, it := range items {
			l = l.WithItem(it)
		}
		return l
	})
}

func (r *Reconciler) patch(listID string, keys []string, fn func(model.List) model.List) {
	if !r.watching(listID) {
		return
	}
	if _, ok := r.cache.Mutate(listID, keys, fn); !ok {
		r.logger.Debug("event for list not in cache", "list_id", listID)
	}
}
