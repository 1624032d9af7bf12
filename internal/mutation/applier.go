// Package mutation applies list mutations optimistically: the cache shows the
// predicted result at once, and the request either confirms it, rolls it
// back, or is queued while offline.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Cameron64/HoneyDo-sub002/internal/cache"
	"github.com/Cameron64/HoneyDo-sub002/internal/model"
	"github.com/Cameron64/HoneyDo-sub002/internal/offline"
	"github.com/Cameron64/HoneyDo-sub002/internal/undo"
)

// TempIDPrefix marks ids assigned to optimistic adds before the server
// answers.
const TempIDPrefix = "tmp-"

var (
	ErrNotCached    = errors.New("list not loaded")
	ErrItemNotFound = errors.New("item not in list")
	ErrEmptyName    = errors.New("item name is required")
	// ErrNotUndoable is returned when undoing a bulk clear. Restoring many
	// items at once is not supported.
	ErrNotUndoable = errors.New("action cannot be undone")
)

// API is the server side of each mutation.
type API interface {
	AddItem(ctx context.Context, listID string, in model.ItemInput) (model.Item, error)
	UpdateItem(ctx context.Context, itemID string, p model.ItemPatch) (model.Item, error)
	RemoveItem(ctx context.Context, itemID string) error
	CheckItem(ctx context.Context, itemID string, checked bool) (model.Item, error)
	CheckItems(ctx context.Context, itemIDs []string, checked bool) ([]model.Item, error)
	ReorderItems(ctx context.Context, listID string, orderedIDs []string) error
	ClearChecked(ctx context.Context, listID string) ([]string, error)
}

// Connectivity reports whether requests should be sent or queued.
type Connectivity interface {
	Online() bool
}

type Options struct {
	// Actor is stamped as checkedBy on optimistic checks.
	Actor  string
	Now    func() time.Time
	Logger *slog.Logger
	// Context decorates the context of a replayed request, for example to
	// carry the queued action's id.
	Context func(ctx context.Context, a offline.QueuedAction) context.Context
	// Retryable reports errors that mean the server was not reached.
	Retryable func(error) bool
}

// Applier runs mutations against one client's cache. It is safe for
// concurrent use; overlapping mutations each roll back only what they wrote.
type Applier struct {
	cache  *cache.Cache
	api    API
	queue  *offline.Queue
	undo   *undo.Stack
	conn   Connectivity
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	aliases map[string]string
}

func New(c *cache.Cache, api API, q *offline.Queue, u *undo.Stack, conn Connectivity, opts Options) *Applier {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		cache:   c,
		api:     api,
		queue:   q,
		undo:    u,
		conn:    conn,
		opts:    opts,
		logger:  logger,
		aliases: make(map[string]string),
	}
}

// op describes one optimistic mutation. Offline, each payload is queued as
// its own action of type queued.
type op struct {
	name     string
	listID   string
	keys     []string
	predict  func(model.List) model.List
	undo     *undo.Action
	queued   offline.ActionType
	payloads []any
	send     func(ctx context.Context) error
}

func (a *Applier) run(ctx context.Context, o op) error {
	previous, ok := a.cache.Get(o.listID)
	if !ok {
		return fmt.Errorf("%s: %w", o.name, ErrNotCached)
	}

	st, ok := a.cache.Mutate(o.listID, o.keys, o.predict)
	if !ok {
		return fmt.Errorf("%s: %w", o.name, ErrNotCached)
	}

	var undoID string
	if o.undo != nil {
		o.undo.ListID = o.listID
		undoID = a.undo.Push(*o.undo)
	}

	if !a.conn.Online() {
		actions := make([]offline.QueuedAction, 0, len(o.payloads))
		for _, payload := range o.payloads {
			qa, err := offline.NewAction(o.queued, payload)
			if err != nil {
				a.rollback(o, st, previous, undoID, err)
				return fmt.Errorf("%s: %w", o.name, err)
			}
			actions = append(actions, qa)
		}
		for _, qa := range actions {
			qa = a.queue.Enqueue(ctx, qa)
			a.logger.Debug("queued offline mutation", "op", o.name, "action_id", qa.ID, "list_id", o.listID)
		}
		return nil
	}

	if err := o.send(ctx); err != nil {
		a.rollback(o, st, previous, undoID, err)
		return fmt.Errorf("%s: %w", o.name, err)
	}
	return nil
}

func (a *Applier) rollback(o op, st cache.Stamp, previous model.List, undoID string, cause error) {
	restored := a.cache.Restore(st, previous)
	if undoID != "" {
		a.undo.Remove(undoID)
	}
	a.logger.Warn("mutation failed, rolled back", "op", o.name, "list_id", o.listID,
		"restored", len(restored), "keys", len(o.keys), "error", cause)
}

func (a *Applier) actor() *string {
	if a.opts.Actor == "" {
		return nil
	}
	actor := a.opts.Actor
	return &actor
}

// Add appends an item under a temporary id and swaps in the server's item
// once it is created. Offline, the predicted item is returned and the temp id
// stays until replay.
func (a *Applier) Add(ctx context.Context, listID string, in model.ItemInput) (model.Item, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return model.Item{}, fmt.Errorf("add item: %w", ErrEmptyName)
	}

	tempID := TempIDPrefix + uuid.NewString()
	var result model.Item
	err := a.run(ctx, op{
		name:   "add item",
		listID: listID,
		keys:   []string{tempID},
		predict: func(l model.List) model.List {
			result = model.NewItem(tempID, listID, in, l.NextSortOrder())
			return l.WithItem(result)
		},
		queued:   offline.ActionAdd,
		payloads: []any{addPayload{ListID: listID, TempID: tempID, Item: in}},
		send: func(ctx context.Context) error {
			it, err := a.api.AddItem(ctx, listID, in)
			if err != nil {
				return err
			}
			a.confirmAdd(listID, tempID, it, false)
			result = it
			return nil
		},
	})
	if err != nil {
		return model.Item{}, err
	}
	return result, nil
}

// confirmAdd swaps the temporary item for the server's. With keepLocal the
// cached temporary item only takes the server id, so optimistic edits queued
// after the add stay visible, and a temporary item that is no longer cached
// (deleted while queued, or never loaded) is not brought back.
func (a *Applier) confirmAdd(listID, tempID string, it model.Item, keepLocal bool) {
	if keepLocal {
		if _, ok := a.cache.Item(listID, tempID); !ok {
			return
		}
	}
	a.cache.Mutate(listID, []string{tempID, it.ID}, func(l model.List) model.List {
		local, ok := l.Item(tempID)
		if !keepLocal {
			return l.SwapItem(tempID, it)
		}
		if !ok {
			return l
		}
		local.ID = it.ID
		return l.SwapItem(tempID, local)
	})
}

// Update writes the non-nil fields of p onto the item.
func (a *Applier) Update(ctx context.Context, listID, itemID string, p model.ItemPatch) error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("update item: %w", ErrEmptyName)
	}
	if _, ok := a.cache.Item(listID, itemID); !ok {
		return fmt.Errorf("update item %s: %w", itemID, ErrItemNotFound)
	}
	return a.run(ctx, op{
		name:   "update item",
		listID: listID,
		keys:   []string{itemID},
		predict: func(l model.List) model.List {
			it, ok := l.Item(itemID)
			if !ok {
				return l
			}
			return l.ReplaceItem(p.Apply(it))
		},
		queued:   offline.ActionUpdate,
		payloads: []any{updatePayload{ListID: listID, ItemID: itemID, Patch: p}},
		send: func(ctx context.Context) error {
			_, err := a.api.UpdateItem(ctx, itemID, p)
			return err
		},
	})
}

// Delete removes the item and offers an undo that re-adds it.
func (a *Applier) Delete(ctx context.Context, listID, itemID string) error {
	it, ok := a.cache.Item(listID, itemID)
	if !ok {
		return fmt.Errorf("delete item %s: %w", itemID, ErrItemNotFound)
	}
	return a.run(ctx, op{
		name:    "delete item",
		listID:  listID,
		keys:    []string{itemID},
		predict: func(l model.List) model.List { return l.WithoutItems(itemID) },
		undo: &undo.Action{
			Type:    undo.TypeDelete,
			ItemIDs: []string{itemID},
			Label:   fmt.Sprintf("Deleted %q", it.Name),
			Inverse: []model.Item{it},
		},
		queued:   offline.ActionDelete,
		payloads: []any{deletePayload{ListID: listID, ItemIDs: []string{itemID}}},
		send: func(ctx context.Context) error {
			return a.api.RemoveItem(ctx, itemID)
		},
	})
}

// Check sets one item's checked state.
func (a *Applier) Check(ctx context.Context, listID, itemID string, checked bool) error {
	return a.check(ctx, listID, []string{itemID}, checked)
}

// CheckBulk sets the checked state of many items in a single cache patch.
func (a *Applier) CheckBulk(ctx context.Context, listID string, itemIDs []string, checked bool) error {
	return a.check(ctx, listID, itemIDs, checked)
}

// checkState is the checked state one item is moved to.
type checkState struct {
	id      string
	checked bool
	by      *string
	at      time.Time
}

func (a *Applier) check(ctx context.Context, listID string, itemIDs []string, checked bool) error {
	l, ok := a.cache.Get(listID)
	if !ok {
		return fmt.Errorf("check items: %w", ErrNotCached)
	}
	by, at := a.actor(), a.opts.Now()
	var before []model.Item
	var states []checkState
	for _, id := range itemIDs {
		if it, ok := l.Item(id); ok {
			before = append(before, it)
			states = append(states, checkState{id: id, checked: checked, by: by, at: at})
		}
	}
	if len(states) == 0 {
		return fmt.Errorf("check items: %w", ErrItemNotFound)
	}

	u := &undo.Action{
		Type:    undo.TypeCheck,
		ItemIDs: checkIDs(states),
		Label:   checkLabel(checked, before),
		Inverse: before,
	}
	if !checked {
		u.Type = undo.TypeUncheck
	}
	return a.applyChecks(ctx, listID, states, u)
}

// restoreChecks moves each item back to the checked state it had in prev.
func (a *Applier) restoreChecks(ctx context.Context, listID string, prev []model.Item) error {
	l, ok := a.cache.Get(listID)
	if !ok {
		return fmt.Errorf("check items: %w", ErrNotCached)
	}
	now := a.opts.Now()
	var states []checkState
	for _, it := range prev {
		if _, ok := l.Item(it.ID); !ok {
			continue
		}
		at := now
		if it.CheckedAt != nil {
			at = *it.CheckedAt
		}
		states = append(states, checkState{id: it.ID, checked: it.Checked, by: it.CheckedBy, at: at})
	}
	if len(states) == 0 {
		return fmt.Errorf("check items: %w", ErrItemNotFound)
	}
	return a.applyChecks(ctx, listID, states, nil)
}

// applyChecks writes every state in one cache patch and sends one request
// per target state.
func (a *Applier) applyChecks(ctx context.Context, listID string, states []checkState, u *undo.Action) error {
	var checkedIDs, uncheckedIDs []string
	for _, st := range states {
		if st.checked {
			checkedIDs = append(checkedIDs, st.id)
		} else {
			uncheckedIDs = append(uncheckedIDs, st.id)
		}
	}
	groups := []checkPayload{
		{ListID: listID, ItemIDs: checkedIDs, Checked: true},
		{ListID: listID, ItemIDs: uncheckedIDs, Checked: false},
	}
	groups = slices.DeleteFunc(groups, func(g checkPayload) bool { return len(g.ItemIDs) == 0 })

	o := op{
		name:   "check item",
		listID: listID,
		keys:   checkIDs(states),
		predict: func(l model.List) model.List {
			for _, st := range states {
				if it, ok := l.Item(st.id); ok {
					l = l.ReplaceItem(it.WithChecked(st.checked, st.by, st.at))
				}
			}
			return l
		},
		undo:   u,
		queued: offline.ActionCheck,
		send: func(ctx context.Context) error {
			for _, g := range groups {
				if err := a.sendCheck(ctx, g.ItemIDs, g.Checked); err != nil {
					return err
				}
			}
			return nil
		},
	}
	for _, g := range groups {
		o.payloads = append(o.payloads, g)
	}
	if len(states) > 1 {
		o.name = "check items"
	}
	return a.run(ctx, o)
}

func (a *Applier) sendCheck(ctx context.Context, ids []string, checked bool) error {
	if len(ids) == 1 {
		_, err := a.api.CheckItem(ctx, ids[0], checked)
		return err
	}
	_, err := a.api.CheckItems(ctx, ids, checked)
	return err
}

func checkIDs(states []checkState) []string {
	ids := make([]string, len(states))
	for i, st := range states {
		ids[i] = st.id
	}
	return ids
}

func checkLabel(checked bool, items []model.Item) string {
	verb := "Checked"
	if !checked {
		verb = "Unchecked"
	}
	if len(items) == 1 {
		return fmt.Sprintf("%s %q", verb, items[0].Name)
	}
	return fmt.Sprintf("%s %d items", verb, len(items))
}

// Reorder moves the given items to the front in the given order; unlisted
// items follow in their current order. The server always receives the full
// resulting sequence. The order stays provisional until the items:reordered
// event arrives.
func (a *Applier) Reorder(ctx context.Context, listID string, orderedIDs []string) error {
	l, ok := a.cache.Get(listID)
	if !ok {
		return fmt.Errorf("reorder items: %w", ErrNotCached)
	}
	ids := l.Reordered(orderedIDs).Order()
	return a.run(ctx, op{
		name:     "reorder items",
		listID:   listID,
		keys:     []string{cache.OrderKey},
		predict:  func(l model.List) model.List { return l.Reordered(ids) },
		queued:   offline.ActionReorder,
		payloads: []any{reorderPayload{ListID: listID, ItemIDs: ids}},
		send: func(ctx context.Context) error {
			return a.api.ReorderItems(ctx, listID, ids)
		},
	})
}

// ClearChecked removes every checked item. Its undo entry exists so the UI
// can show what happened, but cannot be applied.
func (a *Applier) ClearChecked(ctx context.Context, listID string) error {
	l, ok := a.cache.Get(listID)
	if !ok {
		return fmt.Errorf("clear checked: %w", ErrNotCached)
	}
	var cleared []model.Item
	var ids []string
	for _, it := range l.Items {
		if it.Checked {
			cleared = append(cleared, it)
			ids = append(ids, it.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return a.run(ctx, op{
		name:    "clear checked",
		listID:  listID,
		keys:    ids,
		predict: func(l model.List) model.List { return l.WithoutItems(ids...) },
		undo: &undo.Action{
			Type:    undo.TypeClear,
			ItemIDs: ids,
			Label:   fmt.Sprintf("Cleared %d items", len(ids)),
			Inverse: cleared,
		},
		queued:   offline.ActionDelete,
		payloads: []any{deletePayload{ListID: listID, ItemIDs: ids}},
		send: func(ctx context.Context) error {
			_, err := a.api.ClearChecked(ctx, listID)
			return err
		},
	})
}

// Undo applies the inverse of an undo entry at most once. A missing or
// expired entry is a no-op. Failures of the inverse are logged and
// swallowed; the entry is gone either way.
func (a *Applier) Undo(ctx context.Context, undoID string) error {
	act, ok := a.undo.Pop(undoID)
	if !ok {
		return nil
	}

	var err error
	switch act.Type {
	case undo.TypeCheck, undo.TypeUncheck:
		err = a.restoreChecks(ctx, act.ListID, act.Inverse)
	case undo.TypeDelete:
		for _, it := range act.Inverse {
			if _, addErr := a.Add(ctx, act.ListID, model.InputFrom(it)); addErr != nil {
				err = errors.Join(err, addErr)
			}
		}
	case undo.TypeClear:
		return fmt.Errorf("undo %s: %w", act.Label, ErrNotUndoable)
	default:
		return fmt.Errorf("undo %s: unknown type %q", act.Label, act.Type)
	}
	if err != nil {
		a.logger.Info("undo could not be applied", "undo_id", act.ID, "label", act.Label, "error", err)
	}
	return nil
}
