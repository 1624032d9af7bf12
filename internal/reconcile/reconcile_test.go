package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cameron64/HoneyDo-sub002/internal/cache"
	"github.com/Cameron64/HoneyDo-sub002/internal/model"
	"github.com/Cameron64/HoneyDo-sub002/internal/websocket"
)

func setup(t *testing.T) (*cache.Cache, *Reconciler) {
	t.Helper()
	c := cache.New()
	c.Set(model.List{
		ID:   "list-1",
		Name: "Grocery",
		Items: []model.Item{
			{ID: "a", ListID: "list-1", Name: "Apples", SortOrder: 0},
			{ID: "b", ListID: "list-1", Name: "Bread", SortOrder: 1},
			{ID: "c", ListID: "list-1", Name: "Cheese", SortOrder: 2},
		},
	})
	r := New(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Watch("list-1")
	return c, r
}

func msg(t *testing.T, event string, data any) websocket.Message {
	t.Helper()
	m, err := websocket.NewMessage(event, data)
	require.NoError(t, err)
	return m
}

func get(t *testing.T, c *cache.Cache) model.List {
	t.Helper()
	l, ok := c.Get("list-1")
	require.True(t, ok)
	return l
}

func TestEventsAreIdempotent(t *testing.T) {
	by := "member-2"
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for _, m := range []struct {
		name  string
		event string
		data  any
	}{
		{"item added", websocket.EventItemAdded, model.Item{ID: "d", ListID: "list-1", Name: "Dates", SortOrder: 3}},
		{"items added", websocket.EventItemsAdded, ItemsAdded{ListID: "list-1", Items: []model.Item{{ID: "d", ListID: "list-1", Name: "Dates", SortOrder: 3}, {ID: "e", ListID: "list-1", Name: "Eggs", SortOrder: 4}}}},
		{"item updated", websocket.EventItemUpdated, model.Item{ID: "b", ListID: "list-1", Name: "Bagels", SortOrder: 1}},
		{"item removed", websocket.EventItemRemoved, ItemRemoved{ListID: "list-1", ItemID: "b"}},
		{"item checked", websocket.EventItemChecked, ItemChecked{ListID: "list-1", ItemID: "a", Checked: true, CheckedBy: &by, CheckedAt: &at}},
		{"items cleared", websocket.EventItemsCleared, ItemIDs{ListID: "list-1", ItemIDs: []string{"a", "c"}}},
		{"items reordered", websocket.EventItemsReordered, ItemIDs{ListID: "list-1", ItemIDs: []string{"c", "a", "b"}}},
	} {
		t.Run(m.name, func(t *testing.T) {
			c, r := setup(t)
			ev := msg(t, m.event, m.data)

			require.NoError(t, r.Handle(ev))
			once := get(t, c)
			require.NoError(t, r.Handle(ev))
			assert.Equal(t, once, get(t, c))
		})
	}
}

func TestItemAddedDedupes(t *testing.T) {
	c, r := setup(t)
	require.NoError(t, r.Handle(msg(t, websocket.EventItemAdded, model.Item{ID: "a", ListID: "list-1", Name: "Other"})))

	l := get(t, c)
	assert.Len(t, l.Items, 3)
	assert.Equal(t, "Apples", l.Items[0].Name)
}

func TestItemUpdatedMissingIsNoop(t *testing.T) {
	c, r := setup(t)
	before := get(t, c)
	require.NoError(t, r.Handle(msg(t, websocket.EventItemUpdated, model.Item{ID: "zzz", ListID: "list-1", Name: "Ghost"})))
	assert.Equal(t, before, get(t, c))
}

func TestItemCheckedSetsFieldsTogether(t *testing.T) {
	c, r := setup(t)
	by := "member-2"
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, r.Handle(msg(t, websocket.EventItemChecked, ItemChecked{ListID: "list-1", ItemID: "a", Checked: true, CheckedBy: &by, CheckedAt: &at})))
	it, _ := c.Item("list-1", "a")
	assert.True(t, it.Checked)
	assert.Equal(t, &by, it.CheckedBy)

	require.NoError(t, r.Handle(msg(t, websocket.EventItemChecked, ItemChecked{ListID: "list-1", ItemID: "a", Checked: false, CheckedBy: &by, CheckedAt: &at})))
	it, _ = c.Item("list-1", "a")
	assert.False(t, it.Checked)
	assert.Nil(t, it.CheckedBy)
	assert.Nil(t, it.CheckedAt)
}

func TestReorderedAssignsIndexAndSorts(t *testing.T) {
	c, r := setup(t)
	require.NoError(t, r.Handle(msg(t, websocket.EventItemsReordered, ItemIDs{ListID: "list-1", ItemIDs: []string{"c", "a", "b"}})))

	l := get(t, c)
	assert.Equal(t, []string{"c", "a", "b"}, l.Order())
	for i, it := range l.Items {
		assert.Equal(t, i, it.SortOrder, it.ID)
	}
}

func TestOtherListsIgnored(t *testing.T) {
	c, r := setup(t)
	c.Set(model.List{ID: "list-2", Items: []model.Item{{ID: "x", ListID: "list-2"}}})
	before := get(t, c)

	require.NoError(t, r.Handle(msg(t, websocket.EventItemRemoved, ItemRemoved{ListID: "list-2", ItemID: "x"})))
	require.NoError(t, r.Handle(msg(t, websocket.EventItemAdded, model.Item{ID: "y", ListID: "list-2"})))

	assert.Equal(t, before, get(t, c))
	other, _ := c.Get("list-2")
	assert.Equal(t, []string{"x"}, other.Order())
}

func TestListEventsUpdateRegistry(t *testing.T) {
	c, r := setup(t)
	require.NoError(t, r.Handle(msg(t, websocket.EventListCreated, model.ListMeta{ID: "list-9", Name: "Hardware"})))
	require.NoError(t, r.Handle(msg(t, websocket.EventListUpdated, model.ListMeta{ID: "list-1", Name: "Groceries"})))

	assert.Equal(t, []model.ListMeta{{ID: "list-1", Name: "Groceries"}, {ID: "list-9", Name: "Hardware"}}, c.Lists())
	assert.Equal(t, "Groceries", get(t, c).Name)

	require.NoError(t, r.Handle(msg(t, websocket.EventListArchived, model.ListMeta{ID: "list-9"})))
	assert.Equal(t, []model.ListMeta{{ID: "list-1", Name: "Groceries"}}, c.Lists())

	assert.Error(t, r.Handle(msg(t, websocket.EventListCreated, model.ListMeta{Name: "No id"})))
}

func TestEventSupersedesPendingRollback(t *testing.T) {
	c, r := setup(t)
	previous := get(t, c)

	// A local optimistic check of a is in flight.
	st, ok := c.Mutate("list-1", []string{"a"}, func(l model.List) model.List {
		it, _ := l.Item("a")
		it.Checked = true
		return l.ReplaceItem(it)
	})
	require.True(t, ok)

	// The server says a was renamed; that is now authoritative for a.
	require.NoError(t, r.Handle(msg(t, websocket.EventItemUpdated, model.Item{ID: "a", ListID: "list-1", Name: "Apricots"})))

	assert.Empty(t, c.Restore(st, previous))
	it, _ := c.Item("list-1", "a")
	assert.Equal(t, "Apricots", it.Name)
}

func TestRunAppliesInOrder(t *testing.T) {
	c, r := setup(t)
	events := make(chan websocket.Message, 3)
	events <- msg(t, websocket.EventItemAdded, model.Item{ID: "d", ListID: "list-1", Name: "Dates", SortOrder: 3})
	events <- msg(t, websocket.EventItemRemoved, ItemRemoved{ListID: "list-1", ItemID: "d"})
	events <- websocket.Message{Event: websocket.EventItemRemoved, Data: []byte(`{bad`)}
	close(events)

	require.NoError(t, r.Run(context.Background(), events))
	assert.Equal(t, []string{"a", "b", "c"}, get(t, c).Order())
}
