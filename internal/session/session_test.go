package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cameron64/HoneyDo-sub002/internal/api"
	"github.com/Cameron64/HoneyDo-sub002/internal/model"
	"github.com/Cameron64/HoneyDo-sub002/internal/offline"
	"github.com/Cameron64/HoneyDo-sub002/internal/reconcile"
	"github.com/Cameron64/HoneyDo-sub002/internal/store"
	"github.com/Cameron64/HoneyDo-sub002/internal/websocket"
)

// fakeService is an in-memory list service.
type fakeService struct {
	mu     sync.Mutex
	list   model.List
	calls  map[string]int
	fail   map[string]error
	nextID int
}

func newFakeService() *fakeService {
	return &fakeService{
		list: model.List{ID: "list-1", Name: "Grocery", Items: []model.Item{
			{ID: "a", ListID: "list-1", Name: "Apples", SortOrder: 0},
			{ID: "b", ListID: "list-1", Name: "Bread", SortOrder: 1},
		}},
		calls:  map[string]int{},
		fail:   map[string]error{},
		nextID: 10,
	}
}

func (f *fakeService) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.fail[method]
}

func (f *fakeService) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeService) setFail(method string, err error) {
	f.mu.Lock()
	f.fail[method] = err
	f.mu.Unlock()
}

func (f *fakeService) Lists(context.Context) ([]model.ListMeta, error) {
	if err := f.enter("Lists"); err != nil {
		return nil, err
	}
	return []model.ListMeta{f.list.Meta(), {ID: "list-2", Name: "Hardware"}}, nil
}

func (f *fakeService) GetList(_ context.Context, listID string) (model.List, error) {
	if err := f.enter("GetList"); err != nil {
		return model.List{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if listID != f.list.ID {
		return model.List{}, &api.Error{Status: http.StatusNotFound}
	}
	return f.list.Clone(), nil
}

func (f *fakeService) AddItem(_ context.Context, listID string, in model.ItemInput) (model.Item, error) {
	if err := f.enter("AddItem"); err != nil {
		return model.Item{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	it := model.NewItem(fmt.Sprint(f.nextID), listID, in, f.list.NextSortOrder())
	f.list = f.list.WithItem(it)
	return it, nil
}

func (f *fakeService) UpdateItem(_ context.Context, itemID string, p model.ItemPatch) (model.Item, error) {
	return model.Item{ID: itemID}, f.enter("UpdateItem")
}

func (f *fakeService) RemoveItem(_ context.Context, itemID string) error {
	if err := f.enter("RemoveItem"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.list.Item(itemID); !ok {
		return &api.Error{Status: http.StatusNotFound}
	}
	f.list = f.list.WithoutItems(itemID)
	return nil
}

func (f *fakeService) CheckItem(_ context.Context, itemID string, checked bool) (model.Item, error) {
	if err := f.enter("CheckItem"); err != nil {
		return model.Item{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.list.Item(itemID)
	if !ok {
		return model.Item{}, &api.Error{Status: http.StatusNotFound}
	}
	it.Checked = checked
	f.list = f.list.ReplaceItem(it)
	return it, nil
}

func (f *fakeService) CheckItems(_ context.Context, itemIDs []string, checked bool) ([]model.Item, error) {
	return nil, f.enter("CheckItems")
}

func (f *fakeService) ReorderItems(context.Context, string, []string) error {
	return f.enter("ReorderItems")
}

func (f *fakeService) ClearChecked(context.Context, string) ([]string, error) {
	return nil, f.enter("ClearChecked")
}

// fakeEvents stands in for the websocket manager.
type fakeEvents struct {
	ch     chan websocket.Message
	mu     sync.Mutex
	joined []string
}

func (e *fakeEvents) Events() <-chan websocket.Message { return e.ch }

func (e *fakeEvents) Join(_ context.Context, listID string) error {
	e.mu.Lock()
	e.joined = append(e.joined, listID)
	e.mu.Unlock()
	return nil
}

var unreachable = fmt.Errorf("dial: %w", api.ErrUnreachable)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func start(t *testing.T, svc *fakeService, storage *store.Memory, online bool) (*Session, *fakeEvents) {
	t.Helper()
	events := &fakeEvents{ch: make(chan websocket.Message, 8)}
	var st offline.Storage
	if storage != nil {
		st = storage
	}
	s := New(svc, st, events, Config{ListID: "list-1", Actor: "member-1", Online: online, Logger: quiet()})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	require.NoError(t, s.Start(ctx))
	return s, events
}

func TestStartFetchesListAndJoins(t *testing.T) {
	svc := newFakeService()
	s, events := start(t, svc, nil, true)

	l, ok := s.List()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, l.Order())
	assert.Len(t, s.Lists(), 2)
	assert.Equal(t, []string{"list-1"}, events.joined)
	assert.Equal(t, Status{Online: true}, s.Status())
}

func TestStartOfflineWhenUnreachable(t *testing.T) {
	svc := newFakeService()
	svc.setFail("Lists", unreachable)
	s, _ := start(t, svc, nil, true)

	assert.False(t, s.Status().Online)
	_, ok := s.List()
	assert.False(t, ok)

	svc.setFail("Lists", nil)
	s.SetOnline(true)
	require.Eventually(t, func() bool { _, ok := s.List(); return ok }, time.Second, 5*time.Millisecond)
}

func TestOfflineCheckReplaysOnceOnReconnect(t *testing.T) {
	svc := newFakeService()
	s, _ := start(t, svc, nil, true)
	ctx := context.Background()

	s.SetOnline(false)
	require.NoError(t, s.Mutations().Check(ctx, "list-1", "a", true))
	it, _ := s.Item("a")
	assert.True(t, it.Checked)
	assert.Equal(t, 1, s.Status().Pending)
	assert.Equal(t, 0, svc.count("CheckItem"))

	// A flapping connection still replays the action once.
	s.SetOnline(true)
	s.SetOnline(false)
	s.SetOnline(true)

	require.Eventually(t, func() bool { return s.Status().Pending == 0 && !s.Status().Syncing }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, svc.count("CheckItem"))
	it, _ = s.Item("a")
	assert.True(t, it.Checked)
}

func TestDroppedActionTriggersRefetch(t *testing.T) {
	svc := newFakeService()
	s, _ := start(t, svc, nil, true)
	ctx := context.Background()
	fetches := svc.count("GetList")

	s.SetOnline(false)
	require.NoError(t, s.Mutations().Delete(ctx, "list-1", "b"))
	svc.mu.Lock()
	svc.list = svc.list.WithoutItems("b") // another client got there first
	svc.mu.Unlock()

	res, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, fetches+1, svc.count("GetList"))
}

func TestEventsReachTheCache(t *testing.T) {
	svc := newFakeService()
	s, events := start(t, svc, nil, true)

	msg, err := websocket.NewMessage(websocket.EventItemRemoved, reconcile.ItemRemoved{ListID: "list-1", ItemID: "a"})
	require.NoError(t, err)
	events.ch <- msg

	require.Eventually(t, func() bool { _, ok := s.Item("a"); return !ok }, time.Second, 5*time.Millisecond)
}

func TestUndoAndDismiss(t *testing.T) {
	svc := newFakeService()
	s, _ := start(t, svc, nil, true)
	ctx := context.Background()

	require.NoError(t, s.Mutations().Check(ctx, "list-1", "a", true))
	latest, ok := s.LatestUndo()
	require.True(t, ok)
	assert.Equal(t, `Checked "Apples"`, latest.Label)

	require.NoError(t, s.Undo(ctx))
	it, _ := s.Item("a")
	assert.False(t, it.Checked)
	_, ok = s.LatestUndo()
	assert.False(t, ok)

	require.NoError(t, s.Mutations().Delete(ctx, "list-1", "b"))
	s.DismissUndo()
	_, ok = s.LatestUndo()
	assert.False(t, ok)
	assert.NoError(t, s.Undo(ctx), "nothing to undo is not an error")
}

func TestQueueSurvivesRestart(t *testing.T) {
	svc := newFakeService()
	storage := store.NewMemory()

	first, _ := start(t, svc, storage, true)
	require.True(t, first.Status().Persistent)
	first.SetOnline(false)
	require.NoError(t, first.Mutations().Check(context.Background(), "list-1", "b", true))
	require.Equal(t, 1, first.Status().Pending)

	second, _ := start(t, svc, storage, true)
	assert.Equal(t, 0, second.Status().Pending, "replayed during start")
	assert.Equal(t, 1, svc.count("CheckItem"))
	it, _ := svc.list.Item("b")
	assert.True(t, it.Checked)

	cached, ok := second.Item("b")
	require.True(t, ok)
	assert.True(t, cached.Checked, "the cache agrees with the server after replay")
}

func TestOfflineAddSurvivesRestart(t *testing.T) {
	svc := newFakeService()
	storage := store.NewMemory()

	first, _ := start(t, svc, storage, true)
	first.SetOnline(false)
	milk, err := first.Mutations().Add(context.Background(), "list-1", model.ItemInput{Name: "Milk"})
	require.NoError(t, err)
	require.NoError(t, first.Mutations().Check(context.Background(), "list-1", milk.ID, true))

	second, _ := start(t, svc, storage, true)
	l, ok := second.List()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "11"}, l.Order())
	it, _ := second.Item("11")
	assert.True(t, it.Checked)
}

func TestSyncWithoutEventsRefetches(t *testing.T) {
	svc := newFakeService()
	s := New(svc, nil, nil, Config{ListID: "list-1", Online: true, Logger: quiet()})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	require.NoError(t, s.Start(ctx))

	s.SetOnline(false)
	require.NoError(t, s.Mutations().Check(ctx, "list-1", "a", true))
	fetches := svc.count("GetList")

	// No event stream confirms the replay, so the server copy is fetched.
	svc.mu.Lock()
	svc.list.Name = "Groceries"
	svc.mu.Unlock()

	s.SetOnline(true)
	require.Eventually(t, func() bool { return svc.count("GetList") == fetches+1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { l, _ := s.List(); return l.Name == "Groceries" }, time.Second, 5*time.Millisecond)
	it, _ := s.Item("a")
	assert.True(t, it.Checked)
}

func TestOnlineAfterCloseDoesNotReplay(t *testing.T) {
	svc := newFakeService()
	s, _ := start(t, svc, nil, true)

	s.SetOnline(false)
	require.NoError(t, s.Mutations().Check(context.Background(), "list-1", "a", true))
	s.Close()

	s.SetOnline(true)
	assert.Equal(t, 0, svc.count("CheckItem"))
	assert.Equal(t, 1, s.Status().Pending)
}

func TestSnapshotServesOfflineStart(t *testing.T) {
	svc := newFakeService()
	storage := store.NewMemory()

	first, _ := start(t, svc, storage, true)
	require.NoError(t, first.SaveSnapshot(context.Background()))

	svc.setFail("Lists", unreachable)
	second, _ := start(t, svc, storage, true)
	require.False(t, second.Status().Online)

	l, ok := second.List()
	require.True(t, ok, "the saved snapshot is shown")
	assert.Equal(t, []string{"a", "b"}, l.Order())

	require.NoError(t, second.Mutations().Check(context.Background(), "list-1", "a", true))
	assert.Equal(t, 1, second.Status().Pending)
	assert.Equal(t, 0, svc.count("CheckItem"))
}
