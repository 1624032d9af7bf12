// Package session wires the sync engine for one client: the list cache, the
// mutation applier, the offline queue and undo stack, the connectivity
// monitor, and the event reconciler.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Cameron64/HoneyDo-sub002/internal/api"
	"github.com/Cameron64/HoneyDo-sub002/internal/cache"
	"github.com/Cameron64/HoneyDo-sub002/internal/connectivity"
	"github.com/Cameron64/HoneyDo-sub002/internal/model"
	"github.com/Cameron64/HoneyDo-sub002/internal/mutation"
	"github.com/Cameron64/HoneyDo-sub002/internal/offline"
	"github.com/Cameron64/HoneyDo-sub002/internal/reconcile"
	"github.com/Cameron64/HoneyDo-sub002/internal/undo"
	"github.com/Cameron64/HoneyDo-sub002/internal/websocket"
)

// Fetcher reads authoritative server state.
type Fetcher interface {
	Lists(ctx context.Context) ([]model.ListMeta, error)
	GetList(ctx context.Context, listID string) (model.List, error)
}

// API is everything the session needs from the list service.
type API interface {
	mutation.API
	Fetcher
}

// EventSource is the inbound event stream, usually a *websocket.Manager.
type EventSource interface {
	Events() <-chan websocket.Message
	Join(ctx context.Context, listID string) error
}

type Config struct {
	ListID        string
	Actor         string
	Online        bool
	QueueCapacity int
	UndoMaxSize   int
	UndoWindow    time.Duration
	// Debounce holds back the online transition, and so the replay, until
	// the connection has been stable this long.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Status is the sync state shown next to the list.
type Status struct {
	Online     bool `json:"online" yaml:"online"`
	Syncing    bool `json:"syncing" yaml:"syncing"`
	Pending    int  `json:"pending" yaml:"pending"`
	Persistent bool `json:"persistent" yaml:"persistent"`
}

// snapshotPrefix keys the last known copy of a list in storage, so the list
// can be shown and edited before the server is reachable.
const snapshotPrefix = "list_snapshot:"

type Session struct {
	cfg     Config
	logger  *slog.Logger
	api     API
	events  EventSource
	storage offline.Storage

	cache      *cache.Cache
	undo       *undo.Stack
	queue      *offline.Queue
	monitor    *connectivity.Monitor
	applier    *mutation.Applier
	reconciler *reconcile.Reconciler

	mu          sync.Mutex
	onChange    func()
	unsubscribe func()
	closed      bool
	wg          sync.WaitGroup
}

// New builds a session. storage may be nil for a memory-only queue, and
// events may be nil when no event stream is available.
func New(svc API, storage offline.Storage, events EventSource, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:     cfg,
		logger:  logger.With("component", "session", "list_id", cfg.ListID),
		api:     svc,
		events:  events,
		storage: storage,
		cache:   cache.New(),
		undo:    undo.New(undo.Config{MaxSize: cfg.UndoMaxSize, Window: cfg.UndoWindow}),
		queue: offline.NewQueue(storage, offline.Options{
			Capacity:  cfg.QueueCapacity,
			Retryable: api.IsRetryable,
			Logger:    logger.With("component", "offline"),
		}),
		monitor: connectivity.New(cfg.Online, connectivity.Options{
			Debounce: cfg.Debounce,
			Logger:   logger.With("component", "connectivity"),
		}),
	}
	s.applier = mutation.New(s.cache, svc, s.queue, s.undo, s.monitor, mutation.Options{
		Actor:  cfg.Actor,
		Logger: logger.With("component", "mutation"),
		Context: func(ctx context.Context, a offline.QueuedAction) context.Context {
			return api.WithMutationID(ctx, a.ID)
		},
		Retryable: api.IsRetryable,
	})
	s.reconciler = reconcile.New(s.cache, logger)

	s.cache.OnChange(func(string) { s.changed() })
	s.undo.OnChange(s.changed)
	s.queue.OnChange(s.changed)
	return s
}

// OnChange sets a callback run after any visible state changes.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Session) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Start loads the persisted queue, replays it if online, fetches the watched
// list, and begins applying events and replaying on reconnect. Background
// work stops when ctx ends.
func (s *Session) Start(ctx context.Context) error {
	if err := s.queue.Load(ctx); err != nil {
		s.logger.Warn("offline queue not persisted this session", "error", err)
	}

	s.reconciler.Watch(s.cfg.ListID)
	if s.events != nil {
		if err := s.events.Join(ctx, s.cfg.ListID); err != nil {
			s.logger.Warn("join list events", "error", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.reconciler.Run(ctx, s.events.Events()); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("event stream stopped", "error", err)
			}
		}()
	}

	if s.monitor.Online() {
		if err := s.catchUp(ctx); err != nil {
			if !api.IsRetryable(err) {
				return err
			}
			s.logger.Warn("initial fetch failed, starting offline", "error", err)
			s.monitor.Set(false)
		}
	}

	if _, ok := s.List(); !ok {
		s.loadSnapshot(ctx)
	}

	s.mu.Lock()
	s.unsubscribe = s.monitor.Subscribe(func(online bool) {
		s.changed()
		if !online {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.resume(ctx)
		}()
	})
	s.mu.Unlock()
	return nil
}

// catchUp replays the queue before fetching, so the fetched state includes
// the replayed actions.
func (s *Session) catchUp(ctx context.Context) error {
	if s.queue.Len() > 0 {
		if _, err := s.replay(ctx); err != nil {
			return err
		}
	}
	return s.Refresh(ctx)
}

// resume runs after the client comes back online: replay the queue, and
// fetch the list if it was never loaded.
func (s *Session) resume(ctx context.Context) {
	if _, ok := s.List(); !ok && s.cfg.ListID != "" {
		if err := s.catchUp(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("catch up after reconnect", "error", err)
		}
		return
	}
	if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("replay after reconnect", "error", err)
	}
}

// Refresh replaces the cached list and the known lists with server state.
func (s *Session) Refresh(ctx context.Context) error {
	metas, err := s.api.Lists(ctx)
	if err != nil {
		return fmt.Errorf("fetch lists: %w", err)
	}
	for _, m := range metas {
		s.cache.PutList(m)
	}
	if s.cfg.ListID == "" {
		return nil
	}
	l, err := s.api.GetList(ctx, s.cfg.ListID)
	if err != nil {
		return fmt.Errorf("fetch list %s: %w", s.cfg.ListID, err)
	}
	s.cache.Set(l)
	return nil
}

func (s *Session) loadSnapshot(ctx context.Context) {
	if s.storage == nil || s.cfg.ListID == "" {
		return
	}
	data, err := s.storage.Get(ctx, snapshotPrefix+s.cfg.ListID)
	if err != nil || len(data) == 0 {
		return
	}
	var l model.List
	if err := json.Unmarshal(data, &l); err != nil {
		s.logger.Warn("discarding unreadable list snapshot", "error", err)
		return
	}
	s.cache.Set(l)
	s.logger.Debug("showing saved list snapshot", "items", len(l.Items))
}

// SaveSnapshot stores the cached list, optimistic edits included.
func (s *Session) SaveSnapshot(ctx context.Context) error {
	l, ok := s.List()
	if s.storage == nil || !ok {
		return nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode list snapshot: %w", err)
	}
	if err := s.storage.Set(ctx, snapshotPrefix+l.ID, data); err != nil {
		return fmt.Errorf("save list snapshot: %w", err)
	}
	return nil
}

// Sync replays the offline queue once. Once nothing is left queued the list
// is refetched if an action was dropped, since the cache may still show its
// optimistic result, or if actions were replayed with no event stream to
// confirm them.
func (s *Session) Sync(ctx context.Context) (offline.ReplayResult, error) {
	if s.queue.Len() == 0 {
		return offline.ReplayResult{}, nil
	}
	res, err := s.replay(ctx)
	if res.Remaining == 0 && (res.Dropped > 0 || (s.events == nil && res.Replayed > 0)) {
		if ferr := s.Refresh(ctx); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}
	return res, err
}

func (s *Session) replay(ctx context.Context) (offline.ReplayResult, error) {
	res, err := s.queue.Replay(ctx, s.applier)
	s.logger.Info("offline queue replayed", "replayed", res.Replayed, "dropped", res.Dropped, "remaining", res.Remaining)
	return res, err
}

// SetOnline feeds the platform's connectivity signal into the session.
func (s *Session) SetOnline(online bool) { s.monitor.Set(online) }

// Mutations is the entry point for user edits.
func (s *Session) Mutations() *mutation.Applier { return s.applier }

// List returns the cached copy of the watched list.
func (s *Session) List() (model.List, bool) { return s.cache.Get(s.cfg.ListID) }

// Item returns one cached item of the watched list.
func (s *Session) Item(itemID string) (model.Item, bool) {
	return s.cache.Item(s.cfg.ListID, itemID)
}

// Lists returns every list known to this client.
func (s *Session) Lists() []model.ListMeta { return s.cache.Lists() }

// LatestUndo is the one undo entry offered to the user.
func (s *Session) LatestUndo() (undo.Action, bool) { return s.undo.Latest() }

// Undo applies the latest undo entry, if there is one.
func (s *Session) Undo(ctx context.Context) error {
	latest, ok := s.undo.Latest()
	if !ok {
		return nil
	}
	return s.applier.Undo(ctx, latest.ID)
}

// DismissUndo drops the latest undo entry without applying it.
func (s *Session) DismissUndo() {
	if latest, ok := s.undo.Latest(); ok {
		s.undo.Remove(latest.ID)
	}
}

// QueuedActions lists the offline actions waiting for replay.
func (s *Session) QueuedActions() []offline.QueuedAction { return s.queue.Actions() }

// ClearQueue discards every pending offline action.
func (s *Session) ClearQueue(ctx context.Context) { s.queue.Clear(ctx) }

func (s *Session) Status() Status {
	return Status{
		Online:     s.monitor.Online(),
		Syncing:    s.queue.Syncing(),
		Pending:    s.queue.Len(),
		Persistent: s.queue.Persistent(),
	}
}

// Close stops background work started by Start. The context passed to
// Start must be cancelled first for the event loop to exit.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Unlock()
	s.monitor.Stop()
	s.undo.Close()
	s.wg.Wait()
}
