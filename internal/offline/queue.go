// Package offline holds mutations attempted while disconnected and replays
// them in order once the connection returns.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ActionType is the mutation a queued action replays.
type ActionType string

const (
	ActionAdd     ActionType = "add"
	ActionUpdate  ActionType = "update"
	ActionDelete  ActionType = "delete"
	ActionCheck   ActionType = "check"
	ActionReorder ActionType = "reorder"
)

const (
	// StorageKey is the key the queue is persisted under.
	StorageKey      = "offline_queue"
	DefaultCapacity = 100
)

// QueuedAction is one mutation waiting for the connection to return.
type QueuedAction struct {
	ID        string          `json:"id"`
	Type      ActionType      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Storage persists the queue as one serialized array under a fixed key.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Replayer re-issues a queued action against the server.
type Replayer interface {
	Replay(ctx context.Context, a QueuedAction) error
}

// ReplayerFunc adapts a function to Replayer.
type ReplayerFunc func(ctx context.Context, a QueuedAction) error

func (f ReplayerFunc) Replay(ctx context.Context, a QueuedAction) error { return f(ctx, a) }

type Options struct {
	// Capacity bounds the queue; the oldest action is dropped beyond it.
	Capacity int
	// Retryable reports errors that mean the server was not reached. A
	// retryable failure ends the replay pass and keeps the action queued;
	// any other failure drops it.
	Retryable func(error) bool
	Logger    *slog.Logger
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Replayed  int
	Dropped   int
	Remaining int
}

// Queue is a bounded FIFO of offline mutations. Persistence failures
// downgrade it to memory-only for the rest of the session.
type Queue struct {
	mu         sync.Mutex
	actions    []QueuedAction
	storage    Storage
	persistent bool
	onChange   func()

	opts    Options
	logger  *slog.Logger
	syncing atomic.Bool
	group   singleflight.Group
}

// NewQueue creates a queue persisted to storage. A nil storage keeps the
// queue in memory only.
func NewQueue(storage Storage, opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Retryable == nil {
		opts.Retryable = func(error) bool { return false }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		storage:    storage,
		persistent: storage != nil,
		opts:       opts,
		logger:     logger,
	}
}

// OnChange sets a callback run after the queue's contents or sync state change.
func (q *Queue) OnChange(fn func()) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}

func (q *Queue) changed() {
	q.mu.Lock()
	fn := q.onChange
	q.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Load restores persisted actions, replacing the in-memory contents.
func (q *Queue) Load(ctx context.Context) error {
	q.mu.Lock()
	if !q.persistent {
		q.mu.Unlock()
		return nil
	}
	data, err := q.storage.Get(ctx, StorageKey)
	if err != nil {
		q.degradeLocked(err)
		q.mu.Unlock()
		return fmt.Errorf("load queue: %w", err)
	}

	var actions []QueuedAction
	if len(data) > 0 {
		if err := json.Unmarshal(data, &actions); err != nil {
			q.mu.Unlock()
			q.logger.Warn("discarding unreadable offline queue", "error", err)
			return nil
		}
	}
	if over := len(actions) - q.opts.Capacity; over > 0 {
		actions = actions[over:]
	}
	q.actions = actions
	q.mu.Unlock()

	q.changed()
	return nil
}

func (q *Queue) persistLocked(ctx context.Context) {
	if !q.persistent {
		return
	}
	data, err := json.Marshal(q.actions)
	if err == nil {
		err = q.storage.Set(ctx, StorageKey, data)
	}
	if err != nil {
		q.degradeLocked(err)
	}
}

func (q *Queue) degradeLocked(err error) {
	q.persistent = false
	q.storage = nil
	q.logger.Warn("offline queue storage unavailable, keeping actions in memory", "error", err)
}

// Enqueue appends a, filling in a missing ID or Timestamp, and returns the
// stored action.
func (q *Queue) Enqueue(ctx context.Context, a QueuedAction) QueuedAction {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	q.mu.Lock()
	q.actions = append(q.actions, a)
	if over := len(q.actions) - q.opts.Capacity; over > 0 {
		for _, dropped := range q.actions[:over] {
			q.logger.Warn("offline queue full, dropping oldest action", "id", dropped.ID, "type", dropped.Type)
		}
		q.actions = slices.Clone(q.actions[over:])
	}
	q.persistLocked(ctx)
	q.mu.Unlock()

	q.changed()
	return a
}

// Dequeue removes the action with the given id.
func (q *Queue) Dequeue(ctx context.Context, id string) bool {
	q.mu.Lock()
	i := slices.IndexFunc(q.actions, func(a QueuedAction) bool { return a.ID == id })
	if i < 0 {
		q.mu.Unlock()
		return false
	}
	q.actions = slices.Delete(q.actions, i, i+1)
	q.persistLocked(ctx)
	q.mu.Unlock()

	q.changed()
	return true
}

func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.actions = nil
	q.persistLocked(ctx)
	q.mu.Unlock()
	q.changed()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Actions returns the queued actions in enqueue order.
func (q *Queue) Actions() []QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.actions)
}

// Persistent reports whether the queue is still backed by durable storage.
func (q *Queue) Persistent() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.persistent
}

// Syncing reports whether a replay pass is running.
func (q *Queue) Syncing() bool {
	return q.syncing.Load()
}

func (q *Queue) head() (QueuedAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.actions) == 0 {
		return QueuedAction{}, false
	}
	return q.actions[0], true
}

// Replay re-issues queued actions in enqueue order, one at a time. An action
// leaves the queue only after its replay returns. Callers arriving while a
// pass is running share that pass's result.
func (q *Queue) Replay(ctx context.Context, r Replayer) (ReplayResult, error) {
	v, err, _ := q.group.Do("replay", func() (any, error) {
		return q.replay(ctx, r)
	})
	res, _ := v.(ReplayResult)
	return res, err
}

func (q *Queue) replay(ctx context.Context, r Replayer) (ReplayResult, error) {
	q.syncing.Store(true)
	q.changed()
	defer func() {
		q.syncing.Store(false)
		q.changed()
	}()

	var res ReplayResult
	for {
		a, ok := q.head()
		if !ok {
			break
		}
		err := r.Replay(ctx, a)
		switch {
		case err == nil:
			res.Replayed++
		case ctx.Err() != nil:
			res.Remaining = q.Len()
			return res, ctx.Err()
		case q.opts.Retryable(err):
			res.Remaining = q.Len()
			q.logger.Info("replay interrupted, keeping remaining actions", "id", a.ID, "remaining", res.Remaining, "error", err)
			return res, fmt.Errorf("replay %s %s: %w", a.Type, a.ID, err)
		default:
			res.Dropped++
			q.logger.Warn("dropping queued action rejected on replay", "id", a.ID, "type", a.Type, "error", err)
		}
		q.Dequeue(ctx, a.ID)
	}
	res.Remaining = q.Len()
	return res, nil
}

// ErrEmptyPayload is returned by DecodePayload for an action without a payload.
var ErrEmptyPayload = errors.New("queued action has no payload")

// DecodePayload unmarshals a's payload into v.
func DecodePayload(a QueuedAction, v any) error {
	if len(a.Payload) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(a.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", a.Type, err)
	}
	return nil
}

// NewAction builds a QueuedAction with v marshalled as its payload.
func NewAction(t ActionType, v any) (QueuedAction, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return QueuedAction{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return QueuedAction{Type: t, Payload: payload}, nil
}
