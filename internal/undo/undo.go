// Package undo keeps a short, time-bounded stack of local actions that can
// still be reversed.
package undo

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Cameron64/HoneyDo-sub002/internal/model"
)

// Type names the kind of action an entry reverses.
type Type string

const (
	TypeCheck   Type = "check"
	TypeUncheck Type = "uncheck"
	TypeDelete  Type = "delete"
	TypeClear   Type = "clear"
)

const (
	DefaultMaxSize = 10
	DefaultWindow  = 30 * time.Second
)

type Config struct {
	MaxSize int
	Window  time.Duration
}

// Action is one reversible local action. Inverse holds the affected items as
// they were before the action.
type Action struct {
	ID        string       `json:"id"`
	Type      Type         `json:"type"`
	ItemIDs   []string     `json:"itemIds"`
	ListID    string       `json:"listId"`
	Timestamp time.Time    `json:"timestamp"`
	Label     string       `json:"label"`
	Inverse   []model.Item `json:"inverse,omitempty"`
}

type entry struct {
	action Action
	timer  *time.Timer
}

// Stack is bounded by count and by age. Only the latest entry is meant to be
// surfaced to the user.
type Stack struct {
	mu       sync.Mutex
	cfg      Config
	entries  []*entry
	onChange func()
	closed   bool
}

func New(cfg Config) *Stack {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Stack{cfg: cfg}
}

// OnChange sets a callback that runs after every push, pop, expiry or
// eviction.
func (s *Stack) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Stack) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Push adds a to the top of the stack and returns its id. An empty ID or
// zero Timestamp is filled in. The oldest entry is evicted when the stack is
// full.
func (s *Stack) Push(a Action) string {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return a.ID
	}
	e := &entry{action: a}
	id := a.ID
	e.timer = time.AfterFunc(s.cfg.Window, func() { s.expire(id) })
	s.entries = append(s.entries, e)
	for len(s.entries) > s.cfg.MaxSize {
		s.entries[0].timer.Stop()
		s.entries = s.entries[1:]
	}
	s.mu.Unlock()

	s.changed()
	return id
}

func (s *Stack) expire(id string) {
	if _, ok := s.take(id); ok {
		s.changed()
	}
}

func (s *Stack) take(id string) (Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.entries, func(e *entry) bool { return e.action.ID == id })
	if i < 0 {
		return Action{}, false
	}
	e := s.entries[i]
	e.timer.Stop()
	s.entries = slices.Delete(s.entries, i, i+1)
	return e.action, true
}

// Pop removes and returns the entry. A second Pop of the same id returns
// false, so an inverse is applied at most once.
func (s *Stack) Pop(id string) (Action, bool) {
	a, ok := s.take(id)
	if ok {
		s.changed()
	}
	return a, ok
}

// Remove discards the entry without returning it.
func (s *Stack) Remove(id string) bool {
	_, ok := s.Pop(id)
	return ok
}

// Latest returns the most recently pushed live entry.
func (s *Stack) Latest() (Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return Action{}, false
	}
	return s.entries[len(s.entries)-1].action, true
}

func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops all expiry timers and empties the stack.
func (s *Stack) Close() {
	s.mu.Lock()
	for _, e := range s.entries {
		e.timer.Stop()
	}
	s.entries = nil
	s.closed = true
	s.mu.Unlock()
}
