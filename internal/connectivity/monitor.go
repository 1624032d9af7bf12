// Package connectivity tracks whether the client can currently reach the
// server and tells interested parties when that changes.
package connectivity

import (
	"log/slog"
	"sync"
	"time"
)

type Options struct {
	// Debounce delays online notifications until the state has held for the
	// interval. Offline notifications are immediate.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Monitor folds the platform's online/offline signal into one boolean.
type Monitor struct {
	mu       sync.Mutex
	online   bool
	notified bool
	subs     map[int]func(bool)
	nextID   int
	timer    *time.Timer
	opts     Options
	logger   *slog.Logger
}

func New(online bool, opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		online:   online,
		notified: online,
		subs:     make(map[int]func(bool)),
		opts:     opts,
		logger:   logger,
	}
}

// Online reports the current raw state, without debouncing.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for state transitions and returns a function that
// removes it.
func (m *Monitor) Subscribe(fn func(online bool)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Set records the platform signal. Repeating the current state is a no-op.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if online == m.online {
		m.mu.Unlock()
		return
	}
	m.online = online
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if online && m.opts.Debounce > 0 {
		m.timer = time.AfterFunc(m.opts.Debounce, m.settle)
		m.mu.Unlock()
		return
	}
	subs := m.transitionLocked()
	m.mu.Unlock()
	m.fire(subs, online)
}

func (m *Monitor) settle() {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	subs := m.transitionLocked()
	m.mu.Unlock()
	m.fire(subs, true)
}

// transitionLocked returns the subscribers to notify, or nil when the
// subscribers already saw the current state.
func (m *Monitor) transitionLocked() []func(bool) {
	if m.notified == m.online {
		return nil
	}
	m.notified = m.online
	subs := make([]func(bool), 0, len(m.subs))
	for i := 0; i < m.nextID; i++ {
		if fn, ok := m.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func (m *Monitor) fire(subs []func(bool), online bool) {
	if subs == nil {
		return
	}
	m.logger.Info("connectivity changed", "online", online)
	for _, fn := range subs {
		fn(online)
	}
}

// Stop cancels a pending debounced notification.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
}
