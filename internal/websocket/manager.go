package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/sethvargo/go-retry"
)

// ErrManagerClosed is returned by Run after Close.
var ErrManagerClosed = errors.New("websocket manager closed")

// StatusCallback is told whenever the connection comes up or goes down.
type StatusCallback func(connected bool)

type ManagerOptions struct {
	URL    string
	Header http.Header
	// BaseDelay and MaxDelay bound the exponential reconnect backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	OnStatus  StatusCallback
	Logger    *slog.Logger
}

// Manager keeps one client connection to the event stream open, reconnecting
// with backoff, and delivers inbound messages in arrival order on Events.
type Manager struct {
	opts   ManagerOptions
	logger *slog.Logger
	events chan Message

	mu    sync.Mutex
	conn  *ws.Conn
	rooms []string

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:   opts,
		logger: logger.With("component", "websocket"),
		events: make(chan Message, sendBufferSize),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Events delivers inbound messages. It is closed when Run returns.
func (m *Manager) Events() <-chan Message { return m.events }

// Ready is closed once the first connection is established.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Join subscribes to item events for listID. Joins made while disconnected
// are sent as soon as a connection is up, and again after every reconnect.
func (m *Manager) Join(ctx context.Context, listID string) error {
	m.mu.Lock()
	if !slices.Contains(m.rooms, listID) {
		m.rooms = append(m.rooms, listID)
	}
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return sendJoin(ctx, conn, listID)
}

func sendJoin(ctx context.Context, conn *ws.Conn, listID string) error {
	msg, err := NewMessage(EventJoin, JoinData{ListID: listID})
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, ws.MessageText, data); err != nil {
		return fmt.Errorf("join %s: %w", listID, err)
	}
	return nil
}

// Run connects and reads until ctx is cancelled or Close is called. Dropped
// connections are redialed with exponential backoff, reset after each
// successful connect.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.events)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		conn, err := m.dial(ctx)
		if err != nil {
			if stop := m.stopErr(ctx); stop != nil {
				return stop
			}
			return err
		}
		m.connected(ctx, conn)

		err = m.read(ctx, conn)
		m.disconnected(conn)
		if stop := m.stopErr(ctx); stop != nil {
			return stop
		}
		m.logger.Info("event stream dropped, reconnecting", "error", err)
	}
}

// stopErr reports why Run should stop, or nil to keep going.
func (m *Manager) stopErr(ctx context.Context) error {
	select {
	case <-m.done:
		return ErrManagerClosed
	default:
		return ctx.Err()
	}
}

func (m *Manager) backoff() retry.Backoff {
	b := retry.NewExponential(m.opts.BaseDelay)
	b = retry.WithJitterPercent(10, b)
	return retry.WithCappedDuration(m.opts.MaxDelay, b)
}

func (m *Manager) dial(ctx context.Context) (*ws.Conn, error) {
	var conn *ws.Conn
	err := retry.Do(ctx, m.backoff(), func(ctx context.Context) error {
		c, _, err := ws.Dial(ctx, m.opts.URL, &ws.DialOptions{HTTPHeader: m.opts.Header})
		if err != nil {
			m.logger.Debug("dial failed", "url", m.opts.URL, "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}

func (m *Manager) connected(ctx context.Context, conn *ws.Conn) {
	m.mu.Lock()
	m.conn = conn
	rooms := slices.Clone(m.rooms)
	m.mu.Unlock()

	for _, room := range rooms {
		if err := sendJoin(ctx, conn, room); err != nil {
			m.logger.Warn("rejoin failed", "list_id", room, "error", err)
		}
	}
	m.readyOnce.Do(func() { close(m.ready) })
	m.logger.Info("event stream connected", "url", m.opts.URL, "rooms", len(rooms))
	if m.opts.OnStatus != nil {
		m.opts.OnStatus(true)
	}
}

func (m *Manager) disconnected(conn *ws.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	conn.CloseNow()
	if m.opts.OnStatus != nil {
		m.opts.OnStatus(false)
	}
}

// read delivers messages one at a time; a slow consumer holds the reader
// back rather than losing events.
func (m *Manager) read(ctx context.Context, conn *ws.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("discarding malformed event", "error", err)
			continue
		}
		select {
		case m.events <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops Run and closes the current connection.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(ws.StatusNormalClosure, "")
}
