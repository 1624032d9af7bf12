package websocket

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ws "github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	sendBufferSize  = 16
	maxPublishBytes = 1 << 20
)

// RelayOptions configures a Relay.
type RelayOptions struct {
	// Token, when set, must be presented as a Bearer token on every route.
	Token        string
	PingInterval time.Duration // default 30s
	Logger       *slog.Logger
}

// Relay fans list events out to subscribed clients. The list service
// publishes with POST /events/{listId} (item events, delivered to that list's
// room) or POST /events (list events, delivered to everyone). Clients
// subscribe on GET /ws and pick a room with a join frame.
type Relay struct {
	hub    *Hub
	opts   RelayOptions
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewRelay(hub *Hub, opts RelayOptions) *Relay {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Relay{
		hub:    hub,
		opts:   opts,
		logger: opts.Logger.With("component", "relay"),
		mux:    http.NewServeMux(),
	}
	r.mux.HandleFunc("GET /ws", r.subscribe)
	r.mux.HandleFunc("POST /events", r.publish)
	r.mux.HandleFunc("POST /events/{listID}", r.publish)
	return r
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !r.authorized(req) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	r.mux.ServeHTTP(w, req)
}

func (r *Relay) authorized(req *http.Request) bool {
	if r.opts.Token == "" {
		return true
	}
	token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(r.opts.Token)) == 1
}

func (r *Relay) publish(w http.ResponseWriter, req *http.Request) {
	var msg Message
	body := http.MaxBytesReader(w, req.Body, maxPublishBytes)
	if err := json.NewDecoder(body).Decode(&msg); err != nil {
		http.Error(w, "invalid message: "+err.Error(), http.StatusBadRequest)
		return
	}
	if msg.Event == "" || msg.Event == EventJoin {
		http.Error(w, "invalid message: missing event", http.StatusBadRequest)
		return
	}

	listID := req.PathValue("listID")
	delivered := r.hub.Broadcast(listID, msg)
	r.logger.Debug("published", "event", msg.Event, "list_id", listID, "delivered", delivered)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{"delivered": delivered})
}

func (r *Relay) subscribe(w http.ResponseWriter, req *http.Request) {
	conn, err := ws.Accept(w, req, &ws.AcceptOptions{
		InsecureSkipVerify: true, // subscribers are sync clients, not browsers
	})
	if err != nil {
		r.logger.Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	p := &peer{hub: r.hub, conn: conn, send: make(chan []byte, sendBufferSize)}
	r.hub.register(p)
	defer r.hub.unregister(p)

	err = p.serve(req.Context(), r.opts.PingInterval)
	if ws.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		r.logger.Debug("subscriber dropped", "error", err)
	}
}

// peer is one subscriber connection.
type peer struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte
}

// serve runs the read and write loops until either ends.
func (p *peer) serve(ctx context.Context, ping time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.readLoop(ctx) })
	g.Go(func() error { return p.writeLoop(ctx, ping) })
	return g.Wait()
}

// readLoop applies join frames. Anything else from a subscriber is ignored.
func (p *peer) readLoop(ctx context.Context) error {
	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			return err
		}
		p.handle(data)
	}
}

func (p *peer) handle(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Event != EventJoin {
		return
	}
	var join JoinData
	if err := msg.Decode(&join); err != nil || join.ListID == "" {
		p.hub.logger.Debug("ignoring malformed join", "error", err)
		return
	}
	p.hub.join(p, join.ListID)
}

func (p *peer) writeLoop(ctx context.Context, ping time.Duration) error {
	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-p.send:
			if !ok {
				return nil
			}
			if err := p.conn.Write(ctx, ws.MessageText, data); err != nil {
				return err
			}
		case <-ticker.C:
			if err := p.conn.Ping(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
