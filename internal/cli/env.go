package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Cameron64/HoneyDo-sub002/internal/api"
	"github.com/Cameron64/HoneyDo-sub002/internal/database"
	"github.com/Cameron64/HoneyDo-sub002/internal/logging"
	"github.com/Cameron64/HoneyDo-sub002/internal/model"
	"github.com/Cameron64/HoneyDo-sub002/internal/offline"
	"github.com/Cameron64/HoneyDo-sub002/internal/session"
	"github.com/Cameron64/HoneyDo-sub002/internal/store"
	"github.com/Cameron64/HoneyDo-sub002/internal/websocket"
)

// env is one command's running session and what it owns.
type env struct {
	logger  *slog.Logger
	db      *sql.DB
	session *session.Session
	manager *websocket.Manager
	cancel  context.CancelFunc
}

// openEnv starts a session for the selected list. With stream set it also
// connects to the event stream, whose status drives connectivity.
func openEnv(ctx context.Context, opts *RootOptions, stream bool) (*env, error) {
	cfg := opts.Config
	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	e := &env{logger: logging.Setup(level, cfg.LogFormat)}

	storage, err := e.openStorage(opts)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(api.Config{BaseURL: cfg.ServerURL, Token: cfg.Token, Timeout: cfg.RequestTimeout})

	var events session.EventSource
	var sess *session.Session
	if stream {
		header := http.Header{}
		if cfg.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.Token)
		}
		e.manager = websocket.NewManager(websocket.ManagerOptions{
			URL:    cfg.EventsURL(),
			Header: header,
			Logger: e.logger,
			OnStatus: func(connected bool) {
				if sess != nil {
					sess.SetOnline(connected)
				}
			},
		})
		events = e.manager
	}

	sess = session.New(client, storage, events, session.Config{
		ListID:        opts.ListID,
		Actor:         cfg.Actor,
		Online:        true,
		QueueCapacity: cfg.QueueCapacity,
		UndoMaxSize:   cfg.UndoMax,
		UndoWindow:    cfg.UndoWindow,
		Debounce:      cfg.Debounce,
		Logger:        e.logger,
	})
	e.session = sess

	ctx, e.cancel = context.WithCancel(ctx)
	if e.manager != nil {
		go func() {
			if err := e.manager.Run(ctx); err != nil && !errors.Is(err, websocket.ErrManagerClosed) && !errors.Is(err, context.Canceled) {
				e.logger.Warn("event stream stopped", "error", err)
			}
		}()
	}
	if err := sess.Start(ctx); err != nil {
		e.close(ctx)
		if errors.Is(err, api.ErrNotFound) {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("list %q not found", opts.ListID), err)
		}
		return nil, WrapExitError(ExitFailure, "start session", err)
	}
	return e, nil
}

func (e *env) openStorage(opts *RootOptions) (offline.Storage, error) {
	cfg := opts.Config
	if opts.Ephemeral {
		return nil, nil
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	e.db = db
	backend := store.NewKVStore(db)
	if cfg.QueuePassphrase == "" {
		return backend, nil
	}
	sealed, err := store.NewSealed(backend, cfg.QueuePassphrase)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "set up queue encryption", err)
	}
	return sealed, nil
}

// close saves the list snapshot and stops everything openEnv started.
func (e *env) close(ctx context.Context) {
	if err := e.session.SaveSnapshot(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("save list snapshot", "error", err)
	}
	if e.manager != nil {
		_ = e.manager.Close()
	}
	e.cancel()
	e.session.Close()
	if e.db != nil {
		e.db.Close()
	}
}

// list returns the watched list or a command error if it is not loaded.
func (e *env) list(opts *RootOptions) (model.List, error) {
	l, ok := e.session.List()
	if !ok {
		return model.List{}, NewExitError(ExitCommandError, fmt.Sprintf("list %q is not available offline yet", opts.ListID))
	}
	return l, nil
}

// resolveItem finds an item by id, or by a unique case-insensitive name.
func resolveItem(l model.List, ref string) (model.Item, error) {
	if it, ok := l.Item(ref); ok {
		return it, nil
	}
	var found []model.Item
	for _, it := range l.Items {
		if strings.EqualFold(it.Name, ref) {
			found = append(found, it)
		}
	}
	switch len(found) {
	case 0:
		return model.Item{}, NewExitError(ExitCommandError, fmt.Sprintf("no item %q in %s", ref, l.Name))
	case 1:
		return found[0], nil
	}
	return model.Item{}, NewExitError(ExitCommandError, fmt.Sprintf("%q matches %d items, use an id", ref, len(found)))
}

func resolveItems(l model.List, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		it, err := resolveItem(l, ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, it.ID)
	}
	return ids, nil
}

func requireList(opts *RootOptions) error {
	if opts.ListID == "" {
		return NewExitError(ExitCommandError, "no list selected: pass --list or set LISTSYNC_LIST_ID")
	}
	return nil
}
