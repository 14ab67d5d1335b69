// Package session scopes the event store, replay engine, and grouping
// service to individual windows.
//
// Every open window owns a fully independent projection of its document:
// its own in-memory state, its own undo navigator, its own grouper. Two
// windows on the same document share the event log and snapshot store but
// nothing in memory — each diverges until it independently replays.
// Closing a window releases exactly its own scope; document-level work
// (snapshot writes, the force timer) is never cancelled by a window close.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inkmill/chronicle/event"
	"github.com/inkmill/chronicle/eventstore"
	"github.com/inkmill/chronicle/idgen"
	"github.com/inkmill/chronicle/opgroup"
	"github.com/inkmill/chronicle/replay"
	"github.com/inkmill/chronicle/snapshot"
	"github.com/inkmill/chronicle/telemetry"
)

// Hooks are lifecycle callbacks fired synchronously in registration
// order. A panicking hook is isolated — later hooks still run.
type Hooks struct {
	OnWindowCreated    []func(*Window)
	OnWindowClosed     []func(*Window)
	OnAllWindowsClosed []func()
}

// Options configures a Manager.
type Options struct {
	// Grouping configures each window's Grouper.
	Grouping opgroup.Options
	// NewWindowID mints window IDs. Default: "win_" + UUIDv7.
	NewWindowID idgen.Generator
	// NewEventID mints event IDs. Default: "evt_" + UUIDv7.
	NewEventID idgen.Generator
	// Clock supplies event timestamps. Default: time.Now.
	Clock func() time.Time
	// Sink receives per-event datapoints. Default: telemetry.Nop.
	Sink telemetry.Sink
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.NewWindowID == nil {
		o.NewWindowID = idgen.Prefixed("win_", idgen.Default)
	}
	if o.NewEventID == nil {
		o.NewEventID = idgen.Prefixed("evt_", idgen.Default)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Sink == nil {
		o.Sink = telemetry.Nop{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Manager creates and tears down window scopes.
type Manager struct {
	events  *eventstore.Store
	snapman *snapshot.Manager
	engine  *replay.Engine
	opts    Options

	mu      sync.Mutex
	windows map[string]*Window
	hooks   Hooks
}

// NewManager creates a window manager over the shared stores.
func NewManager(events *eventstore.Store, snapman *snapshot.Manager, engine *replay.Engine, opts Options) *Manager {
	opts.defaults()
	return &Manager{
		events:  events,
		snapman: snapman,
		engine:  engine,
		opts:    opts,
		windows: make(map[string]*Window),
	}
}

// RegisterHooks appends lifecycle hooks. Not safe to call concurrently
// with OpenWindow/CloseWindow; register during startup.
func (m *Manager) RegisterHooks(h Hooks) {
	m.hooks.OnWindowCreated = append(m.hooks.OnWindowCreated, h.OnWindowCreated...)
	m.hooks.OnWindowClosed = append(m.hooks.OnWindowClosed, h.OnWindowClosed...)
	m.hooks.OnAllWindowsClosed = append(m.hooks.OnAllWindowsClosed, h.OnAllWindowsClosed...)
}

// OpenWindow constructs a fresh, independent scope on docID: a new
// projection replayed to the latest sequence, a new navigator, a new
// grouper. Nothing is shared with other windows, even on the same
// document.
func (m *Manager) OpenWindow(ctx context.Context, docID string) (*Window, error) {
	state, err := m.engine.Load(ctx, docID, -1)
	if err != nil {
		return nil, fmt.Errorf("session: open window on %s: %w", docID, err)
	}

	wctx, cancel := context.WithCancel(context.Background())
	w := &Window{
		id:      m.opts.NewWindowID(),
		docID:   docID,
		manager: m,
		state:   state,
		nav:     NewNavigator(state.Seq),
		ctx:     wctx,
		cancel:  cancel,
	}
	w.grouper = opgroup.New(w.nav.Push, m.opts.Grouping)

	m.mu.Lock()
	m.windows[w.id] = w
	m.mu.Unlock()

	m.opts.Logger.Info("session: window opened",
		"window_id", w.id, "document_id", docID, "seq", state.Seq)
	fireWindowHooks(m.opts.Logger, m.hooks.OnWindowCreated, w)
	return w, nil
}

// CloseWindow tears down the scope for id. It is idempotent: the first
// call returns true, any later call false. Window-scoped work is
// cancelled; the shared stores and other windows are untouched.
func (m *Manager) CloseWindow(id string) bool {
	m.mu.Lock()
	w, ok := m.windows[id]
	if ok {
		delete(m.windows, id)
	}
	remaining := len(m.windows)
	m.mu.Unlock()
	if !ok {
		return false
	}

	w.close()
	m.opts.Logger.Info("session: window closed", "window_id", id, "document_id", w.docID)
	fireWindowHooks(m.opts.Logger, m.hooks.OnWindowClosed, w)
	if remaining == 0 {
		fireHooks(m.opts.Logger, m.hooks.OnAllWindowsClosed)
	}
	return true
}

// WindowsForDocument returns the open windows projecting docID.
func (m *Manager) WindowsForDocument(docID string) []*Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Window
	for _, w := range m.windows {
		if w.docID == docID {
			out = append(out, w)
		}
	}
	return out
}

// WindowCount returns the number of open windows.
func (m *Manager) WindowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Close closes every open window. Document-level snapshot work keeps
// running; stopping it belongs to whoever owns the snapshot manager.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.windows))
	for id := range m.windows {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.CloseWindow(id)
	}
}

func fireWindowHooks(logger *slog.Logger, hooks []func(*Window), w *Window) {
	for _, h := range hooks {
		runIsolated(logger, func() { h(w) })
	}
}

func fireHooks(logger *slog.Logger, hooks []func()) {
	for _, h := range hooks {
		runIsolated(logger, h)
	}
}

// runIsolated keeps one panicking hook from suppressing the rest.
func runIsolated(logger *slog.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session: lifecycle hook panicked", "panic", r)
		}
	}()
	fn()
}

// retryableAppend appends ev, retrying once on StorageError (transient IO
// hiccups); anything past that surfaces to the caller.
func retryableAppend(ctx context.Context, store *eventstore.Store, docID string, ev event.Event) (int64, error) {
	seq, err := store.Append(ctx, docID, ev)
	if err == nil {
		return seq, nil
	}
	var serr *eventstore.StorageError
	if !errors.As(err, &serr) {
		return -1, err
	}
	return store.Append(ctx, docID, ev)
}
