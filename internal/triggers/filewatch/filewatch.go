// Package filewatch runs the file-watcher triggers described in spec.md
// §4.10. Grounded on internal/templates/registry.go's fsnotify watcher
// (debounced refresh loop, watchPaths/watchMu/watchWg/watchCancel), here
// generalized from template-cache invalidation to a path-to-task-template
// binding that fires an injected RunTask per matched event.
package filewatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/mama/internal/audit"
	"github.com/haasonsaas/mama/pkg/types"
)

// Event is a normalized file-watch event kind.
type Event string

const (
	EventAdd    Event = "add"
	EventChange Event = "change"
	EventUnlink Event = "unlink"
	EventRename Event = "rename"
)

// RunTask executes a trigger's rendered task text, invoking an agent session.
type RunTask func(ctx context.Context, prompt string) error

// Trigger binds a watched path to a task template and the subset of events
// that should fire it. An empty Events set matches all events.
type Trigger struct {
	ID       string
	Path     string
	Events   map[Event]struct{}
	Template string
}

// matches reports whether the trigger is interested in the given event.
func (t Trigger) matches(ev Event) bool {
	if len(t.Events) == 0 {
		return true
	}
	_, ok := t.Events[ev]
	return ok
}

// render expands {filename}, {event} and {path} placeholders in the
// trigger's task template.
func (t Trigger) render(ev Event, path string) string {
	r := strings.NewReplacer(
		"{filename}", filepath.Base(path),
		"{event}", string(ev),
		"{path}", path,
	)
	return r.Replace(t.Template)
}

// Watcher runs one fsnotify watcher and fans its events out to every
// Trigger registered on the watched path, per spec.md §4.10's "one
// watcher per configured path".
type Watcher struct {
	runTask RunTask
	audit   audit.Store
	logger  *slog.Logger

	watcher *fsnotify.Watcher

	mu       sync.Mutex
	triggers map[string][]Trigger // path -> triggers

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option configures a Watcher at construction time.
type Option func(*Watcher)

// WithLogger overrides the watcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New constructs a Watcher. Callers register paths with Add before
// calling Start.
func New(runTask RunTask, auditStore audit.Store, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filewatch: new fsnotify watcher: %w", err)
	}
	w := &Watcher{
		runTask:  runTask,
		audit:    auditStore,
		logger:   slog.Default().With("component", "filewatch"),
		watcher:  fw,
		triggers: make(map[string][]Trigger),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add registers a trigger and, if this is the first trigger on its path,
// starts watching that path with fsnotify.
func (w *Watcher) Add(t Trigger) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, watched := w.triggers[t.Path]
	w.triggers[t.Path] = append(w.triggers[t.Path], t)
	if !watched {
		if err := w.watcher.Add(t.Path); err != nil {
			return fmt.Errorf("filewatch: watch %s: %w", t.Path, err)
		}
	}
	return nil
}

// Remove unregisters every trigger for the given path and stops watching it.
func (w *Watcher) Remove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.triggers[path]; !ok {
		return
	}
	delete(w.triggers, path)
	_ = w.watcher.Remove(path)
}

// Start begins dispatching fsnotify events until ctx is cancelled or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop halts event dispatch and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	_ = w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.dispatch(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filewatch watcher error", "error", err)
		}
	}
}

// dispatch maps an fsnotify event to its normalized kinds and fires every
// matching trigger asynchronously, per spec.md §4.10.
func (w *Watcher) dispatch(ctx context.Context, ev fsnotify.Event) {
	w.mu.Lock()
	triggers := append([]Trigger(nil), w.triggers[ev.Name]...)
	// fsnotify reports the directory entry path; triggers are keyed by
	// the configured watch path itself, so also check that.
	if dir := filepath.Dir(ev.Name); dir != ev.Name {
		triggers = append(triggers, w.triggers[dir]...)
	}
	w.mu.Unlock()
	if len(triggers) == 0 {
		return
	}

	for _, kind := range normalizedEvents(ev.Op) {
		for _, t := range triggers {
			if !t.matches(kind) {
				continue
			}
			w.fire(ctx, t, kind, ev.Name)
		}
	}
}

// normalizedEvents maps an fsnotify op to the normalized event set: rename
// expands to {add, unlink, rename}, everything else maps 1:1.
func normalizedEvents(op fsnotify.Op) []Event {
	var out []Event
	if op&fsnotify.Create != 0 {
		out = append(out, EventAdd)
	}
	if op&fsnotify.Write != 0 {
		out = append(out, EventChange)
	}
	if op&fsnotify.Remove != 0 {
		out = append(out, EventUnlink)
	}
	if op&fsnotify.Rename != 0 {
		out = append(out, EventAdd, EventUnlink, EventRename)
	}
	return out
}

func (w *Watcher) fire(ctx context.Context, t Trigger, kind Event, path string) {
	prompt := t.render(kind, path)
	go func() {
		runErr := w.runTask(ctx, prompt)
		result := types.ResultSuccess
		errMsg := ""
		if runErr != nil {
			result = types.ResultError
			errMsg = runErr.Error()
			w.logger.Warn("filewatch trigger task failed", "trigger", t.ID, "error", runErr)
		}
		if w.audit != nil {
			_ = w.audit.Append(ctx, types.AuditEntry{
				Capability:  "triggers.filewatch",
				Action:      string(kind),
				Resource:    path,
				Decision:    types.DecisionAutoApproved,
				Result:      result,
				Error:       errMsg,
				RequestedBy: t.ID,
			})
		}
	}()
}
