// Package watcher triggers a callback when the plugins root changes on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pteroca-com/pluginhost/internal/ports"
)

// DefaultDebounce is the quiet period before a burst of events fires the
// callback once.
const DefaultDebounce = 500 * time.Millisecond

// ErrPathNotExist is returned when the watched root does not exist.
var ErrPathNotExist = errors.New("watch path does not exist")

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce delay.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l ports.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// Watcher watches the plugins root and each plugin directory one level
// below it. Hidden entries are ignored, which keeps the upload staging
// directory quiet.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   ports.Logger
	fsw      *fsnotify.Watcher
}

// New creates a watcher for root. Watches are in place when New returns.
func New(root string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotExist, abs)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &Watcher{root: abs, debounce: DefaultDebounce, fsw: fsw}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addTree(); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree() error {
	if err := w.fsw.Add(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && !hidden(e.Name()) {
			_ = w.fsw.Add(filepath.Join(w.root, e.Name()))
		}
	}
	return nil
}

// Run calls onChange after every debounced burst of changes until ctx is
// done. Callback errors are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == w.root {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.fsw.Add(ev.Name)
				}
			}
			w.debug(ctx, "plugin tree changed", ports.F("path", ev.Name), ports.F("op", ev.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if w.logger != nil {
				w.logger.Warn(ctx, "watch error", ports.F("error", err.Error()))
			}

		case <-timer.C:
			if err := onChange(ctx); err != nil && w.logger != nil {
				w.logger.Error(ctx, "rescan failed", ports.F("error", err.Error()))
			}
		}
	}
}

// Close releases the underlying watches.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if hidden(part) {
			return false
		}
	}
	return true
}

func (w *Watcher) debug(ctx context.Context, msg string, fields ...ports.Field) {
	if w.logger != nil {
		w.logger.Debug(ctx, msg, fields...)
	}
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
