// Package watcher rebuilds a call graph when its inputs change.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/utils"
)

// DefaultDebounce is the quiet period after the last change before a
// rebuild starts.
const DefaultDebounce = 500 * time.Millisecond

// RebuildFunc rebuilds after the listed paths changed.
type RebuildFunc func(ctx context.Context, changed []string) error

// Watcher watches a manifest file or a Go source tree.
type Watcher struct {
	root      string
	file      string // set when a single file is watched
	fsWatcher *fsnotify.Watcher
	rebuild   RebuildFunc

	debounce time.Duration
	onError  func(error)
	logger   utils.Logger
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce delay.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithOnError sets the callback for watch and rebuild errors. Errors are
// logged when unset.
func WithOnError(fn func(error)) Option {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger utils.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New watches target. A file target is watched through its directory; a
// directory target is watched recursively for Go sources.
func New(target string, rebuild RebuildFunc, opts ...Option) (*Watcher, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "cannot watch "+target, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to create fsnotify watcher", err)
	}

	w := &Watcher{
		root:      target,
		fsWatcher: fsWatcher,
		rebuild:   rebuild,
		debounce:  DefaultDebounce,
		logger:    &utils.NullLogger{},
	}
	for _, opt := range opts {
		opt(w)
	}

	if info.IsDir() {
		err = w.addDirs(target)
	} else {
		w.file = filepath.Clean(target)
		w.root = filepath.Dir(w.file)
		err = fsWatcher.Add(w.root)
	}
	if err != nil {
		fsWatcher.Close()
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to add watches", err)
	}
	return w, nil
}

// addDirs recursively adds the source directories below root.
func (w *Watcher) addDirs(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") ||
		name == "vendor" || name == "testdata" || name == "node_modules"
}

// Relevant reports whether a change to path should trigger a rebuild.
func (w *Watcher) Relevant(path string) bool {
	if w.file != "" {
		return filepath.Clean(path) == w.file
	}
	return strings.HasSuffix(path, ".go") || filepath.Base(path) == "go.mod"
}

// Run watches until ctx is done. Rebuilds run on the watching goroutine,
// so changes made during a rebuild start one more rebuild after it.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsWatcher.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	pending := make(map[string]struct{})

	w.logger.Info("Watching %s", w.root)
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if !w.handleEvent(event) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.report(apperrors.Wrap(apperrors.CodeInternal, "watch error", err))

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			clear(pending)
			slices.Sort(changed)

			w.logger.Info("Rebuilding after %d changes", len(changed))
			if err := w.rebuild(ctx, changed); err != nil {
				w.report(err)
			}
		}
	}
}

// handleEvent filters an event and follows new directories.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if w.file == "" && event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skipDir(info.Name()) {
			if err := w.addDirs(event.Name); err != nil {
				w.report(apperrors.Wrap(apperrors.CodeInternal, "failed to watch "+event.Name, err))
			}
			return false
		}
	}
	return w.Relevant(event.Name)
}

func (w *Watcher) report(err error) {
	if w.onError != nil {
		w.onError(err)
		return
	}
	w.logger.Error("%v", err)
}
