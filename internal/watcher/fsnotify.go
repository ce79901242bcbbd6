package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ScriptWatcher watches script files using fsnotify.
type ScriptWatcher struct {
	mu sync.Mutex

	watcher *fsnotify.Watcher
	config  Config
	log     *zap.Logger

	// files are explicitly watched files; dirs are explicitly watched
	// directories. parents counts the fsnotify watches held per directory.
	files   map[string]bool
	dirs    map[string]bool
	parents map[string]int

	pending map[string]*pendingEvent

	events chan Event
	errors chan error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// pendingEvent tracks a debounced event.
type pendingEvent struct {
	event Event
	timer *time.Timer
}

// New creates a script watcher.
func New(log *zap.Logger, opts ...Option) (*ScriptWatcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.DebounceDelay <= 0 {
		config.DebounceDelay = 100 * time.Millisecond
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &ScriptWatcher{
		watcher: fsw,
		config:  config,
		log:     log,
		files:   make(map[string]bool),
		dirs:    make(map[string]bool),
		parents: make(map[string]int),
		pending: make(map[string]*pendingEvent),
		events:  make(chan Event, config.BufferSize),
		errors:  make(chan error, config.BufferSize),
		closeCh: make(chan struct{}),
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Watch starts watching a script file or a directory of scripts.
func (w *ScriptWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrPathNotExist
		}
		return err
	}

	if w.files[absPath] || w.dirs[absPath] {
		return ErrAlreadyWatching
	}

	dir := absPath
	if !info.IsDir() {
		dir = filepath.Dir(absPath)
	}
	if w.parents[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	w.parents[dir]++

	if info.IsDir() {
		w.dirs[absPath] = true
	} else {
		w.files[absPath] = true
	}
	w.log.Debug("watching", zap.String("path", absPath))
	return nil
}

// Unwatch stops watching a path.
func (w *ScriptWatcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	dir := absPath
	switch {
	case w.files[absPath]:
		delete(w.files, absPath)
		dir = filepath.Dir(absPath)
	case w.dirs[absPath]:
		delete(w.dirs, absPath)
	default:
		return ErrNotWatching
	}

	w.parents[dir]--
	if w.parents[dir] > 0 {
		return nil
	}
	delete(w.parents, dir)
	return w.watcher.Remove(dir)
}

// Events returns the debounced event channel.
func (w *ScriptWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *ScriptWatcher) Errors() <-chan error {
	return w.errors
}

// IsWatching returns true if the path is being watched.
func (w *ScriptWatcher) IsWatching(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[absPath] || w.dirs[absPath]
}

// WatchedPaths returns all watched paths, sorted.
func (w *ScriptWatcher) WatchedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, 0, len(w.files)+len(w.dirs))
	for p := range w.files {
		paths = append(paths, p)
	}
	for p := range w.dirs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close stops the watcher. Pending events are discarded.
func (w *ScriptWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.closedWg.Wait()
	err := w.watcher.Close()

	// fire checks closed under the lock, so late timers never send on the
	// closed channel.
	w.mu.Lock()
	close(w.events)
	close(w.errors)
	w.mu.Unlock()

	return err
}

// processLoop handles incoming fsnotify events.
func (w *ScriptWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case fsEvent, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
			select {
			case w.errors <- err:
			default:
				// Channel full, drop error
			}
		}
	}
}

// handleFSEvent debounces an fsnotify event for a watched script.
func (w *ScriptWatcher) handleFSEvent(fsEvent fsnotify.Event) {
	op := convertOp(fsEvent.Op)
	if op == 0 {
		return
	}
	path := filepath.Clean(fsEvent.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || !w.relevant(path) {
		return
	}

	event := Event{Path: path, Op: op, Timestamp: time.Now()}
	if w.config.EventFilter != nil && !w.config.EventFilter(event) {
		return
	}

	if p, exists := w.pending[path]; exists {
		p.event.Op |= op
		p.event.Timestamp = event.Timestamp
		p.timer.Reset(w.config.DebounceDelay)
		return
	}

	w.pending[path] = &pendingEvent{
		event: event,
		timer: time.AfterFunc(w.config.DebounceDelay, func() { w.fire(path) }),
	}
}

// relevant reports whether path is a watched file or a script inside a
// watched directory. w.mu must be held.
func (w *ScriptWatcher) relevant(path string) bool {
	if w.files[path] {
		return true
	}
	if !w.dirs[filepath.Dir(path)] {
		return false
	}
	return slices.Contains(w.config.Extensions, strings.ToLower(filepath.Ext(path)))
}

// fire delivers a pending event.
func (w *ScriptWatcher) fire(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, exists := w.pending[path]
	if !exists || w.closed {
		return
	}
	delete(w.pending, path)

	select {
	case w.events <- p.event:
	default:
		w.log.Warn("event channel full, dropping event", zap.String("path", path))
	}
}

// convertOp converts fsnotify.Op to watcher.Op.
func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}
