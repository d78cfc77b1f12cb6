//go:build linux

package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/tripwire/frostwatch/internal/agent"
	"github.com/tripwire/frostwatch/internal/notify"
)

// DefaultInotifyMask selects files that were written and closed or moved into
// a watched directory.
const DefaultInotifyMask = notify.InCloseWrite | notify.InMovedTo

// treeMask is always added to directory watches so subdirectories can be
// followed as they are created, moved in or moved away.
const treeMask = notify.InCreate | notify.InMovedTo | notify.InMovedFrom

// InotifyWatcher watches a directory tree with one inotify watch per
// directory. It needs no privileges, but each directory costs a watch from
// fs.inotify.max_user_watches.
type InotifyWatcher struct {
	root    string
	mask    notify.Mask
	logger  *slog.Logger
	bufSize int

	ch   *notify.Channel
	pump *notify.Pump

	mu   sync.Mutex
	dirs map[int32]string

	events   chan agent.PathEvent
	ready    chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewInotifyWatcher opens an inotify channel for root. A zero mask selects
// DefaultInotifyMask. bufSize is the pump's subscriber buffer.
func NewInotifyWatcher(root string, mask notify.Mask, logger *slog.Logger, bufSize int) (*InotifyWatcher, error) {
	abs, err := absRoot(root)
	if err != nil {
		return nil, fmt.Errorf("inotify watcher: resolve %q: %w", root, err)
	}
	if mask == 0 {
		mask = DefaultInotifyMask
	}

	ch, err := notify.OpenInotify(notify.InCloexec)
	if err != nil {
		return nil, fmt.Errorf("inotify watcher: %w", err)
	}
	pump, err := notify.NewPump(ch, logger, bufSize)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("inotify watcher: %w", err)
	}

	return &InotifyWatcher{
		root:    abs,
		mask:    mask,
		logger:  logger,
		bufSize: bufSize,
		ch:      ch,
		pump:    pump,
		dirs:    make(map[int32]string),
		events:  make(chan agent.PathEvent, DefaultBuffer),
		ready:   make(chan struct{}),
	}, nil
}

// Start watches every directory under root and begins delivering events.
// Watches are in place when Start returns.
func (w *InotifyWatcher) Start(ctx context.Context) error {
	if err := w.watchDir(w.root); err != nil {
		return fmt.Errorf("inotify watcher: %w", err)
	}
	n := w.addTree(w.root, false)
	w.logger.Info("inotify watcher: watching tree",
		slog.String("root", w.root),
		slog.Int("directories", n))

	sub := w.pump.Subscribe(ctx)
	w.pump.Start()

	w.wg.Add(1)
	go w.loop(sub)
	close(w.ready)
	return nil
}

// Stop stops the pump, releases the inotify descriptor and closes Events. It
// is idempotent.
func (w *InotifyWatcher) Stop() {
	w.stopOnce.Do(func() {
		if err := w.pump.Stop(); err != nil {
			w.logger.Warn("inotify watcher: stopping pump", slog.Any("error", err))
		}
		w.wg.Wait()
		if err := w.ch.Close(); err != nil {
			w.logger.Warn("inotify watcher: closing channel", slog.Any("error", err))
		}
		close(w.events)
	})
}

func (w *InotifyWatcher) Events() <-chan agent.PathEvent { return w.events }

// Stats returns the pump's delivered and dropped event counts.
func (w *InotifyWatcher) Stats() (delivered, dropped int64) {
	return w.pump.Delivered(), w.pump.Dropped()
}

// Ready is closed once the initial watches are registered.
func (w *InotifyWatcher) Ready() <-chan struct{} { return w.ready }

// Watches returns the number of live directory watches.
func (w *InotifyWatcher) Watches() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

func (w *InotifyWatcher) loop(sub <-chan notify.Event) {
	defer w.wg.Done()
	for ev := range sub {
		if ie, ok := ev.(*notify.InotifyEvent); ok {
			w.handle(ie)
		}
	}
}

func (w *InotifyWatcher) handle(ev *notify.InotifyEvent) {
	if ev.Overflow() {
		return
	}

	w.mu.Lock()
	dir, ok := w.dirs[ev.Wd]
	if ev.Mask.Has(notify.InIgnored) {
		delete(w.dirs, ev.Wd)
	}
	w.mu.Unlock()
	if !ok || ev.Mask.Has(notify.InIgnored) || ev.Name == "" {
		return
	}

	path := filepath.Join(dir, ev.Name)
	if ev.IsDir() {
		if ev.Mask.Has(notify.InMovedFrom) {
			w.forgetTree(path)
			return
		}
		if ev.Mask.Has(notify.InCreate | notify.InMovedTo) {
			if err := w.watchDir(path); err != nil {
				w.logger.Debug("inotify watcher: new directory vanished", slog.String("path", path), slog.Any("error", err))
				return
			}
			// Files may land in the new directory before its watch exists.
			w.addTree(path, true)
		}
		return
	}
	if ev.Mask.Has(w.mask) {
		emit(w.events, w.logger, "inotify watcher", agent.PathEvent{
			Path:      path,
			Source:    agent.SourceInotify,
			Mask:      uint64(ev.Mask),
			Timestamp: time.Now().UTC(),
		})
	}
}

// watchDir adds or refreshes the watch on one directory.
func (w *InotifyWatcher) watchDir(dir string) error {
	wt, err := w.ch.Watch(dir, w.mask|treeMask, notify.InOnlyDir|notify.InDontFollow)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.dirs[wt.ID] = dir
	w.mu.Unlock()
	return nil
}

// forgetTree removes the watches on dir and every directory below it. A
// rename inside the tree is followed by IN_MOVED_TO, which watches the
// subtree again under its new path.
func (w *InotifyWatcher) forgetTree(dir string) {
	prefix := dir + string(filepath.Separator)
	var gone []int32
	w.mu.Lock()
	for wd, p := range w.dirs {
		if p == dir || strings.HasPrefix(p, prefix) {
			gone = append(gone, wd)
			delete(w.dirs, wd)
		}
	}
	w.mu.Unlock()

	for _, wd := range gone {
		if err := w.ch.Unwatch(notify.Watch{ID: wd}); err != nil {
			w.logger.Debug("inotify watcher: dropping moved directory",
				slog.String("path", dir), slog.Any("error", err))
		}
	}
}

// addTree watches every directory below top and, when emitFiles is set,
// emits the regular files already present. It returns the number of
// directories watched, top included.
func (w *InotifyWatcher) addTree(top string, emitFiles bool) int {
	var (
		mu sync.Mutex
		n  = 1
	)
	conf := &fastwalk.Config{Follow: false}
	_ = fastwalk.Walk(conf, top, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == top {
			return nil
		}
		switch {
		case d.IsDir():
			if err := w.watchDir(path); err != nil {
				w.logger.Debug("inotify watcher: cannot watch directory",
					slog.String("path", path), slog.Any("error", err))
				return fs.SkipDir
			}
			mu.Lock()
			n++
			mu.Unlock()
		case emitFiles && d.Type().IsRegular():
			emit(w.events, w.logger, "inotify watcher", agent.PathEvent{
				Path:      path,
				Source:    agent.SourceInotify,
				Timestamp: time.Now().UTC(),
			})
		}
		return nil
	})
	return n
}
