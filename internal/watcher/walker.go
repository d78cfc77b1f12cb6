package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/tripwire/frostwatch/internal/agent"
)

var errWalkStopped = errors.New("walk stopped")

// Walker is the active-mode source. It walks a tree with fastwalk and emits
// every regular, non-empty file modified within the last days days. With a
// zero interval it walks once and then closes Events.
type Walker struct {
	root     string
	days     int
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	events   chan agent.PathEvent
	stop     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	wg       sync.WaitGroup
}

// NewWalker returns a Walker for root. days <= 0 disables the age filter.
func NewWalker(root string, days int, interval time.Duration, logger *slog.Logger) *Walker {
	return &Walker{
		root:     root,
		days:     days,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		events:   make(chan agent.PathEvent, DefaultBuffer),
		stop:     make(chan struct{}),
	}
}

// Start checks that root is a directory and begins walking in the
// background.
func (w *Walker) Start(ctx context.Context) error {
	root, err := absRoot(w.root)
	if err != nil {
		return fmt.Errorf("walker: resolve %q: %w", w.root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("walker: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("walker: %q is not a directory", root)
	}
	w.root = root

	w.started.Store(true)
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop aborts any walk in progress and waits for it to finish. Events is
// closed once Stop returns.
func (w *Walker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if !w.started.Load() {
			close(w.events)
		}
	})
	w.wg.Wait()
}

func (w *Walker) Events() <-chan agent.PathEvent { return w.events }

func (w *Walker) run(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.events)

	for {
		start := w.now()
		n, err := w.walk(ctx)
		if errors.Is(err, errWalkStopped) {
			return
		}
		if err != nil {
			w.logger.Warn("walker: walk failed", slog.String("root", w.root), slog.Any("error", err))
		}
		w.logger.Info("walker: pass complete",
			slog.String("root", w.root),
			slog.Int("files", n),
			slog.Duration("elapsed", w.now().Sub(start)))

		if w.interval <= 0 {
			return
		}
		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// walk emits one event per candidate file and returns how many were sent.
func (w *Walker) walk(ctx context.Context) (int, error) {
	var cutoff time.Time
	if w.days > 0 {
		cutoff = w.now().Add(-time.Duration(w.days) * 24 * time.Hour)
	}

	var (
		mu   sync.Mutex
		sent int
	)
	conf := &fastwalk.Config{Follow: false}
	err := fastwalk.Walk(conf, w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("walker: skipping unreadable entry", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() == 0 {
			return nil
		}
		if !cutoff.IsZero() && info.ModTime().Before(cutoff) {
			return nil
		}

		select {
		case w.events <- agent.PathEvent{Path: path, Source: agent.SourceWalk, Timestamp: w.now()}:
		case <-ctx.Done():
			return errWalkStopped
		case <-w.stop:
			return errWalkStopped
		}
		mu.Lock()
		sent++
		mu.Unlock()
		return nil
	})
	return sent, err
}
