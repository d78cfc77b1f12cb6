//go:build linux

package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tripwire/frostwatch/internal/agent"
	"github.com/tripwire/frostwatch/internal/notify"
)

// DefaultFanotifyMask reports files closed after being opened for writing.
const DefaultFanotifyMask = notify.FanCloseWrite

// FanotifyWatcher marks the whole mount holding root and reports events for
// paths below root. It requires CAP_SYS_ADMIN.
type FanotifyWatcher struct {
	root   string
	mount  string
	mask   notify.Mask
	logger *slog.Logger

	ch   *notify.Channel
	pump *notify.Pump

	events   chan agent.PathEvent
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFanotifyWatcher opens a notification-class fanotify channel. A zero mask
// selects DefaultFanotifyMask.
func NewFanotifyWatcher(root string, mask notify.Mask, logger *slog.Logger, bufSize int) (*FanotifyWatcher, error) {
	abs, err := absRoot(root)
	if err != nil {
		return nil, fmt.Errorf("fanotify watcher: resolve %q: %w", root, err)
	}
	mount, err := FindMount(abs)
	if err != nil {
		return nil, fmt.Errorf("fanotify watcher: %w", err)
	}
	if mask == 0 {
		mask = DefaultFanotifyMask
	}

	ch, err := notify.OpenFanotify(notify.FanClassNotif|notify.FanCloexec, unix.O_RDONLY|unix.O_LARGEFILE)
	if err != nil {
		return nil, fmt.Errorf("fanotify watcher: %w", err)
	}
	pump, err := notify.NewPump(ch, logger, bufSize)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("fanotify watcher: %w", err)
	}

	return &FanotifyWatcher{
		root:   abs,
		mount:  mount,
		mask:   mask,
		logger: logger,
		ch:     ch,
		pump:   pump,
		events: make(chan agent.PathEvent, DefaultBuffer),
	}, nil
}

// Start marks the mount and begins delivering events.
func (w *FanotifyWatcher) Start(ctx context.Context) error {
	if _, err := w.ch.Watch(w.mount, w.mask, notify.FanMarkMount); err != nil {
		return fmt.Errorf("fanotify watcher: mark %q: %w", w.mount, err)
	}
	w.logger.Info("fanotify watcher: watching mount",
		slog.String("mount", w.mount),
		slog.String("root", w.root),
		slog.String("mask", w.mask.Format(notify.Fanotify)))

	sub := w.pump.Subscribe(ctx)
	w.pump.Start()

	w.wg.Add(1)
	go w.loop(sub)
	return nil
}

// Stop stops the pump, releases the fanotify descriptor and closes Events. It
// is idempotent.
func (w *FanotifyWatcher) Stop() {
	w.stopOnce.Do(func() {
		if err := w.pump.Stop(); err != nil {
			w.logger.Warn("fanotify watcher: stopping pump", slog.Any("error", err))
		}
		w.wg.Wait()
		if err := w.ch.Close(); err != nil {
			w.logger.Warn("fanotify watcher: closing channel", slog.Any("error", err))
		}
		close(w.events)
	})
}

func (w *FanotifyWatcher) Events() <-chan agent.PathEvent { return w.events }

// Stats returns the pump's delivered and dropped event counts.
func (w *FanotifyWatcher) Stats() (delivered, dropped int64) {
	return w.pump.Delivered(), w.pump.Dropped()
}

// Mount returns the mount point that is marked.
func (w *FanotifyWatcher) Mount() string { return w.mount }

func (w *FanotifyWatcher) loop(sub <-chan notify.Event) {
	defer w.wg.Done()
	for ev := range sub {
		fe, ok := ev.(*notify.FanotifyEvent)
		if !ok || fe.Overflow() {
			continue
		}
		path := fe.Filename()
		if path == notify.UnknownFilename || !within(w.root, path) {
			continue
		}
		emit(w.events, w.logger, "fanotify watcher", agent.PathEvent{
			Path:      path,
			Source:    agent.SourceFanotify,
			Mask:      uint64(fe.Mask),
			PID:       fe.Pid,
			Timestamp: time.Now().UTC(),
		})
	}
}

// FindMount returns the mount point containing path: the highest ancestor
// that is still on the same device.
func FindMount(path string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", fmt.Errorf("stat %q: %w", path, err)
	}
	dev := st.Dev

	cur := filepath.Clean(path)
	for cur != "/" {
		parent := filepath.Dir(cur)
		if err := unix.Stat(parent, &st); err != nil {
			return "", fmt.Errorf("stat %q: %w", parent, err)
		}
		if st.Dev != dev {
			break
		}
		cur = parent
	}
	return cur, nil
}
