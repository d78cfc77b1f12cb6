//go:build !linux

package watcher

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tripwire/frostwatch/internal/agent"
	"github.com/tripwire/frostwatch/internal/notify"
)

var errUnsupported = errors.New("watcher: kernel notification requires linux")

const (
	DefaultInotifyMask  = notify.InCloseWrite | notify.InMovedTo
	DefaultFanotifyMask = notify.FanCloseWrite
)

// InotifyWatcher is unavailable on this platform.
type InotifyWatcher struct{}

func NewInotifyWatcher(string, notify.Mask, *slog.Logger, int) (*InotifyWatcher, error) {
	return nil, errUnsupported
}

func (*InotifyWatcher) Start(context.Context) error { return errUnsupported }
func (*InotifyWatcher) Stop() {}
func (*InotifyWatcher) Events() <-chan agent.PathEvent { return nil }
func (*InotifyWatcher) Ready() <-chan struct{} { return nil }
func (*InotifyWatcher) Watches() int { return 0 }
func (*InotifyWatcher) Stats() (int64, int64) { return 0, 0 }

// FanotifyWatcher is unavailable on this platform.
type FanotifyWatcher struct{}

func NewFanotifyWatcher(string, notify.Mask, *slog.Logger, int) (*FanotifyWatcher, error) {
	return nil, errUnsupported
}

func (*FanotifyWatcher) Start(context.Context) error { return errUnsupported }
func (*FanotifyWatcher) Stop() {}
func (*FanotifyWatcher) Events() <-chan agent.PathEvent { return nil }
func (*FanotifyWatcher) Mount() string { return "" }
func (*FanotifyWatcher) Stats() (int64, int64) { return 0, 0 }

func FindMount(string) (string, error) { return "", errUnsupported }
