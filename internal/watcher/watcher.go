// Package watcher provides the path event sources that implement
// agent.Watcher: a fanotify mount watcher, a recursive inotify watcher and a
// periodic directory walker.
package watcher

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/tripwire/frostwatch/internal/agent"
)

// DefaultBuffer is the depth of each watcher's Events channel.
const DefaultBuffer = 64

// emit sends evt without blocking. Kernel-driven watchers must never stall
// their reader, so a full channel drops the event.
func emit(events chan<- agent.PathEvent, logger *slog.Logger, component string, evt agent.PathEvent) {
	select {
	case events <- evt:
	default:
		logger.Warn(component+": event channel full, dropping event",
			slog.String("path", evt.Path))
	}
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	if root == "/" {
		return strings.HasPrefix(path, "/")
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// absRoot cleans dir into an absolute, symlink-free path so it can be
// compared with kernel-resolved paths.
func absRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
