//go:build linux

// Command notifytail prints raw inotify or fanotify events for a directory.
//
//	notifytail [-fanotify] [-mask NAMES] [dir]
//
// With -fanotify the whole mount holding dir is marked, which requires
// CAP_SYS_ADMIN. NAMES is a "|"-separated list such as
// IN_CREATE|IN_CLOSE_WRITE.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/tripwire/frostwatch/internal/notify"
	"github.com/tripwire/frostwatch/internal/watcher"
)

func main() {
	useFanotify := flag.Bool("fanotify", false, "mark the mount with fanotify instead of watching dir with inotify")
	maskFlag := flag.String("mask", "", "event names to watch (default IN_ALL_EVENTS or FAN_CLOSE_WRITE|FAN_OPEN)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	dir := "."
	if flag.NArg() > 0 {
		dir = flag.Arg(0)
	}

	ch, err := open(*useFanotify, *maskFlag, dir)
	if err != nil {
		logger.Error("notifytail: setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("notifytail: listening", slog.String("channel", ch.String()), slog.String("dir", dir))

	mech := ch.Mechanism()
	for {
		// Events ends after yielding an error. A malformed batch is
		// skipped and reading resumes; anything else is fatal.
		for ev, err := range ch.Events() {
			if err != nil {
				if notify.KindOf(err) == notify.KindStructural {
					logger.Warn("notifytail: skipping malformed batch", slog.Any("error", err))
					break
				}
				logger.Error("notifytail: read failed", slog.Any("error", err))
				os.Exit(1)
			}
			printEvent(mech, ev, logger)
		}
	}
}

func printEvent(mech notify.Mechanism, ev notify.Event, logger *slog.Logger) {
	switch e := ev.(type) {
	case *notify.InotifyEvent:
		fmt.Printf("wd=%d cookie=%d %s %s\n", e.Wd, e.Cookie, e.Mask.Format(mech), e.Name)
	case *notify.FanotifyEvent:
		fmt.Printf("pid=%d %s %s\n", e.Pid, e.Mask.Format(mech), e.Filename())
		if err := e.Close(); err != nil {
			logger.Warn("notifytail: closing event descriptor", slog.Any("error", err))
		}
	}
}

func open(useFanotify bool, maskNames, dir string) (*notify.Channel, error) {
	if useFanotify {
		mask := notify.FanCloseWrite | notify.FanOpen
		if maskNames != "" {
			m, err := notify.ParseMask(notify.Fanotify, maskNames)
			if err != nil {
				return nil, err
			}
			mask = m
		}
		mount, err := watcher.FindMount(dir)
		if err != nil {
			return nil, err
		}
		ch, err := notify.OpenFanotify(notify.FanClassNotif|notify.FanCloexec, unix.O_RDONLY|unix.O_LARGEFILE)
		if err != nil {
			return nil, err
		}
		if _, err := ch.Watch(mount, mask, notify.FanMarkMount); err != nil {
			ch.Close()
			return nil, err
		}
		return ch, nil
	}

	mask := notify.InAllEvents
	if maskNames != "" {
		m, err := notify.ParseMask(notify.Inotify, maskNames)
		if err != nil {
			return nil, err
		}
		mask = m
	}
	ch, err := notify.OpenInotify(notify.InCloexec)
	if err != nil {
		return nil, err
	}
	if _, err := ch.Watch(dir, mask, 0); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}
