package notify

import (
	"fmt"
	"os"
	"strconv"
)

// UnknownFilename is reported by FanotifyEvent.Filename when the event
// descriptor cannot be mapped back to a path.
const UnknownFilename = "<Unknown>"

// Event is one decoded notification record.
type Event interface {
	Mechanism() Mechanism
	EventMask() Mask
	// Overflow reports whether the kernel dropped events before this one.
	Overflow() bool
	// Filename returns the entry name (inotify) or the resolved absolute
	// path (fanotify).
	Filename() string
}

// InotifyEvent is a decoded struct inotify_event.
type InotifyEvent struct {
	Wd     int32
	Mask   Mask
	Cookie uint32
	// Name is the entry name relative to the watched directory. It is empty
	// for events on the watched object itself.
	Name string
}

func (e *InotifyEvent) Mechanism() Mechanism { return Inotify }
func (e *InotifyEvent) EventMask() Mask      { return e.Mask }
func (e *InotifyEvent) Overflow() bool       { return e.Mask&InQOverflow != 0 }
func (e *InotifyEvent) Filename() string     { return e.Name }

// IsDir reports whether the subject of the event is a directory.
func (e *InotifyEvent) IsDir() bool { return e.Mask&InIsDir != 0 }

func (e *InotifyEvent) String() string {
	return fmt.Sprintf("inotify{wd=%d mask=%s cookie=%d name=%q}",
		e.Wd, e.Mask.Format(Inotify), e.Cookie, e.Name)
}

// FanotifyEvent is a decoded struct fanotify_event_metadata. It owns Fd until
// Close is called.
type FanotifyEvent struct {
	Version uint8
	Mask    Mask
	Fd      int32
	Pid     int32

	name     string
	resolved bool
}

func (e *FanotifyEvent) Mechanism() Mechanism { return Fanotify }
func (e *FanotifyEvent) EventMask() Mask      { return e.Mask }
func (e *FanotifyEvent) Overflow() bool       { return e.Mask&FanQOverflow != 0 }

// Filename resolves Fd through /proc on first use. Failure yields
// UnknownFilename. The result is cached on this event only; descriptor
// numbers are reused by the kernel across events.
func (e *FanotifyEvent) Filename() string {
	if !e.resolved {
		e.name = resolveFd(e.Fd)
		e.resolved = true
	}
	return e.name
}

// Close releases the event descriptor. Filename keeps returning a value
// resolved before Close.
func (e *FanotifyEvent) Close() error {
	if e.Fd < 0 {
		return nil
	}
	fd := e.Fd
	e.Fd = fanNoFd
	if err := closeFd(int(fd)); err != nil {
		return errnoError("close", err)
	}
	return nil
}

func (e *FanotifyEvent) String() string {
	return fmt.Sprintf("fanotify{vers=%d mask=%s fd=%d pid=%d}",
		e.Version, e.Mask.Format(Fanotify), e.Fd, e.Pid)
}

// resolveFd maps a descriptor of this process to the path it refers to.
var resolveFd = func(fd int32) string {
	if fd < 0 {
		return UnknownFilename
	}
	p, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(int(fd)))
	if err != nil {
		return UnknownFilename
	}
	return p
}
