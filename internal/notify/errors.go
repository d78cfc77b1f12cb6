package notify

import (
	"errors"
	"syscall"
)

// Kind classifies a notify failure so callers can decide whether to retry,
// abort or ignore it.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindArgument covers invalid flags, masks or watch ids, and caller
	// contract violations.
	KindArgument
	// KindResource covers descriptor or instance limits and bad handles.
	KindResource
	// KindMemory means the kernel could not allocate.
	KindMemory
	// KindPermission means the caller lacks the required privilege.
	KindPermission
	// KindNotFound means the watch target does not exist.
	KindNotFound
	// KindStructural means a read or decode lost record alignment.
	KindStructural
)

var kindNames = [...]string{
	KindUnknown:    "unknown",
	KindArgument:   "argument",
	KindResource:   "resource",
	KindMemory:     "memory",
	KindPermission: "permission",
	KindNotFound:   "not found",
	KindStructural: "structural",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Error is returned by every fallible operation in this package.
type Error struct {
	// Op is the kernel call or stage that failed, e.g. "inotify_add_watch".
	Op   string
	Kind Kind
	// Msg is a human-readable explanation, if one is known.
	Msg string
	// Err is the underlying errno, if any.
	Err error
}

func (e *Error) Error() string {
	s := "notify: "
	if e.Op != "" {
		s += e.Op + ": "
	}
	s += e.Kind.String() + " error"
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare kind sentinels (ErrArgument, ErrResource, ...) against
// any Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Msg != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for use with errors.Is.
var (
	ErrArgument   = &Error{Kind: KindArgument}
	ErrResource   = &Error{Kind: KindResource}
	ErrMemory     = &Error{Kind: KindMemory}
	ErrPermission = &Error{Kind: KindPermission}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrStructural = &Error{Kind: KindStructural}
)

// ErrNoPending is returned when a non-blocking channel is asked for an event
// while the kernel has nothing queued. Callers of a non-blocking channel must
// wait for readiness themselves.
var ErrNoPending = &Error{Op: "read", Kind: KindArgument, Msg: "no bytes pending on non-blocking channel"}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err stems from resource or memory exhaustion,
// which may clear up later.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindResource || k == KindMemory
}

// IsFatal reports whether err means the request or the channel's stream
// position is unusable.
func IsFatal(err error) bool {
	k := KindOf(err)
	return k == KindArgument || k == KindStructural
}

func structural(op, msg string) error {
	return &Error{Op: op, Kind: KindStructural, Msg: msg}
}

type errnoInfo struct {
	kind Kind
	msg  string
}

// errnoTable maps each kernel call's documented errnos onto a Kind.
var errnoTable = map[string]map[syscall.Errno]errnoInfo{
	"inotify_init1": {
		syscall.EINVAL: {KindArgument, "invalid value specified in flags"},
		syscall.EMFILE: {KindResource, "per-user limit on inotify instances or open descriptors reached"},
		syscall.ENFILE: {KindResource, "system-wide limit on open files reached"},
		syscall.ENOMEM: {KindMemory, "insufficient kernel memory"},
	},
	"fanotify_init": {
		syscall.EINVAL: {KindArgument, "invalid value passed in flags or event_f_flags"},
		syscall.EMFILE: {KindResource, "too many fanotify groups or open descriptors"},
		syscall.ENFILE: {KindResource, "system-wide limit on open files reached"},
		syscall.ENOMEM: {KindMemory, "allocation of memory for the notification group failed"},
		syscall.EPERM:  {KindPermission, "operation requires CAP_SYS_ADMIN"},
	},
	"inotify_add_watch": {
		syscall.EINVAL:  {KindArgument, "mask contains no valid events or fd is not an inotify descriptor"},
		syscall.ENOTDIR: {KindArgument, "IN_ONLYDIR given and path is not a directory"},
		syscall.EEXIST:  {KindArgument, "IN_MASK_CREATE given and path is already watched"},
		syscall.EACCES:  {KindPermission, "read access to the given file is not permitted"},
		syscall.EBADF:   {KindResource, "the given file descriptor is not valid"},
		syscall.EFAULT:  {KindResource, "pathname points outside the accessible address space"},
		syscall.ENOSPC:  {KindResource, "user limit on inotify watches reached"},
		syscall.ENOENT:  {KindNotFound, "a directory component in pathname does not exist"},
		syscall.ENOMEM:  {KindMemory, "insufficient kernel memory"},
	},
	"inotify_rm_watch": {
		syscall.EINVAL: {KindArgument, "watch descriptor is not valid or fd is not an inotify descriptor"},
		syscall.EBADF:  {KindResource, "fd is not a valid file descriptor"},
	},
	"fanotify_mark": {
		syscall.EINVAL:  {KindArgument, "invalid value passed in flags or mask"},
		syscall.ENOTDIR: {KindArgument, "FAN_MARK_ONLYDIR given and path is not a directory"},
		syscall.EXDEV:   {KindArgument, "path is on a filesystem that does not support this mark"},
		syscall.EBADF:   {KindResource, "invalid file descriptor"},
		syscall.ENOSPC:  {KindResource, "number of marks exceeds the limit"},
		syscall.ENOENT:  {KindNotFound, "the path does not exist or the mark to remove was not found"},
		syscall.ENOMEM:  {KindMemory, "necessary memory could not be allocated"},
		syscall.EPERM:   {KindPermission, "operation requires CAP_SYS_ADMIN"},
		syscall.EACCES:  {KindPermission, "search permission denied on a path component"},
	},
	"ioctl": {
		syscall.EBADF: {KindResource, "channel descriptor is not valid"},
	},
	"poll": {
		syscall.EBADF:  {KindResource, "channel descriptor is not valid"},
		syscall.ENOMEM: {KindMemory, "unable to allocate poll tables"},
	},
	"read": {
		syscall.EBADF:  {KindResource, "channel descriptor is not valid"},
		syscall.EAGAIN: {KindArgument, "no bytes pending on non-blocking channel"},
		syscall.EINVAL: {KindArgument, "read buffer too small for the next record"},
	},
	"close": {
		syscall.EBADF: {KindResource, "channel descriptor is not valid"},
	},
}

// errnoError wraps err from kernel call op in an *Error of the matching Kind.
func errnoError(op string, err error) error {
	e := &Error{Op: op, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if info, ok := errnoTable[op][errno]; ok {
			e.Kind, e.Msg = info.kind, info.msg
		}
	}
	return e
}

// errClosed is returned by operations on a closed Channel.
func errClosed(op string) error {
	return &Error{Op: op, Kind: KindResource, Msg: "channel is closed", Err: syscall.EBADF}
}
