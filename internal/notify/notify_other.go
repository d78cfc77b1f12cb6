//go:build !linux

package notify

import "errors"

var errUnsupported = errors.New("filesystem notification channels require Linux")

// OpenInotify is only available on Linux.
func OpenInotify(flags InitFlags) (*Channel, error) {
	return nil, &Error{Op: "inotify_init1", Kind: KindResource, Err: errUnsupported}
}

// OpenFanotify is only available on Linux.
func OpenFanotify(flags InitFlags, eventFlags int) (*Channel, error) {
	return nil, &Error{Op: "fanotify_init", Kind: KindResource, Err: errUnsupported}
}

func closeFd(int) error { return errUnsupported }

func newWaker() (waker, error) { return nil, errUnsupported }
