//go:build linux

package notify

import (
	"golang.org/x/sys/unix"
)

// OpenInotify creates an inotify channel. Pass InNonblock for a non-blocking
// channel and InCloexec to keep the descriptor out of child processes.
func OpenInotify(flags InitFlags) (*Channel, error) {
	fd, err := unix.InotifyInit1(int(flags))
	if err != nil {
		return nil, errnoError("inotify_init1", err)
	}
	blocking := flags&InNonblock == 0
	return newChannel(Inotify, ClassNotify, fd, blocking, &fdSource{mech: Inotify, fd: fd}), nil
}

// OpenFanotify creates a fanotify channel. flags selects the class
// (FanClassNotif, FanClassContent, FanClassPreContent), queue and mark limits
// and descriptor flags. eventFlags are the open(2) flags applied to the
// descriptors delivered with each event, e.g. O_RDONLY|O_LARGEFILE.
//
// fanotify requires CAP_SYS_ADMIN.
func OpenFanotify(flags InitFlags, eventFlags int) (*Channel, error) {
	fd, err := unix.FanotifyInit(uint(flags), uint(eventFlags))
	if err != nil {
		return nil, errnoError("fanotify_init", err)
	}
	blocking := flags&FanNonblock == 0
	return newChannel(Fanotify, classOf(flags), fd, blocking, &fdSource{mech: Fanotify, fd: fd}), nil
}
