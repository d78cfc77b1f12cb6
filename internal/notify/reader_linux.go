//go:build linux

package notify

import (
	"golang.org/x/sys/unix"
)

// fdSource reads raw records from a kernel notification descriptor.
type fdSource struct {
	mech Mechanism
	fd   int
}

// waitReadable polls the channel descriptor, and wake if it is non-negative,
// with no timeout. poll(2) skips negative descriptors.
func (s *fdSource) waitReadable(wake int) (bool, error) {
	fds := []unix.PollFd{
		{Fd: int32(s.fd), Events: unix.POLLIN},
		{Fd: int32(wake), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, errnoError("poll", err)
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			return true, nil
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return false, errnoError("poll", unix.EBADF)
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 {
			return false, nil
		}
	}
}

// pending asks the kernel how many bytes of whole records are queued.
// TIOCINQ is the Linux name for FIONREAD.
func (s *fdSource) pending() (int, error) {
	n, err := unix.IoctlGetInt(s.fd, unix.TIOCINQ)
	if err != nil {
		return 0, errnoError("ioctl", err)
	}
	return n, nil
}

func (s *fdSource) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	for {
		got, err := unix.Read(s.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, errnoError("read", err)
		}
		return buf[:got], nil
	}
}

func (s *fdSource) close() error {
	if err := unix.Close(s.fd); err != nil {
		return errnoError("close", err)
	}
	return nil
}

func (s *fdSource) addWatch(target string, mask Mask, flags MarkFlags) (int32, error) {
	if s.mech == Fanotify {
		err := unix.FanotifyMark(s.fd, uint(FanMarkAdd|flags), uint64(mask), unix.AT_FDCWD, target)
		if err != nil {
			return -1, errnoError("fanotify_mark", err)
		}
		return -1, nil
	}
	wd, err := unix.InotifyAddWatch(s.fd, target, uint32(mask)|uint32(flags))
	if err != nil {
		return -1, errnoError("inotify_add_watch", err)
	}
	return int32(wd), nil
}

func (s *fdSource) removeWatch(w Watch) error {
	if s.mech == Fanotify {
		flags := (w.Flags | FanMarkRemove) &^ FanMarkAdd
		err := unix.FanotifyMark(s.fd, uint(flags), uint64(w.Mask), unix.AT_FDCWD, w.Target)
		if err != nil {
			return errnoError("fanotify_mark", err)
		}
		return nil
	}
	if _, err := unix.InotifyRmWatch(s.fd, uint32(w.ID)); err != nil {
		return errnoError("inotify_rm_watch", err)
	}
	return nil
}

func closeFd(fd int) error { return unix.Close(fd) }
