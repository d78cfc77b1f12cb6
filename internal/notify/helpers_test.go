package notify

import (
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// Record builders
// ---------------------------------------------------------------------------

// inotifyRecord encodes one struct inotify_event. nameLen is the declared
// length; the name is NUL-padded (or truncated) to fit it.
func inotifyRecord(wd int32, mask Mask, cookie uint32, name string, nameLen int) []byte {
	b := make([]byte, InotifyHeaderSize+nameLen)
	binary.NativeEndian.PutUint32(b[0:4], uint32(wd))
	binary.NativeEndian.PutUint32(b[4:8], uint32(mask))
	binary.NativeEndian.PutUint32(b[8:12], cookie)
	binary.NativeEndian.PutUint32(b[12:16], uint32(nameLen))
	copy(b[InotifyHeaderSize:], name)
	return b
}

// fanotifyRecord encodes one struct fanotify_event_metadata declaring
// eventLen bytes; bytes beyond the 24-byte header are zero.
func fanotifyRecord(eventLen int, vers uint8, mask Mask, fd, pid int32) []byte {
	b := make([]byte, eventLen)
	binary.NativeEndian.PutUint32(b[0:4], uint32(eventLen))
	b[4] = vers
	binary.NativeEndian.PutUint16(b[6:8], FanotifyHeaderSize)
	binary.NativeEndian.PutUint64(b[8:16], uint64(mask))
	binary.NativeEndian.PutUint32(b[16:20], uint32(fd))
	binary.NativeEndian.PutUint32(b[20:24], uint32(pid))
	return b
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ---------------------------------------------------------------------------
// Fake kernel source
// ---------------------------------------------------------------------------

// fakeSource serves pre-built read batches in order. pending reports the
// size of the next batch, or 0 once they are exhausted.
type fakeSource struct {
	batches [][]byte
	reads   int
	waits   int
	closed  int

	nextWd  int32
	removed []Watch
	addErr  error
}

func (f *fakeSource) waitReadable(int) (bool, error) {
	f.waits++
	return false, nil
}

func (f *fakeSource) pending() (int, error) {
	if len(f.batches) == 0 {
		return 0, nil
	}
	return len(f.batches[0]), nil
}

func (f *fakeSource) read(n int) ([]byte, error) {
	b := f.batches[0]
	f.batches = f.batches[1:]
	f.reads++
	if n < len(b) {
		b = b[:n]
	}
	return b, nil
}

func (f *fakeSource) addWatch(string, Mask, MarkFlags) (int32, error) {
	if f.addErr != nil {
		return -1, f.addErr
	}
	f.nextWd++
	return f.nextWd, nil
}

func (f *fakeSource) removeWatch(w Watch) error {
	f.removed = append(f.removed, w)
	return nil
}

func (f *fakeSource) close() error {
	f.closed++
	return nil
}

func newFakeChannel(mech Mechanism, blocking bool, batches ...[]byte) (*Channel, *fakeSource) {
	src := &fakeSource{batches: batches}
	return newChannel(mech, ClassNotify, 42, blocking, src), src
}
