package notify

import (
	"fmt"
	"iter"
)

// source is the kernel side of a Channel: readiness, sizing, reading and
// watch registration against a single descriptor.
type source interface {
	// waitReadable blocks until the channel is readable or, if wake is a
	// valid descriptor, until wake is readable. woken reports the latter.
	waitReadable(wake int) (woken bool, err error)
	// pending returns the number of bytes the kernel has queued.
	pending() (int, error)
	// read performs exactly one read of up to n bytes.
	read(n int) ([]byte, error)
	addWatch(target string, mask Mask, flags MarkFlags) (int32, error)
	removeWatch(w Watch) error
	close() error
}

// Watch identifies a registered interest. For inotify ID is the kernel watch
// descriptor. fanotify marks have no id and are identified by Target, Mask
// and Flags, so ID is -1.
type Watch struct {
	ID     int32
	Target string
	Mask   Mask
	Flags  MarkFlags
}

// Channel owns one kernel notification handle and the queue of events
// decoded from it but not yet consumed.
//
// A Channel must not be used from more than one goroutine at a time. The one
// exception is Watch and Unwatch, which only issue the mark syscall and may
// be called while a Pump is reading.
type Channel struct {
	mech     Mechanism
	class    Class
	fd       int
	blocking bool
	closed   bool

	src    source
	decode decodeFunc
	queue  eventQueue
}

func newChannel(mech Mechanism, class Class, fd int, blocking bool, src source) *Channel {
	return &Channel{
		mech:     mech,
		class:    class,
		fd:       fd,
		blocking: blocking,
		src:      src,
		decode:   decoderFor(mech),
	}
}

// Fd returns the kernel descriptor, or -1 once the channel is closed.
func (c *Channel) Fd() int {
	if c.closed {
		return -1
	}
	return c.fd
}

func (c *Channel) Mechanism() Mechanism { return c.mech }

// Class returns the notification class. inotify channels are always
// ClassNotify.
func (c *Channel) Class() Class { return c.class }

// Blocking reports whether reads suspend until events are available.
func (c *Channel) Blocking() bool { return c.blocking }

// Queued returns the number of decoded events waiting in the local queue.
func (c *Channel) Queued() int { return c.queue.len() }

func (c *Channel) String() string {
	mode := "blocking"
	if !c.blocking {
		mode = "non-blocking"
	}
	return fmt.Sprintf("%s channel fd=%d class=%s %s", c.mech, c.Fd(), c.class, mode)
}

// Watch registers interest in target. Masks OR-combine. With InMaskAdd the
// mask is merged into an existing inotify watch instead of replacing it.
// fanotify marks are always added (FAN_MARK_ADD), and FanMarkMount or
// FanMarkFilesystem in flags widen the mark beyond a single inode.
func (c *Channel) Watch(target string, mask Mask, flags MarkFlags) (Watch, error) {
	op := c.markOp()
	if c.closed {
		return Watch{}, errClosed(op)
	}
	if c.mech == Inotify && uint64(mask)>>32 != 0 {
		return Watch{}, &Error{Op: op, Kind: KindArgument, Msg: fmt.Sprintf("mask %#x does not fit in 32 bits", uint64(mask))}
	}
	id, err := c.src.addWatch(target, mask, flags)
	if err != nil {
		return Watch{}, err
	}
	return Watch{ID: id, Target: target, Mask: mask, Flags: flags}, nil
}

// Unwatch removes a watch previously returned by Watch.
func (c *Channel) Unwatch(w Watch) error {
	op := "inotify_rm_watch"
	if c.mech == Fanotify {
		op = "fanotify_mark"
	}
	if c.closed {
		return errClosed(op)
	}
	return c.src.removeWatch(w)
}

func (c *Channel) markOp() string {
	if c.mech == Fanotify {
		return "fanotify_mark"
	}
	return "inotify_add_watch"
}

// NextEvent returns the oldest queued event, refilling the queue from the
// kernel once if it is empty. On a blocking channel the refill waits
// indefinitely. On a non-blocking channel with nothing pending it returns
// ErrNoPending.
func (c *Channel) NextEvent() (Event, error) {
	if c.closed {
		return nil, errClosed("read")
	}
	if ev, ok := c.queue.pop(); ok {
		return ev, nil
	}
	n, err := c.refill()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, structural("read", "refill decoded no events")
	}
	ev, _ := c.queue.pop()
	return ev, nil
}

// Drain returns and clears the local queue. If the queue is empty it refills
// exactly once and returns that batch. A non-blocking channel with nothing
// pending yields an empty batch.
func (c *Channel) Drain() ([]Event, error) {
	if c.closed {
		return nil, errClosed("read")
	}
	if c.queue.len() == 0 {
		if _, err := c.refill(); err != nil {
			if err == ErrNoPending {
				return nil, nil
			}
			return nil, err
		}
	}
	return c.queue.drain(), nil
}

// Truncate discards the local queue. Events already queued in the kernel are
// untouched and surface on the next read. Descriptors owned by discarded
// fanotify events are closed.
func (c *Channel) Truncate() {
	_ = discard(c.queue.drain(), nil)
}

// Events returns an unbounded sequence of events. Each step blocks as
// NextEvent does. The sequence ends when the consumer stops ranging, or after
// the first error has been yielded, e.g. once the channel is closed.
func (c *Channel) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := c.NextEvent()
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Close releases the kernel handle and drops the local queue. Every later
// operation, including a second Close, fails with a KindResource error.
func (c *Channel) Close() error {
	if c.closed {
		return errClosed("close")
	}
	c.closed = true
	c.Truncate()
	return c.src.close()
}

// wait blocks until the channel is readable or wake fires. Non-blocking
// channels are waited on as well, which lets a Pump drive either mode.
func (c *Channel) wait(wake int) (bool, error) {
	if c.closed {
		return false, errClosed("poll")
	}
	return c.src.waitReadable(wake)
}

// refill performs one size query, one read and one decode, appending the
// decoded batch to the queue. It returns the number of events added.
func (c *Channel) refill() (int, error) {
	if c.blocking {
		if _, err := c.src.waitReadable(-1); err != nil {
			return 0, err
		}
	}
	n, err := c.src.pending()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if !c.blocking {
			return 0, ErrNoPending
		}
		return 0, structural("read", "channel became readable with no bytes pending")
	}

	buf, err := c.src.read(n)
	if err != nil {
		return 0, err
	}
	if len(buf) < headerSize(c.mech) {
		return 0, structural("read", fmt.Sprintf("short read of %d bytes, %s header is %d",
			len(buf), c.mech, headerSize(c.mech)))
	}
	evs, err := c.decode(buf)
	if err != nil {
		return 0, err
	}
	c.queue.push(evs...)
	return len(evs), nil
}
