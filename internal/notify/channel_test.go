package notify

import (
	"errors"
	"syscall"
	"testing"
)

func wdOf(t *testing.T, ev Event) int32 {
	t.Helper()
	ie, ok := ev.(*InotifyEvent)
	if !ok {
		t.Fatalf("event %T is not an inotify event", ev)
	}
	return ie.Wd
}

// ---------------------------------------------------------------------------
// NextEvent
// ---------------------------------------------------------------------------

func TestChannel_NextEventAcrossRefills(t *testing.T) {
	ch, src := newFakeChannel(Inotify, true,
		inotifyRecord(1, InCreate, 0, "e1", 4),
		concat(inotifyRecord(2, InCreate, 0, "e2", 4), inotifyRecord(3, InCreate, 0, "e3", 4)),
	)

	for _, want := range []int32{1, 2, 3} {
		ev, err := ch.NextEvent()
		if err != nil {
			t.Fatalf("NextEvent: %v", err)
		}
		if got := wdOf(t, ev); got != want {
			t.Errorf("wd = %d, want %d", got, want)
		}
	}
	if src.reads != 2 {
		t.Errorf("reads = %d, want 2", src.reads)
	}
	if src.waits != 2 {
		t.Errorf("readiness waits = %d, want 2 on a blocking channel", src.waits)
	}
}

func TestChannel_NonBlockingSkipsWait(t *testing.T) {
	ch, src := newFakeChannel(Inotify, false, inotifyRecord(1, InCreate, 0, "a", 4))
	if _, err := ch.NextEvent(); err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	if src.waits != 0 {
		t.Errorf("waits = %d, want 0 on a non-blocking channel", src.waits)
	}
}

func TestChannel_NonBlockingNothingPending(t *testing.T) {
	ch, _ := newFakeChannel(Inotify, false)
	_, err := ch.NextEvent()
	if !errors.Is(err, ErrNoPending) {
		t.Fatalf("err = %v, want ErrNoPending", err)
	}
	if !errors.Is(err, ErrArgument) {
		t.Error("ErrNoPending should match ErrArgument")
	}
	if errors.Is(err, ErrStructural) {
		t.Error("ErrNoPending should not match ErrStructural")
	}
}

func TestChannel_ReadableWithNothingPendingIsStructural(t *testing.T) {
	ch, _ := newFakeChannel(Inotify, true)
	if _, err := ch.NextEvent(); !errors.Is(err, ErrStructural) {
		t.Errorf("err = %v, want structural", err)
	}
}

func TestChannel_ShortReadIsStructural(t *testing.T) {
	ch, _ := newFakeChannel(Fanotify, true, make([]byte, 16))
	if _, err := ch.NextEvent(); !errors.Is(err, ErrStructural) {
		t.Errorf("err = %v, want structural", err)
	}
}

func TestChannel_DecodeFailureLeavesQueueEmpty(t *testing.T) {
	bad := inotifyRecord(1, InCreate, 0, "a", 4)
	bad[12] = 40
	ch, _ := newFakeChannel(Inotify, false, concat(inotifyRecord(1, InCreate, 0, "ok", 4), bad))

	if _, err := ch.NextEvent(); !errors.Is(err, ErrStructural) {
		t.Fatalf("err = %v, want structural", err)
	}
	if ch.Queued() != 0 {
		t.Errorf("Queued = %d after structural error, want 0", ch.Queued())
	}
}

func TestChannel_OverflowDelivered(t *testing.T) {
	ch, _ := newFakeChannel(Inotify, true, inotifyRecord(-1, InQOverflow, 0, "", 0))
	ev, err := ch.NextEvent()
	if err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	if !ev.Overflow() {
		t.Error("Overflow() = false, want true")
	}
}

// ---------------------------------------------------------------------------
// Drain and Truncate
// ---------------------------------------------------------------------------

func TestChannel_DrainTwice(t *testing.T) {
	ch, src := newFakeChannel(Inotify, false,
		concat(inotifyRecord(1, InCreate, 0, "a", 4), inotifyRecord(1, InDelete, 0, "a", 4)),
	)

	first, err := ch.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first Drain = %d events, want 2", len(first))
	}

	second, err := ch.Drain()
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second Drain = %d events, want 0", len(second))
	}
	if src.reads != 1 {
		t.Errorf("reads = %d, want 1", src.reads)
	}
}

func TestChannel_DrainReturnsQueuedWithoutReading(t *testing.T) {
	ch, src := newFakeChannel(Inotify, true,
		concat(inotifyRecord(1, InCreate, 0, "a", 4), inotifyRecord(2, InCreate, 0, "b", 4), inotifyRecord(3, InCreate, 0, "c", 4)),
		inotifyRecord(4, InCreate, 0, "d", 4),
	)
	if _, err := ch.NextEvent(); err != nil {
		t.Fatalf("NextEvent: %v", err)
	}

	evs, err := ch.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(evs) != 2 || wdOf(t, evs[0]) != 2 || wdOf(t, evs[1]) != 3 {
		t.Errorf("Drain = %v, want wd 2 and 3", evs)
	}
	if src.reads != 1 {
		t.Errorf("reads = %d, want 1", src.reads)
	}
}

func TestChannel_TruncateForcesFreshRead(t *testing.T) {
	ch, src := newFakeChannel(Inotify, true,
		concat(inotifyRecord(1, InCreate, 0, "a", 4), inotifyRecord(2, InCreate, 0, "b", 4), inotifyRecord(3, InCreate, 0, "c", 4)),
		inotifyRecord(4, InCreate, 0, "d", 4),
	)
	if n, err := ch.refill(); err != nil || n != 3 {
		t.Fatalf("refill = %d, %v; want 3, nil", n, err)
	}

	ch.Truncate()
	if ch.Queued() != 0 {
		t.Fatalf("Queued = %d after Truncate, want 0", ch.Queued())
	}

	ev, err := ch.NextEvent()
	if err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	if got := wdOf(t, ev); got != 4 {
		t.Errorf("wd = %d, want 4 from a fresh read", got)
	}
	if src.reads != 2 {
		t.Errorf("reads = %d, want 2", src.reads)
	}
}

// ---------------------------------------------------------------------------
// Events iterator
// ---------------------------------------------------------------------------

func TestChannel_EventsYieldsUntilError(t *testing.T) {
	ch, _ := newFakeChannel(Inotify, false,
		concat(inotifyRecord(1, InCreate, 0, "a", 4), inotifyRecord(2, InCreate, 0, "b", 4)),
		inotifyRecord(3, InCreate, 0, "c", 4),
	)

	var wds []int32
	var last error
	for ev, err := range ch.Events() {
		if err != nil {
			last = err
			break
		}
		wds = append(wds, wdOf(t, ev))
	}
	if len(wds) != 3 || wds[0] != 1 || wds[2] != 3 {
		t.Errorf("wds = %v, want [1 2 3]", wds)
	}
	if !errors.Is(last, ErrNoPending) {
		t.Errorf("terminal err = %v, want ErrNoPending", last)
	}
}

func TestChannel_EventsStopsWhenConsumerStops(t *testing.T) {
	ch, _ := newFakeChannel(Inotify, true,
		concat(inotifyRecord(1, InCreate, 0, "a", 4), inotifyRecord(2, InCreate, 0, "b", 4), inotifyRecord(3, InCreate, 0, "c", 4)),
	)

	n := 0
	for _, err := range ch.Events() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n++
		if n == 2 {
			break
		}
	}
	if ch.Queued() != 1 {
		t.Errorf("Queued = %d, want 1 event left for the next pull", ch.Queued())
	}
}

// ---------------------------------------------------------------------------
// Watches and lifecycle
// ---------------------------------------------------------------------------

func TestChannel_WatchAndUnwatch(t *testing.T) {
	ch, src := newFakeChannel(Inotify, true)

	w, err := ch.Watch("/var/www", InCreate|InDelete, InOnlyDir)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if w.ID != 1 || w.Target != "/var/www" || w.Mask != InCreate|InDelete || w.Flags != InOnlyDir {
		t.Errorf("watch = %+v", w)
	}
	if err := ch.Unwatch(w); err != nil {
		t.Fatalf("Unwatch: %v", err)
	}
	if len(src.removed) != 1 || src.removed[0] != w {
		t.Errorf("removed = %v, want [%v]", src.removed, w)
	}
}

func TestChannel_WatchRejectsWideInotifyMask(t *testing.T) {
	ch, _ := newFakeChannel(Inotify, true)
	if _, err := ch.Watch("/tmp", Mask(1)<<40, 0); !errors.Is(err, ErrArgument) {
		t.Errorf("err = %v, want argument error", err)
	}
}

func TestChannel_WatchPropagatesTypedError(t *testing.T) {
	ch, src := newFakeChannel(Inotify, true)
	src.addErr = errnoError("inotify_add_watch", syscall.ENOENT)

	_, err := ch.Watch("/missing", InCreate, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want not-found", err)
	}
}

func TestChannel_CloseInvalidatesChannel(t *testing.T) {
	ch, src := newFakeChannel(Inotify, true, inotifyRecord(1, InCreate, 0, "a", 4))
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ch.Fd() != -1 {
		t.Errorf("Fd after Close = %d, want -1", ch.Fd())
	}

	_, err := ch.NextEvent()
	if !errors.Is(err, ErrResource) || !errors.Is(err, syscall.EBADF) {
		t.Errorf("NextEvent after Close = %v, want resource error wrapping EBADF", err)
	}
	if _, err := ch.Watch("/tmp", InCreate, 0); !errors.Is(err, ErrResource) {
		t.Errorf("Watch after Close = %v, want resource error", err)
	}
	if err := ch.Close(); !errors.Is(err, ErrResource) {
		t.Errorf("second Close = %v, want resource error", err)
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
}

func TestChannel_String(t *testing.T) {
	ch, _ := newFakeChannel(Fanotify, false)
	want := "fanotify channel fd=42 class=notify non-blocking"
	if got := ch.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
