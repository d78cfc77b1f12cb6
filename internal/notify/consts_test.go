package notify

import "testing"

func TestMask_Format(t *testing.T) {
	tests := []struct {
		mech Mechanism
		mask Mask
		want string
	}{
		{Inotify, InCreate | InIsDir, "IN_CREATE|IN_ISDIR"},
		{Inotify, InCloseWrite, "IN_CLOSE_WRITE"},
		{Inotify, 0, "0"},
		{Inotify, InQOverflow | 0x100000, "IN_Q_OVERFLOW|0x100000"},
		{Fanotify, FanCloseWrite | FanOnDir, "FAN_CLOSE_WRITE|FAN_ONDIR"},
	}
	for _, tc := range tests {
		if got := tc.mask.Format(tc.mech); got != tc.want {
			t.Errorf("%#x.Format(%s) = %q, want %q", uint64(tc.mask), tc.mech, got, tc.want)
		}
	}
}

func TestParseMask(t *testing.T) {
	m, err := ParseMask(Inotify, "IN_CREATE|in_delete, IN_MOVE")
	if err != nil {
		t.Fatalf("ParseMask: %v", err)
	}
	if want := InCreate | InDelete | InMove; m != want {
		t.Errorf("mask = %#x, want %#x", uint64(m), uint64(want))
	}

	m, err = ParseMask(Fanotify, "FAN_CLOSE_WRITE|0x20")
	if err != nil {
		t.Fatalf("ParseMask: %v", err)
	}
	if want := FanCloseWrite | FanOpen; m != want {
		t.Errorf("mask = %#x, want %#x", uint64(m), uint64(want))
	}
}

func TestParseMask_Errors(t *testing.T) {
	for _, s := range []string{"", "IN_NOPE", "FAN_CLOSE_WRITE"} {
		if _, err := ParseMask(Inotify, s); err == nil {
			t.Errorf("ParseMask(inotify, %q) succeeded, want error", s)
		}
	}
}

func TestLookup(t *testing.T) {
	if v, ok := Lookup(Fanotify, "FAN_MARK_MOUNT"); !ok || v != uint64(FanMarkMount) {
		t.Errorf("Lookup(FAN_MARK_MOUNT) = %#x, %v", v, ok)
	}
	if v, ok := Lookup(Inotify, "IN_ONESHOT"); !ok || v != uint64(InOneShot) {
		t.Errorf("Lookup(IN_ONESHOT) = %#x, %v", v, ok)
	}
	if _, ok := Lookup(Inotify, "FAN_OPEN"); ok {
		t.Error("fanotify name resolved in the inotify table")
	}
}

func TestNameOf(t *testing.T) {
	tests := []struct {
		mech  Mechanism
		value uint64
		want  string
	}{
		{Inotify, uint64(InCreate), "IN_CREATE"},
		{Inotify, uint64(InOneShot), "IN_ONESHOT"},
		{Inotify, 0x800, "IN_MOVE_SELF"},
		{Inotify, 0x40000000, "IN_ISDIR"},
		{Fanotify, 0x40000000, "FAN_ONDIR"},
		{Fanotify, uint64(FanOpenPerm), "FAN_OPEN_PERM"},
		{Inotify, 0x3, ""},
	}
	for _, tc := range tests {
		if got := NameOf(tc.mech, tc.value); got != tc.want {
			t.Errorf("NameOf(%s, %#x) = %q, want %q", tc.mech, tc.value, got, tc.want)
		}
	}
	for _, n := range eventNames[Inotify] {
		if v, _ := Lookup(Inotify, NameOf(Inotify, n.value)); v != n.value {
			t.Errorf("Lookup(NameOf(%s)) = %#x", n.name, v)
		}
	}
}

func TestClassOf(t *testing.T) {
	if classOf(FanClassNotif|FanCloexec) != ClassNotify {
		t.Error("notif flags did not map to ClassNotify")
	}
	if classOf(FanClassContent|FanNonblock) != ClassContent {
		t.Error("content flags did not map to ClassContent")
	}
	if classOf(FanClassPreContent) != ClassPreContent {
		t.Error("pre-content flags did not map to ClassPreContent")
	}
}
