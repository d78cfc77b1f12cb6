//go:build linux

package notify_test

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tripwire/frostwatch/internal/notify"
)

// TestConstants_MatchKernelHeaders checks every hardcoded ABI value against
// golang.org/x/sys/unix.
func TestConstants_MatchKernelHeaders(t *testing.T) {
	tests := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"IN_ACCESS", uint64(notify.InAccess), unix.IN_ACCESS},
		{"IN_MODIFY", uint64(notify.InModify), unix.IN_MODIFY},
		{"IN_ATTRIB", uint64(notify.InAttrib), unix.IN_ATTRIB},
		{"IN_CLOSE_WRITE", uint64(notify.InCloseWrite), unix.IN_CLOSE_WRITE},
		{"IN_CLOSE_NOWRITE", uint64(notify.InCloseNoWrite), unix.IN_CLOSE_NOWRITE},
		{"IN_OPEN", uint64(notify.InOpen), unix.IN_OPEN},
		{"IN_MOVED_FROM", uint64(notify.InMovedFrom), unix.IN_MOVED_FROM},
		{"IN_MOVED_TO", uint64(notify.InMovedTo), unix.IN_MOVED_TO},
		{"IN_CREATE", uint64(notify.InCreate), unix.IN_CREATE},
		{"IN_DELETE", uint64(notify.InDelete), unix.IN_DELETE},
		{"IN_DELETE_SELF", uint64(notify.InDeleteSelf), unix.IN_DELETE_SELF},
		{"IN_MOVE_SELF", uint64(notify.InMoveSelf), unix.IN_MOVE_SELF},
		{"IN_UNMOUNT", uint64(notify.InUnmount), unix.IN_UNMOUNT},
		{"IN_Q_OVERFLOW", uint64(notify.InQOverflow), unix.IN_Q_OVERFLOW},
		{"IN_IGNORED", uint64(notify.InIgnored), unix.IN_IGNORED},
		{"IN_ISDIR", uint64(notify.InIsDir), unix.IN_ISDIR},
		{"IN_CLOSE", uint64(notify.InClose), unix.IN_CLOSE},
		{"IN_MOVE", uint64(notify.InMove), unix.IN_MOVE},
		{"IN_ALL_EVENTS", uint64(notify.InAllEvents), unix.IN_ALL_EVENTS},
		{"IN_ONLYDIR", uint64(notify.InOnlyDir), unix.IN_ONLYDIR},
		{"IN_DONT_FOLLOW", uint64(notify.InDontFollow), unix.IN_DONT_FOLLOW},
		{"IN_EXCL_UNLINK", uint64(notify.InExclUnlink), unix.IN_EXCL_UNLINK},
		{"IN_MASK_CREATE", uint64(notify.InMaskCreate), unix.IN_MASK_CREATE},
		{"IN_MASK_ADD", uint64(notify.InMaskAdd), unix.IN_MASK_ADD},
		{"IN_ONESHOT", uint64(notify.InOneShot), unix.IN_ONESHOT},
		{"IN_CLOEXEC", uint64(notify.InCloexec), unix.IN_CLOEXEC},
		{"IN_NONBLOCK", uint64(notify.InNonblock), unix.IN_NONBLOCK},

		{"FAN_ACCESS", uint64(notify.FanAccess), unix.FAN_ACCESS},
		{"FAN_MODIFY", uint64(notify.FanModify), unix.FAN_MODIFY},
		{"FAN_ATTRIB", uint64(notify.FanAttrib), unix.FAN_ATTRIB},
		{"FAN_CLOSE_WRITE", uint64(notify.FanCloseWrite), unix.FAN_CLOSE_WRITE},
		{"FAN_CLOSE_NOWRITE", uint64(notify.FanCloseNoWrite), unix.FAN_CLOSE_NOWRITE},
		{"FAN_OPEN", uint64(notify.FanOpen), unix.FAN_OPEN},
		{"FAN_MOVED_FROM", uint64(notify.FanMovedFrom), unix.FAN_MOVED_FROM},
		{"FAN_MOVED_TO", uint64(notify.FanMovedTo), unix.FAN_MOVED_TO},
		{"FAN_CREATE", uint64(notify.FanCreate), unix.FAN_CREATE},
		{"FAN_DELETE", uint64(notify.FanDelete), unix.FAN_DELETE},
		{"FAN_DELETE_SELF", uint64(notify.FanDeleteSelf), unix.FAN_DELETE_SELF},
		{"FAN_MOVE_SELF", uint64(notify.FanMoveSelf), unix.FAN_MOVE_SELF},
		{"FAN_OPEN_EXEC", uint64(notify.FanOpenExec), unix.FAN_OPEN_EXEC},
		{"FAN_Q_OVERFLOW", uint64(notify.FanQOverflow), unix.FAN_Q_OVERFLOW},
		{"FAN_OPEN_PERM", uint64(notify.FanOpenPerm), unix.FAN_OPEN_PERM},
		{"FAN_ACCESS_PERM", uint64(notify.FanAccessPerm), unix.FAN_ACCESS_PERM},
		{"FAN_OPEN_EXEC_PERM", uint64(notify.FanOpenExecPerm), unix.FAN_OPEN_EXEC_PERM},
		{"FAN_EVENT_ON_CHILD", uint64(notify.FanEventOnChild), unix.FAN_EVENT_ON_CHILD},
		{"FAN_ONDIR", uint64(notify.FanOnDir), unix.FAN_ONDIR},
		{"FAN_CLOSE", uint64(notify.FanClose), unix.FAN_CLOSE},
		{"FAN_CLOEXEC", uint64(notify.FanCloexec), unix.FAN_CLOEXEC},
		{"FAN_NONBLOCK", uint64(notify.FanNonblock), unix.FAN_NONBLOCK},
		{"FAN_CLASS_NOTIF", uint64(notify.FanClassNotif), unix.FAN_CLASS_NOTIF},
		{"FAN_CLASS_CONTENT", uint64(notify.FanClassContent), unix.FAN_CLASS_CONTENT},
		{"FAN_CLASS_PRE_CONTENT", uint64(notify.FanClassPreContent), unix.FAN_CLASS_PRE_CONTENT},
		{"FAN_UNLIMITED_QUEUE", uint64(notify.FanUnlimitedQueue), unix.FAN_UNLIMITED_QUEUE},
		{"FAN_UNLIMITED_MARKS", uint64(notify.FanUnlimitedMarks), unix.FAN_UNLIMITED_MARKS},
		{"FAN_MARK_ADD", uint64(notify.FanMarkAdd), unix.FAN_MARK_ADD},
		{"FAN_MARK_REMOVE", uint64(notify.FanMarkRemove), unix.FAN_MARK_REMOVE},
		{"FAN_MARK_DONT_FOLLOW", uint64(notify.FanMarkDontFollow), unix.FAN_MARK_DONT_FOLLOW},
		{"FAN_MARK_ONLYDIR", uint64(notify.FanMarkOnlyDir), unix.FAN_MARK_ONLYDIR},
		{"FAN_MARK_MOUNT", uint64(notify.FanMarkMount), unix.FAN_MARK_MOUNT},
		{"FAN_MARK_IGNORED_MASK", uint64(notify.FanMarkIgnoredMask), unix.FAN_MARK_IGNORED_MASK},
		{"FAN_MARK_IGNORED_SURV_MODIFY", uint64(notify.FanMarkIgnoredSurvModify), unix.FAN_MARK_IGNORED_SURV_MODIFY},
		{"FAN_MARK_FLUSH", uint64(notify.FanMarkFlush), unix.FAN_MARK_FLUSH},
		{"FAN_MARK_FILESYSTEM", uint64(notify.FanMarkFilesystem), unix.FAN_MARK_FILESYSTEM},
		{"FAN_ALLOW", notify.FanAllow, unix.FAN_ALLOW},
		{"FAN_DENY", notify.FanDeny, unix.FAN_DENY},

		{"sizeof(inotify_event)", notify.InotifyHeaderSize, unix.SizeofInotifyEvent},
		{"sizeof(fanotify_event_metadata)", notify.FanotifyHeaderSize, uint64(unsafe.Sizeof(unix.FanotifyEventMetadata{}))},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s = %#x, want %#x", tc.name, tc.got, tc.want)
		}
	}
}
