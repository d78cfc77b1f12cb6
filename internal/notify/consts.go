package notify

import (
	"fmt"
	"strconv"
	"strings"
)

// Mechanism selects the kernel notification interface behind a Channel.
type Mechanism uint8

const (
	// Inotify is the per-inode/directory watch mechanism.
	Inotify Mechanism = iota + 1
	// Fanotify is the mount-wide content-access mechanism.
	Fanotify
)

func (m Mechanism) String() string {
	switch m {
	case Inotify:
		return "inotify"
	case Fanotify:
		return "fanotify"
	default:
		return "mechanism(" + strconv.Itoa(int(m)) + ")"
	}
}

// Mask is an event bitset. inotify masks are 32 bits wide on the wire,
// fanotify masks are 64.
type Mask uint64

// MarkFlags modify how a watch is registered.
type MarkFlags uint32

// InitFlags are passed when a Channel is opened.
type InitFlags uint32

// inotify event bits (kernel ABI, <sys/inotify.h>).
const (
	InAccess       Mask = 0x1
	InModify       Mask = 0x2
	InAttrib       Mask = 0x4
	InCloseWrite   Mask = 0x8
	InCloseNoWrite Mask = 0x10
	InOpen         Mask = 0x20
	InMovedFrom    Mask = 0x40
	InMovedTo      Mask = 0x80
	InCreate       Mask = 0x100
	InDelete       Mask = 0x200
	InDeleteSelf   Mask = 0x400
	InMoveSelf     Mask = 0x800
	InUnmount      Mask = 0x2000
	InQOverflow    Mask = 0x4000
	InIgnored      Mask = 0x8000
	InIsDir        Mask = 0x40000000

	InClose     = InCloseWrite | InCloseNoWrite
	InMove      = InMovedFrom | InMovedTo
	InAllEvents Mask = 0xfff
)

// inotify watch flags. These share the mask word with the event bits on the
// wire.
const (
	InOnlyDir    MarkFlags = 0x01000000
	InDontFollow MarkFlags = 0x02000000
	InExclUnlink MarkFlags = 0x04000000
	InMaskCreate MarkFlags = 0x10000000
	InMaskAdd    MarkFlags = 0x20000000
	InOneShot    MarkFlags = 0x80000000
)

// inotify_init1 flags.
const (
	InCloexec  InitFlags = 0x80000
	InNonblock InitFlags = 0x800
)

// fanotify event bits (kernel ABI, <linux/fanotify.h>).
const (
	FanAccess       Mask = 0x1
	FanModify       Mask = 0x2
	FanAttrib       Mask = 0x4
	FanCloseWrite   Mask = 0x8
	FanCloseNoWrite Mask = 0x10
	FanOpen         Mask = 0x20
	FanMovedFrom    Mask = 0x40
	FanMovedTo      Mask = 0x80
	FanCreate       Mask = 0x100
	FanDelete       Mask = 0x200
	FanDeleteSelf   Mask = 0x400
	FanMoveSelf     Mask = 0x800
	FanOpenExec     Mask = 0x1000
	FanQOverflow    Mask = 0x4000
	FanOpenPerm     Mask = 0x10000
	FanAccessPerm   Mask = 0x20000
	FanOpenExecPerm Mask = 0x40000
	FanEventOnChild Mask = 0x08000000
	FanOnDir        Mask = 0x40000000

	FanClose = FanCloseWrite | FanCloseNoWrite
)

// fanotify_init flags.
const (
	FanCloexec         InitFlags = 0x1
	FanNonblock        InitFlags = 0x2
	FanClassNotif      InitFlags = 0x0
	FanClassContent    InitFlags = 0x4
	FanClassPreContent InitFlags = 0x8
	FanUnlimitedQueue  InitFlags = 0x10
	FanUnlimitedMarks  InitFlags = 0x20

	fanClassMask = FanClassContent | FanClassPreContent
)

// fanotify_mark flags. FanMarkAdd and FanMarkRemove are supplied by
// Channel.Watch and Channel.Unwatch.
const (
	FanMarkAdd               MarkFlags = 0x1
	FanMarkRemove            MarkFlags = 0x2
	FanMarkDontFollow        MarkFlags = 0x4
	FanMarkOnlyDir           MarkFlags = 0x8
	FanMarkMount             MarkFlags = 0x10
	FanMarkIgnoredMask       MarkFlags = 0x20
	FanMarkIgnoredSurvModify MarkFlags = 0x40
	FanMarkFlush             MarkFlags = 0x80
	FanMarkFilesystem        MarkFlags = 0x100
)

// Permission responses written back for content-class channels.
const (
	FanAllow = 0x1
	FanDeny  = 0x2
)

// fanNoFd is delivered in the fd field when no descriptor accompanies the
// event, e.g. on queue overflow.
const fanNoFd = -1

// Class is the fanotify notification class of a Channel.
type Class uint8

const (
	ClassNotify Class = iota
	ClassContent
	ClassPreContent
)

func (c Class) String() string {
	switch c {
	case ClassNotify:
		return "notify"
	case ClassContent:
		return "content"
	case ClassPreContent:
		return "pre-content"
	default:
		return "class(" + strconv.Itoa(int(c)) + ")"
	}
}

func classOf(flags InitFlags) Class {
	switch flags & fanClassMask {
	case FanClassContent:
		return ClassContent
	case FanClassPreContent:
		return ClassPreContent
	default:
		return ClassNotify
	}
}

// ---------------------------------------------------------------------------
// Name tables
// ---------------------------------------------------------------------------

type named struct {
	name  string
	value uint64
}

// eventNames lists the single-bit event names per mechanism in display order.
// constNames additionally carries composites and every flag value so that
// configuration can refer to any constant by its kernel name. valueNames is
// the reverse of constNames; event names win where values collide.
var (
	eventNames = map[Mechanism][]named{}
	constNames = map[Mechanism]map[string]uint64{}
	valueNames = map[Mechanism]map[uint64]string{}
)

func init() {
	eventNames[Inotify] = []named{
		{"IN_ACCESS", uint64(InAccess)},
		{"IN_MODIFY", uint64(InModify)},
		{"IN_ATTRIB", uint64(InAttrib)},
		{"IN_CLOSE_WRITE", uint64(InCloseWrite)},
		{"IN_CLOSE_NOWRITE", uint64(InCloseNoWrite)},
		{"IN_OPEN", uint64(InOpen)},
		{"IN_MOVED_FROM", uint64(InMovedFrom)},
		{"IN_MOVED_TO", uint64(InMovedTo)},
		{"IN_CREATE", uint64(InCreate)},
		{"IN_DELETE", uint64(InDelete)},
		{"IN_DELETE_SELF", uint64(InDeleteSelf)},
		{"IN_MOVE_SELF", uint64(InMoveSelf)},
		{"IN_UNMOUNT", uint64(InUnmount)},
		{"IN_Q_OVERFLOW", uint64(InQOverflow)},
		{"IN_IGNORED", uint64(InIgnored)},
		{"IN_ISDIR", uint64(InIsDir)},
	}
	eventNames[Fanotify] = []named{
		{"FAN_ACCESS", uint64(FanAccess)},
		{"FAN_MODIFY", uint64(FanModify)},
		{"FAN_ATTRIB", uint64(FanAttrib)},
		{"FAN_CLOSE_WRITE", uint64(FanCloseWrite)},
		{"FAN_CLOSE_NOWRITE", uint64(FanCloseNoWrite)},
		{"FAN_OPEN", uint64(FanOpen)},
		{"FAN_MOVED_FROM", uint64(FanMovedFrom)},
		{"FAN_MOVED_TO", uint64(FanMovedTo)},
		{"FAN_CREATE", uint64(FanCreate)},
		{"FAN_DELETE", uint64(FanDelete)},
		{"FAN_DELETE_SELF", uint64(FanDeleteSelf)},
		{"FAN_MOVE_SELF", uint64(FanMoveSelf)},
		{"FAN_OPEN_EXEC", uint64(FanOpenExec)},
		{"FAN_Q_OVERFLOW", uint64(FanQOverflow)},
		{"FAN_OPEN_PERM", uint64(FanOpenPerm)},
		{"FAN_ACCESS_PERM", uint64(FanAccessPerm)},
		{"FAN_OPEN_EXEC_PERM", uint64(FanOpenExecPerm)},
		{"FAN_EVENT_ON_CHILD", uint64(FanEventOnChild)},
		{"FAN_ONDIR", uint64(FanOnDir)},
	}

	extra := map[Mechanism][]named{
		Inotify: {
			{"IN_CLOSE", uint64(InClose)},
			{"IN_MOVE", uint64(InMove)},
			{"IN_ALL_EVENTS", uint64(InAllEvents)},
			{"IN_ONLYDIR", uint64(InOnlyDir)},
			{"IN_DONT_FOLLOW", uint64(InDontFollow)},
			{"IN_EXCL_UNLINK", uint64(InExclUnlink)},
			{"IN_MASK_CREATE", uint64(InMaskCreate)},
			{"IN_MASK_ADD", uint64(InMaskAdd)},
			{"IN_ONESHOT", uint64(InOneShot)},
			{"IN_CLOEXEC", uint64(InCloexec)},
			{"IN_NONBLOCK", uint64(InNonblock)},
		},
		Fanotify: {
			{"FAN_CLOSE", uint64(FanClose)},
			{"FAN_CLOEXEC", uint64(FanCloexec)},
			{"FAN_NONBLOCK", uint64(FanNonblock)},
			{"FAN_CLASS_NOTIF", uint64(FanClassNotif)},
			{"FAN_CLASS_CONTENT", uint64(FanClassContent)},
			{"FAN_CLASS_PRE_CONTENT", uint64(FanClassPreContent)},
			{"FAN_UNLIMITED_QUEUE", uint64(FanUnlimitedQueue)},
			{"FAN_UNLIMITED_MARKS", uint64(FanUnlimitedMarks)},
			{"FAN_MARK_ADD", uint64(FanMarkAdd)},
			{"FAN_MARK_REMOVE", uint64(FanMarkRemove)},
			{"FAN_MARK_DONT_FOLLOW", uint64(FanMarkDontFollow)},
			{"FAN_MARK_ONLYDIR", uint64(FanMarkOnlyDir)},
			{"FAN_MARK_MOUNT", uint64(FanMarkMount)},
			{"FAN_MARK_IGNORED_MASK", uint64(FanMarkIgnoredMask)},
			{"FAN_MARK_IGNORED_SURV_MODIFY", uint64(FanMarkIgnoredSurvModify)},
			{"FAN_MARK_FLUSH", uint64(FanMarkFlush)},
			{"FAN_MARK_FILESYSTEM", uint64(FanMarkFilesystem)},
			{"FAN_ALLOW", FanAllow},
			{"FAN_DENY", FanDeny},
		},
	}

	for mech, evs := range eventNames {
		m := make(map[string]uint64, len(evs)+len(extra[mech]))
		for _, n := range evs {
			m[n.name] = n.value
		}
		for _, n := range extra[mech] {
			m[n.name] = n.value
		}
		constNames[mech] = m

		r := make(map[uint64]string, len(m))
		for _, n := range append(evs, extra[mech]...) {
			if _, dup := r[n.value]; !dup {
				r[n.value] = n.name
			}
		}
		valueNames[mech] = r
	}
}

// Lookup returns the value of the named kernel constant for mech.
func Lookup(mech Mechanism, name string) (uint64, bool) {
	v, ok := constNames[mech][name]
	return v, ok
}

// NameOf returns the kernel name of value for mech, or "" if it has none.
// Values shared by an event and a flag, such as IN_MOVE_SELF and IN_NONBLOCK,
// resolve to the event.
func NameOf(mech Mechanism, value uint64) string {
	return valueNames[mech][value]
}

// Format renders m as a "|"-joined list of event names. Bits without a name
// are appended in hex.
func (m Mask) Format(mech Mechanism) string {
	if m == 0 {
		return "0"
	}
	var parts []string
	rest := uint64(m)
	for _, n := range eventNames[mech] {
		if rest&n.value != 0 {
			parts = append(parts, n.name)
			rest &^= n.value
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", rest))
	}
	return strings.Join(parts, "|")
}

// Has reports whether any bit of bits is set in m.
func (m Mask) Has(bits Mask) bool { return m&bits != 0 }

// ParseMask parses a "|" or ","-separated list of event names, including
// composites such as IN_CLOSE. Hex and decimal literals are accepted too.
func ParseMask(mech Mechanism, s string) (Mask, error) {
	var m Mask
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' || r == ' ' })
	if len(fields) == 0 {
		return 0, fmt.Errorf("notify: parse mask: empty")
	}
	for _, f := range fields {
		name := strings.ToUpper(f)
		if v, ok := Lookup(mech, name); ok {
			m |= Mask(v)
			continue
		}
		v, err := strconv.ParseUint(f, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("notify: parse mask: unknown %s constant %q", mech, f)
		}
		m |= Mask(v)
	}
	return m, nil
}
