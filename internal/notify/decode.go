package notify

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Record header sizes (kernel ABI).
//
//	struct inotify_event {
//	    int32_t  wd;
//	    uint32_t mask;
//	    uint32_t cookie;
//	    uint32_t len;      // bytes of NUL-padded name that follow
//	    char     name[];
//	};
//
//	struct fanotify_event_metadata {
//	    uint32_t event_len; // total record length, header included
//	    uint8_t  vers;
//	    uint8_t  reserved;
//	    uint16_t metadata_len;
//	    uint64_t mask;
//	    int32_t  fd;
//	    int32_t  pid;
//	};
const (
	InotifyHeaderSize  = 16
	FanotifyHeaderSize = 24
)

// headerSize returns the smallest record a read on mech can legally return.
func headerSize(mech Mechanism) int {
	if mech == Fanotify {
		return FanotifyHeaderSize
	}
	return InotifyHeaderSize
}

// decodeFunc turns a buffer of whole records into events.
type decodeFunc func(buf []byte) ([]Event, error)

func decoderFor(mech Mechanism) decodeFunc {
	if mech == Fanotify {
		return DecodeFanotify
	}
	return DecodeInotify
}

// DecodeInotify parses a buffer of inotify records. The buffer must end
// exactly on a record boundary; any misalignment aborts the decode and no
// events are returned.
func DecodeInotify(buf []byte) ([]Event, error) {
	var events []Event
	for off := 0; off < len(buf); {
		if len(buf)-off < InotifyHeaderSize {
			return nil, structural("decode", fmt.Sprintf(
				"inotify: %d trailing bytes at offset %d, header needs %d",
				len(buf)-off, off, InotifyHeaderSize))
		}
		h := buf[off : off+InotifyHeaderSize]
		nameLen := int(binary.NativeEndian.Uint32(h[12:16]))
		end := off + InotifyHeaderSize + nameLen
		if nameLen < 0 || end > len(buf) || end < off {
			return nil, structural("decode", fmt.Sprintf(
				"inotify: name length %d at offset %d overruns %d-byte buffer",
				nameLen, off, len(buf)))
		}

		ev := &InotifyEvent{
			Wd:     int32(binary.NativeEndian.Uint32(h[0:4])),
			Mask:   Mask(binary.NativeEndian.Uint32(h[4:8])),
			Cookie: binary.NativeEndian.Uint32(h[8:12]),
		}
		if nameLen > 0 {
			name := buf[off+InotifyHeaderSize : end]
			if i := bytes.IndexByte(name, 0); i >= 0 {
				name = name[:i]
			}
			ev.Name = string(name)
		}
		events = append(events, ev)
		off = end
	}
	return events, nil
}

// DecodeFanotify parses a buffer of fanotify metadata records. Each record is
// advanced by its own event_len so that larger future headers decode
// correctly.
func DecodeFanotify(buf []byte) ([]Event, error) {
	var events []Event
	for off := 0; off < len(buf); {
		if len(buf)-off < FanotifyHeaderSize {
			return nil, discard(events, structural("decode", fmt.Sprintf(
				"fanotify: %d trailing bytes at offset %d, header needs %d",
				len(buf)-off, off, FanotifyHeaderSize)))
		}
		h := buf[off:]
		eventLen := int(binary.NativeEndian.Uint32(h[0:4]))
		if eventLen < FanotifyHeaderSize {
			return nil, discard(events, structural("decode", fmt.Sprintf(
				"fanotify: event_len %d at offset %d is smaller than the header",
				eventLen, off)))
		}
		if eventLen > len(buf)-off {
			return nil, discard(events, structural("decode", fmt.Sprintf(
				"fanotify: event_len %d at offset %d overruns %d-byte buffer",
				eventLen, off, len(buf))))
		}

		events = append(events, &FanotifyEvent{
			Version: h[4],
			Mask:    Mask(binary.NativeEndian.Uint64(h[8:16])),
			Fd:      int32(binary.NativeEndian.Uint32(h[16:20])),
			Pid:     int32(binary.NativeEndian.Uint32(h[20:24])),
		})
		off += eventLen
	}
	return events, nil
}

// discard closes the descriptors of events decoded ahead of a structural
// failure, since they are never handed to a caller.
func discard(events []Event, err error) error {
	for _, ev := range events {
		if fe, ok := ev.(*FanotifyEvent); ok {
			_ = fe.Close()
		}
	}
	return err
}
