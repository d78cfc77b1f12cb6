// Package audit records remediation actions taken by frostwatch, such as
// freezing a file, in an append-only JSONL log whose entries are SHA-256
// hash-chained.
//
// Entry N stores SHA-256(JSON({seq, ts, payload, prev_hash})) as its
// event_hash, and entry N+1 stores that value as its prev_hash. The first
// entry links to GenesisHash. Editing, reordering or dropping a line breaks
// the chain, which Verify reports.
//
// Logger is safe for concurrent use.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// GenesisHash is the prev_hash of the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Action kinds.
const (
	ActionFreeze       = "freeze"
	ActionFreezeFailed = "freeze_failed"
)

// Action is the payload written for one remediation step.
type Action struct {
	Kind  string   `json:"kind"`
	Path  string   `json:"path"`
	MD5   string   `json:"md5,omitempty"`
	Score int      `json:"score"`
	Hits  []string `json:"hits,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Entry is one line of the log.
type Entry struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	EventHash string          `json:"event_hash"`
}

// Action decodes the entry payload.
func (e Entry) Action() (Action, error) {
	var a Action
	if err := json.Unmarshal(e.Payload, &a); err != nil {
		return Action{}, fmt.Errorf("audit: decode payload at seq %d: %w", e.Seq, err)
	}
	return a, nil
}

// hashed is the part of an Entry covered by EventHash.
type hashed struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
}

func (e Entry) computeHash() string {
	raw, err := json.Marshal(hashed{Seq: e.Seq, Timestamp: e.Timestamp, Payload: e.Payload, PrevHash: e.PrevHash})
	if err != nil {
		panic(fmt.Sprintf("audit: marshal entry: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ErrChainBroken is wrapped by every verification failure.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Logger appends entries to one log file. Create one with Open.
type Logger struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	prevHash string
	seq      int64
	now      func() time.Time
}

// Open opens or creates the log at path. An existing log is verified first
// so that new entries continue its chain; a broken chain is an error.
func Open(path string) (*Logger, error) {
	prevHash, seq := GenesisHash, int64(0)

	if f, err := os.Open(path); err == nil {
		entries, rerr := readChain(f)
		f.Close()
		if rerr != nil {
			return nil, fmt.Errorf("audit: existing log %q: %w", path, rerr)
		}
		if n := len(entries); n > 0 {
			prevHash, seq = entries[n-1].EventHash, entries[n-1].Seq
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("audit: open for reading %q: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open for appending %q: %w", path, err)
	}
	return &Logger{
		path:     path,
		file:     f,
		prevHash: prevHash,
		seq:      seq,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Path returns the log file location.
func (l *Logger) Path() string { return l.path }

// Record appends a as a new entry.
func (l *Logger) Record(a Action) (Entry, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal action: %w", err)
	}
	return l.Append(raw)
}

// Append writes payload as a new entry. A nil payload is stored as JSON null.
func (l *Logger) Append(payload json.RawMessage) (Entry, error) {
	if payload == nil {
		payload = json.RawMessage("null")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Seq:       l.seq + 1,
		Timestamp: l.now(),
		Payload:   payload,
		PrevHash:  l.prevHash,
	}
	e.EventHash = e.computeHash()

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return Entry{}, fmt.Errorf("audit: write entry: %w", err)
	}

	l.seq, l.prevHash = e.Seq, e.EventHash
	return e, nil
}

// Close syncs and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("audit: sync: %w", err)
	}
	return l.file.Close()
}

// Verify reads the log at path and checks the whole chain. An empty file is
// valid.
func Verify(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: verify open %q: %w", path, err)
	}
	defer f.Close()
	return readChain(f)
}

// readChain decodes JSON lines from r and checks sequence numbers, linkage
// and hashes.
func readChain(r io.Reader) ([]Entry, error) {
	var entries []Entry
	prevHash, seq := GenesisHash, int64(0)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("audit: malformed entry after seq %d: %w", seq, err)
		}
		if e.Seq != seq+1 {
			return nil, fmt.Errorf("%w: seq %d follows %d", ErrChainBroken, e.Seq, seq)
		}
		if e.PrevHash != prevHash {
			return nil, fmt.Errorf("%w: seq %d has prev_hash %q, want %q", ErrChainBroken, e.Seq, e.PrevHash, prevHash)
		}
		if got := e.computeHash(); got != e.EventHash {
			return nil, fmt.Errorf("%w: seq %d stores hash %q, computed %q", ErrChainBroken, e.Seq, e.EventHash, got)
		}
		entries = append(entries, e)
		prevHash, seq = e.EventHash, e.Seq
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}
	return entries, nil
}
