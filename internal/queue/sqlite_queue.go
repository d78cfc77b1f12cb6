// Package queue provides a WAL-mode SQLite-backed findings queue. It
// implements agent.Queue and adds Dequeue and Ack for at-least-once delivery
// to central storage: findings are persisted on Enqueue and stay pending until
// the caller acknowledges them. Acknowledged findings are kept so that the
// local API can still list them.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/tripwire/frostwatch/internal/agent"
)

// SQLiteQueue is safe for concurrent use.
type SQLiteQueue struct {
	db    *sql.DB
	depth atomic.Int64
}

// New opens or creates the database at path. ":memory:" gives a throwaway
// database for tests. The depth counter is seeded from pending rows so Depth
// is accurate straight after a restart.
func New(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open %q: %w", path, err)
	}

	// One writer at a time; a single connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("queue: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: apply schema: %w", err)
	}

	q := &SQLiteQueue{db: db}
	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM findings WHERE delivered = 0`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: count pending rows: %w", err)
	}
	q.depth.Store(count)
	return q, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS findings (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    id           TEXT    NOT NULL UNIQUE,
    path         TEXT    NOT NULL,
    size         INTEGER NOT NULL,
    md5          TEXT    NOT NULL,
    content_type TEXT    NOT NULL DEFAULT '',
    score        INTEGER NOT NULL,
    hits         TEXT    NOT NULL DEFAULT '[]',
    frozen       INTEGER NOT NULL DEFAULT 0,
    source       TEXT    NOT NULL,
    detected_at  TEXT    NOT NULL,
    delivered    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_findings_pending ON findings (delivered, seq);
`

// Enqueue persists f as pending. Enqueueing an ID that is already stored is
// a no-op.
func (q *SQLiteQueue) Enqueue(ctx context.Context, f agent.Finding) error {
	hits, err := json.Marshal(f.Hits)
	if err != nil {
		return fmt.Errorf("queue: marshal hits: %w", err)
	}

	res, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO findings
		     (id, path, size, md5, content_type, score, hits, frozen, source, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID.String(), f.Path, f.Size, f.MD5, f.ContentType, f.Score,
		string(hits), f.Frozen, f.Source,
		f.DetectedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	n, _ := res.RowsAffected()
	q.depth.Add(n)
	return nil
}

// Pending is an unacknowledged finding returned by Dequeue. Seq is the key
// passed to Ack.
type Pending struct {
	Seq     int64
	Finding agent.Finding
}

// Dequeue returns up to n pending findings, oldest first, without marking
// them delivered.
func (q *SQLiteQueue) Dequeue(ctx context.Context, n int) ([]Pending, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+columns+` FROM findings WHERE delivered = 0 ORDER BY seq LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue query: %w", err)
	}
	defer rows.Close()

	var out []Pending
	for rows.Next() {
		p, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: dequeue scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: dequeue rows: %w", err)
	}
	return out, nil
}

// Ack marks the given rows delivered. It is idempotent; the depth counter
// only moves for rows that were still pending.
func (q *SQLiteQueue) Ack(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	args := make([]any, len(seqs))
	for i, s := range seqs {
		args[i] = s
	}

	res, err := q.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE findings SET delivered = 1 WHERE seq IN (%s) AND delivered = 0`, placeholders),
		args...)
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	n, _ := res.RowsAffected()
	q.depth.Add(-n)
	return nil
}

// QueryFindings lists stored findings, delivered or not, newest first.
func (q *SQLiteQueue) QueryFindings(ctx context.Context, fq agent.FindingQuery) ([]agent.Finding, error) {
	fq = fq.Normalize()
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+columns+` FROM findings WHERE score >= ? ORDER BY seq DESC LIMIT ? OFFSET ?`,
		fq.ScoreFloor(), fq.Limit, fq.Offset)
	if err != nil {
		return nil, fmt.Errorf("queue: list query: %w", err)
	}
	defer rows.Close()

	out := []agent.Finding{}
	for rows.Next() {
		p, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: list scan: %w", err)
		}
		out = append(out, p.Finding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: list rows: %w", err)
	}
	return out, nil
}

// Depth returns the number of pending findings without touching the database.
func (q *SQLiteQueue) Depth() int {
	return int(q.depth.Load())
}

// Close closes the database. The queue must not be used afterwards.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

const columns = `seq, id, path, size, md5, content_type, score, hits, frozen, source, detected_at`

func scanRow(rows *sql.Rows) (Pending, error) {
	var (
		p          Pending
		id, hits   string
		detectedAt string
	)
	f := &p.Finding
	if err := rows.Scan(&p.Seq, &id, &f.Path, &f.Size, &f.MD5, &f.ContentType,
		&f.Score, &hits, &f.Frozen, &f.Source, &detectedAt); err != nil {
		return Pending{}, err
	}

	var err error
	if f.ID, err = uuid.Parse(id); err != nil {
		return Pending{}, fmt.Errorf("row %d: bad id %q: %w", p.Seq, id, err)
	}
	if f.DetectedAt, err = time.Parse(time.RFC3339Nano, detectedAt); err != nil {
		f.DetectedAt, _ = time.Parse(time.RFC3339, detectedAt)
	}
	// A malformed hits column leaves Hits empty rather than blocking the queue.
	if err := json.Unmarshal([]byte(hits), &f.Hits); err != nil {
		f.Hits = nil
	}
	return p, nil
}
