// Package storage is the optional central PostgreSQL store for findings. Many
// frostwatch hosts can relay into one database; rows carry the reporting
// host's name.
package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripwire/frostwatch/internal/agent"
)

// Schema creates the findings table. EnsureSchema applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS findings (
    finding_id   UUID        PRIMARY KEY,
    host         TEXT        NOT NULL,
    path         TEXT        NOT NULL,
    size         BIGINT      NOT NULL,
    md5          TEXT        NOT NULL,
    content_type TEXT        NOT NULL DEFAULT '',
    score        INTEGER     NOT NULL,
    hits         TEXT[]      NOT NULL DEFAULT '{}',
    frozen       BOOLEAN     NOT NULL DEFAULT FALSE,
    source       TEXT        NOT NULL,
    detected_at  TIMESTAMPTZ NOT NULL,
    received_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_findings_detected ON findings (detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_findings_host ON findings (host, detected_at DESC);
`

// Store wraps a pgxpool connection pool.
type Store struct {
	pool *pgxpool.Pool
	host string
}

// New connects to dsn and pings the database. Findings stored through this
// Store are attributed to the local hostname.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Store{pool: pool, host: host}, nil
}

// WithHost overrides the host name recorded on stored findings.
func (s *Store) WithHost(host string) *Store {
	s.host = host
	return s
}

// EnsureSchema creates the findings table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

const insertFinding = `
	INSERT INTO findings
		(finding_id, host, path, size, md5, content_type, score, hits, frozen, source, detected_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT DO NOTHING`

// StoreBatch inserts fs in a single pgx.Batch round-trip. Rows whose ID is
// already present are ignored, so redelivered batches are harmless.
func (s *Store) StoreBatch(ctx context.Context, fs []agent.Finding) error {
	if len(fs) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for i := range fs {
		f := &fs[i]
		hits := f.Hits
		if hits == nil {
			hits = []string{}
		}
		b.Queue(insertFinding,
			f.ID.String(), s.host, f.Path, f.Size, f.MD5, f.ContentType,
			f.Score, hits, f.Frozen, f.Source, f.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range fs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("storage: batch insert finding: %w", err)
		}
	}
	return nil
}

// QueryFindings returns findings newest first. Host filtering is left to
// SQL clients; the API lists every host.
func (s *Store) QueryFindings(ctx context.Context, fq agent.FindingQuery) ([]agent.Finding, error) {
	sql, args := findingsQuery(fq)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query findings: %w", err)
	}
	defer rows.Close()

	out := []agent.Finding{}
	for rows.Next() {
		var (
			f  agent.Finding
			id string
		)
		if err := rows.Scan(&id, &f.Path, &f.Size, &f.MD5, &f.ContentType,
			&f.Score, &f.Hits, &f.Frozen, &f.Source, &f.DetectedAt); err != nil {
			return nil, fmt.Errorf("storage: scan finding: %w", err)
		}
		if f.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("storage: finding id %q: %w", id, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// findingsQuery builds the listing statement. $1 and $2 are always limit and
// offset; the score floor is only bound when set.
func findingsQuery(fq agent.FindingQuery) (string, []any) {
	fq = fq.Normalize()
	args := []any{fq.Limit, fq.Offset}

	var where []string
	if fq.MinScore != nil {
		args = append(args, *fq.MinScore)
		where = append(where, fmt.Sprintf("score >= $%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT finding_id::text, path, size, md5, content_type,
		       score, hits, frozen, source, detected_at
		FROM   findings`)
	if len(where) > 0 {
		sb.WriteString("\n\t\tWHERE  " + strings.Join(where, " AND "))
	}
	sb.WriteString(`
		ORDER  BY detected_at DESC, finding_id
		LIMIT  $1 OFFSET $2`)
	return sb.String(), args
}
