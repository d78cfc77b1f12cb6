// Package scanner scores files against heuristics for PHP web shells, spam
// bots and injected loaders, and optionally freezes high-scoring files.
package scanner

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
)

// Skip reasons reported in Report.Skipped.
const (
	SkipNotRegular = "not a regular file"
	SkipSymlink    = "symlink"
	SkipEmpty      = "empty"
	SkipTooLarge   = "too large"
	SkipPath       = "path filter"
	SkipExcluded   = "excluded"
	SkipAllowed    = "allow-listed digest"
)

// Options configures a Scanner.
type Options struct {
	// Root anchors Exclude patterns. Paths outside Root are matched by their
	// full slash-separated path.
	Root string
	// MaxFileSize skips files of this size or larger. Zero disables the
	// limit.
	MaxFileSize int64
	// SkipSubstrings skips any path containing one of these.
	SkipSubstrings []string
	// Exclude holds doublestar patterns.
	Exclude []string
	// AllowMD5 holds hex digests of known-good files.
	AllowMD5 []string
	// Freeze enables chmod 000 for reports scoring FreezeThreshold or more.
	Freeze          bool
	FreezeThreshold int
	// Signatures overrides DefaultSignatures when non-nil.
	Signatures []Signature
}

// Report is the outcome of scanning one path.
type Report struct {
	Path        string
	Size        int64
	MD5         string
	ContentType string
	Score       int
	// Hits lists the names of matching signatures in evaluation order.
	Hits []string
	// Skipped is non-empty when the file was filtered out before scoring.
	Skipped string
	Frozen  bool
	// FreezeErr is set when a freeze was attempted and failed.
	FreezeErr error
}

// Suspicious reports whether any signature matched.
func (r Report) Suspicious() bool { return len(r.Hits) > 0 }

// Scanner applies the filter and signature set to individual paths. It is
// safe for concurrent use.
type Scanner struct {
	opts   Options
	sigs   []Signature
	allow  map[string]bool
	logger *slog.Logger
}

// New creates a Scanner.
func New(opts Options, logger *slog.Logger) *Scanner {
	sigs := opts.Signatures
	if sigs == nil {
		sigs = DefaultSignatures
	}
	allow := make(map[string]bool, len(opts.AllowMD5))
	for _, sum := range opts.AllowMD5 {
		allow[strings.ToLower(sum)] = true
	}
	return &Scanner{opts: opts, sigs: sigs, allow: allow, logger: logger}
}

// Scan inspects path. Filtered files come back with Skipped set and a nil
// error; errors are reserved for files that vanish or cannot be read.
func (s *Scanner) Scan(path string) (Report, error) {
	r := Report{Path: path}

	if reason := s.pathFilter(path); reason != "" {
		r.Skipped = reason
		return r, nil
	}

	info, err := os.Lstat(path)
	if err != nil {
		return r, fmt.Errorf("scanner: stat %q: %w", path, err)
	}
	r.Size = info.Size()
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		r.Skipped = SkipSymlink
	case !info.Mode().IsRegular():
		r.Skipped = SkipNotRegular
	case info.Size() == 0:
		r.Skipped = SkipEmpty
	case s.opts.MaxFileSize > 0 && info.Size() >= s.opts.MaxFileSize:
		r.Skipped = SkipTooLarge
	}
	if r.Skipped != "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("scanner: read %q: %w", path, err)
	}
	sum := md5.Sum(data)
	r.MD5 = hex.EncodeToString(sum[:])
	if s.allow[r.MD5] {
		r.Skipped = SkipAllowed
		return r, nil
	}
	r.ContentType = mimetype.Detect(data).String()

	c := newContent(path, data)
	for _, sig := range s.sigs {
		if sig.Match(c) {
			r.Score += sig.Score
			r.Hits = append(r.Hits, sig.Name)
			s.logger.Debug("scanner: signature matched",
				slog.String("path", path),
				slog.String("signature", sig.Name),
				slog.Int("score", sig.Score))
		}
	}

	if r.Suspicious() && s.opts.Freeze && r.Score >= s.opts.FreezeThreshold {
		if err := Freeze(path); err != nil {
			r.FreezeErr = err
			s.logger.Warn("scanner: freeze failed", slog.String("path", path), slog.Any("error", err))
		} else {
			r.Frozen = true
			s.logger.Warn("scanner: high malicious confidence, file frozen",
				slog.String("path", path),
				slog.Int("score", r.Score))
		}
	}
	return r, nil
}

// pathFilter applies the substring and glob filters, which need no I/O.
func (s *Scanner) pathFilter(path string) string {
	for _, sub := range s.opts.SkipSubstrings {
		if sub != "" && strings.Contains(path, sub) {
			return SkipPath
		}
	}
	if len(s.opts.Exclude) == 0 {
		return ""
	}
	rel := path
	if s.opts.Root != "" {
		if r, err := filepath.Rel(s.opts.Root, path); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)
	for _, p := range s.opts.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return SkipExcluded
		}
	}
	return ""
}

// Freeze removes every permission bit from path.
func Freeze(path string) error {
	if err := os.Chmod(path, 0); err != nil {
		return fmt.Errorf("scanner: freeze %q: %w", path, err)
	}
	return nil
}
