// Package agent contains the frostwatch orchestrator. It fans in path events
// from the configured watchers, scans each changed file, and hands findings to
// the local queue and the audit log.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tripwire/frostwatch/internal/audit"
	"github.com/tripwire/frostwatch/internal/config"
	"github.com/tripwire/frostwatch/internal/scanner"
)

// DefaultDebounce suppresses repeat scans of a path that changes in bursts,
// as editors and uploaders often close a file several times in a row. The
// first event scans at once. Events suppressed inside the window trigger one
// more scan when the window ends, so the final content is always inspected.
const DefaultDebounce = 200 * time.Millisecond

// Event sources.
const (
	SourceWalk     = "walk"
	SourceFanotify = "fanotify"
	SourceInotify  = "inotify"
)

// PathEvent reports that a file may have changed and should be scanned.
type PathEvent struct {
	Path string
	// Source is one of SourceWalk, SourceFanotify or SourceInotify.
	Source string
	// Mask holds the raw kernel event bits. Zero for walks.
	Mask uint64
	// PID of the writer when the mechanism reports it, otherwise zero.
	PID       int32
	Timestamp time.Time
}

// Finding is a file that matched at least one signature.
type Finding struct {
	ID          uuid.UUID `json:"id"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	MD5         string    `json:"md5"`
	ContentType string    `json:"content_type"`
	Score       int       `json:"score"`
	Hits        []string  `json:"hits"`
	Frozen      bool      `json:"frozen"`
	Source      string    `json:"source"`
	DetectedAt  time.Time `json:"detected_at"`
}

// FindingQuery selects findings for listing, newest first.
type FindingQuery struct {
	// Limit caps the result. Zero means DefaultQueryLimit.
	Limit  int
	Offset int
	// MinScore filters out lower scores when set. Scores can be negative.
	MinScore *int
}

// DefaultQueryLimit and MaxQueryLimit bound FindingQuery.Limit.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Normalize clamps Limit and Offset into range.
func (q FindingQuery) Normalize() FindingQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// ScoreFloor returns the effective minimum score.
func (q FindingQuery) ScoreFloor() int {
	if q.MinScore == nil {
		return math.MinInt32
	}
	return *q.MinScore
}

// Watcher produces path events. Implementations must be safe for concurrent
// use.
type Watcher interface {
	// Start begins monitoring. It returns an error if initialisation fails.
	Start(ctx context.Context) error
	// Stop releases resources and blocks until internal goroutines exit.
	Stop()
	// Events is closed when the watcher stops or, for one-shot walks, when
	// the walk completes.
	Events() <-chan PathEvent
}

// Scanner scores a single file.
type Scanner interface {
	Scan(path string) (scanner.Report, error)
}

// Queue is the local durable store of findings.
type Queue interface {
	Enqueue(ctx context.Context, f Finding) error
	Depth() int
	Close() error
}

// Auditor records remediation actions.
type Auditor interface {
	Record(a audit.Action) (audit.Entry, error)
}

// Publisher receives every finding as it is detected. Publish must not
// block.
type Publisher interface {
	Publish(f Finding)
}

// Agent supervises watchers and routes their events through the scanner.
type Agent struct {
	cfg      *config.Config
	logger   *slog.Logger
	watchers []Watcher
	scanner  Scanner
	queue    Queue
	auditor  Auditor
	pubs     []Publisher
	debounce time.Duration
	now      func() time.Time

	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu            sync.RWMutex
	lastFindingAt time.Time
	running       bool
	wg            sync.WaitGroup

	seenMu   sync.Mutex
	seen     map[string]*pathState
	trailing sync.WaitGroup

	scanned  atomic.Int64
	findings atomic.Int64
}

// New creates an Agent. Unless WithScanner is given, the scanner is built from
// cfg. Every other component is optional.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Agent {
	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		debounce: DefaultDebounce,
		now:      time.Now,
		done:     make(chan struct{}),
		seen:     make(map[string]*pathState),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.scanner == nil {
		a.scanner = scanner.New(ScannerOptions(cfg), logger)
	}
	return a
}

// ScannerOptions maps the configuration onto scanner options.
func ScannerOptions(cfg *config.Config) scanner.Options {
	return scanner.Options{
		Root:            cfg.Directory,
		MaxFileSize:     int64(cfg.MaxFileSize),
		SkipSubstrings:  cfg.SkipSubstrings,
		Exclude:         cfg.Exclude,
		AllowMD5:        cfg.AllowMD5,
		Freeze:          cfg.Freeze,
		FreezeThreshold: cfg.FreezeThreshold,
	}
}

// Option is a functional option for Agent construction.
type Option func(*Agent)

// WithWatchers registers one or more watchers.
func WithWatchers(ws ...Watcher) Option {
	return func(a *Agent) { a.watchers = append(a.watchers, ws...) }
}

func WithScanner(s Scanner) Option { return func(a *Agent) { a.scanner = s } }

func WithQueue(q Queue) Option { return func(a *Agent) { a.queue = q } }

func WithAuditor(au Auditor) Option { return func(a *Agent) { a.auditor = au } }

// WithPublishers registers live finding listeners.
func WithPublishers(ps ...Publisher) Option {
	return func(a *Agent) { a.pubs = append(a.pubs, ps...) }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(a *Agent) { a.now = now } }

// WithDebounce overrides DefaultDebounce. Zero scans every event.
func WithDebounce(d time.Duration) Option { return func(a *Agent) { a.debounce = d } }

// Start starts every watcher. If any fails, the ones already started are
// stopped and the error is returned.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("agent: already running")
	}
	a.running = true
	a.startTime = a.now()
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.logger.Info("starting frostwatch",
		slog.String("directory", a.cfg.Directory),
		slog.String("mode", a.cfg.Mode),
		slog.Bool("freeze", a.cfg.Freeze),
		slog.Int("watchers", len(a.watchers)),
	)

	for i, w := range a.watchers {
		if err := w.Start(ctx); err != nil {
			cancel()
			// A watcher may hold descriptors from a partial start.
			w.Stop()
			for _, started := range a.watchers[:i] {
				started.Stop()
			}
			a.wg.Wait()
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			return fmt.Errorf("agent: watcher[%d] failed to start: %w", i, err)
		}
		a.wg.Add(1)
		go a.processEvents(ctx, w)
	}

	go func() {
		a.wg.Wait()
		close(a.done)
	}()

	a.logger.Info("frostwatch started")
	return nil
}

// Done is closed once every watcher's event stream has ended, which for a
// one-shot walk means the scan is complete.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Stop shuts every component down. It is safe to call more than once.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	for _, w := range a.watchers {
		w.Stop()
	}
	a.wg.Wait()
	a.stopTrailing()

	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("error closing findings queue", slog.Any("error", err))
		}
	}

	a.logger.Info("frostwatch stopped",
		slog.Int64("scanned", a.scanned.Load()),
		slog.Int64("findings", a.findings.Load()))
}

func (a *Agent) processEvents(ctx context.Context, w Watcher) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.Events():
			if !ok {
				return
			}
			a.HandleEvent(ctx, evt)
		}
	}
}

// HandleEvent scans the path named by evt and records any finding. Errors are
// logged and never stop the agent.
func (a *Agent) HandleEvent(ctx context.Context, evt PathEvent) {
	if a.debounced(ctx, evt) {
		a.logger.Debug("agent: debounced", slog.String("path", evt.Path))
		return
	}
	a.scan(ctx, evt)
}

func (a *Agent) scan(ctx context.Context, evt PathEvent) {
	r, err := a.scanner.Scan(evt.Path)
	if err != nil {
		a.logger.Warn("agent: scan failed", slog.String("path", evt.Path), slog.Any("error", err))
		return
	}
	a.scanned.Add(1)
	if r.Skipped != "" || !r.Suspicious() {
		return
	}

	f := Finding{
		ID:          uuid.New(),
		Path:        r.Path,
		Size:        r.Size,
		MD5:         r.MD5,
		ContentType: r.ContentType,
		Score:       r.Score,
		Hits:        r.Hits,
		Frozen:      r.Frozen,
		Source:      evt.Source,
		DetectedAt:  a.now().UTC(),
	}
	a.findings.Add(1)
	a.mu.Lock()
	a.lastFindingAt = f.DetectedAt
	a.mu.Unlock()

	a.logger.Warn("suspicious file",
		slog.String("path", f.Path),
		slog.Int("score", f.Score),
		slog.Any("hits", f.Hits),
		slog.String("source", f.Source),
		slog.Bool("frozen", f.Frozen),
	)

	if a.queue != nil {
		if err := a.queue.Enqueue(ctx, f); err != nil {
			a.logger.Warn("failed to enqueue finding", slog.Any("error", err))
		}
	}
	for _, p := range a.pubs {
		p.Publish(f)
	}
	a.audit(r)
}

func (a *Agent) audit(r scanner.Report) {
	if a.auditor == nil || (!r.Frozen && r.FreezeErr == nil) {
		return
	}
	act := audit.Action{Kind: audit.ActionFreeze, Path: r.Path, MD5: r.MD5, Score: r.Score, Hits: r.Hits}
	if r.FreezeErr != nil {
		act.Kind = audit.ActionFreezeFailed
		act.Error = r.FreezeErr.Error()
	}
	if _, err := a.auditor.Record(act); err != nil {
		a.logger.Error("failed to audit freeze", slog.String("path", r.Path), slog.Any("error", err))
	}
}

// pathState tracks one path inside its debounce window.
type pathState struct {
	last time.Time
	// pending is the latest suppressed event, rescanned by timer.
	pending *PathEvent
	timer   *time.Timer
}

// debounced reports whether evt falls inside the debounce window of an earlier
// scan of the same path. A suppressed event arms a single trailing scan at the
// end of the window.
func (a *Agent) debounced(ctx context.Context, evt PathEvent) bool {
	if a.debounce <= 0 {
		return false
	}
	now := a.now()

	a.seenMu.Lock()
	defer a.seenMu.Unlock()

	if st, ok := a.seen[evt.Path]; ok {
		if now.Sub(st.last) < a.debounce {
			st.pending = &evt
			if st.timer == nil {
				a.trailing.Add(1)
				st.timer = time.AfterFunc(a.debounce-now.Sub(st.last), func() {
					defer a.trailing.Done()
					a.fireTrailing(ctx, evt.Path)
				})
			}
			return true
		}
		// This scan supersedes the pending one.
		if st.timer != nil && st.timer.Stop() {
			a.trailing.Done()
		}
	}
	a.seen[evt.Path] = &pathState{last: now}
	if len(a.seen) > 4096 {
		for p, st := range a.seen {
			if st.timer == nil && now.Sub(st.last) >= a.debounce {
				delete(a.seen, p)
			}
		}
	}
	return false
}

func (a *Agent) fireTrailing(ctx context.Context, path string) {
	a.seenMu.Lock()
	st, ok := a.seen[path]
	if !ok || st.pending == nil || st.timer == nil {
		a.seenMu.Unlock()
		return
	}
	evt := *st.pending
	st.pending = nil
	st.timer = nil
	st.last = a.now()
	a.seenMu.Unlock()

	if ctx.Err() != nil {
		return
	}
	a.scan(ctx, evt)
}

// stopTrailing cancels armed trailing scans and waits for running ones.
func (a *Agent) stopTrailing() {
	a.seenMu.Lock()
	for _, st := range a.seen {
		if st.timer != nil && st.timer.Stop() {
			st.timer = nil
			st.pending = nil
			a.trailing.Done()
		}
	}
	a.seenMu.Unlock()
	a.trailing.Wait()
}

// HealthStatus is the payload returned by the /healthz endpoint.
type HealthStatus struct {
	Status        string  `json:"status"`
	Mode          string  `json:"mode"`
	UptimeS       float64 `json:"uptime_s"`
	QueueDepth    int     `json:"queue_depth"`
	FilesScanned  int64   `json:"files_scanned"`
	Findings      int64   `json:"findings"`
	LastFindingAt string  `json:"last_finding_at,omitempty"`
}

// Health returns a snapshot of the agent state.
func (a *Agent) Health() HealthStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	h := HealthStatus{
		Status:       "ok",
		Mode:         a.cfg.Mode,
		UptimeS:      a.now().Sub(a.startTime).Seconds(),
		FilesScanned: a.scanned.Load(),
		Findings:     a.findings.Load(),
	}
	if a.queue != nil {
		h.QueueDepth = a.queue.Depth()
	}
	if !a.lastFindingAt.IsZero() {
		h.LastFindingAt = a.lastFindingAt.UTC().Format(time.RFC3339)
	}
	return h
}

// HealthzHandler responds with Health as JSON.
func (a *Agent) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	h := a.Health()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		a.logger.Warn("healthz: failed to encode response", slog.Any("error", err))
	}
}
