// Command frostwatch scans a web root for PHP shells and other injected code.
// It walks the tree once or on an interval (active mode), or follows writes
// through fanotify (passive mode) or inotify. Findings are kept in a local
// SQLite queue, optionally relayed to PostgreSQL, and served over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tripwire/frostwatch/internal/agent"
	"github.com/tripwire/frostwatch/internal/audit"
	"github.com/tripwire/frostwatch/internal/config"
	"github.com/tripwire/frostwatch/internal/metrics"
	"github.com/tripwire/frostwatch/internal/notify"
	"github.com/tripwire/frostwatch/internal/queue"
	"github.com/tripwire/frostwatch/internal/server/rest"
	"github.com/tripwire/frostwatch/internal/server/websocket"
	"github.com/tripwire/frostwatch/internal/storage"
	"github.com/tripwire/frostwatch/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "frostwatch: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [directory]\n", os.Args[0])
	flag.PrintDefaults()
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	passive := flag.Bool("passive", false, "watch the mount with fanotify instead of walking (needs CAP_SYS_ADMIN)")
	useInotify := flag.Bool("inotify", false, "watch the directory tree with inotify")
	verbose := flag.Bool("verbose", false, "log at debug level")
	freeze := flag.Bool("freeze", false, "remove all permissions from files at or above the freeze threshold")
	days := flag.Int("days", 0, "in active mode, only scan files modified within this many days")
	flag.Usage = usage
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Read(*configPath); err != nil {
			return err
		}
	}

	// Only flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "passive":
			if *passive {
				cfg.Mode = config.ModePassive
			}
		case "inotify":
			if *useInotify {
				cfg.Mode = config.ModeInotify
			}
		case "verbose":
			if *verbose {
				cfg.LogLevel = "debug"
			}
		case "freeze":
			cfg.Freeze = *freeze
		case "days":
			cfg.Days = *days
		}
	})
	if *passive && *useInotify {
		return errors.New("-passive and -inotify are mutually exclusive")
	}
	switch flag.NArg() {
	case 0:
	case 1:
		cfg.Directory = flag.Arg(0)
	default:
		flag.Usage()
		return errors.New("at most one directory may be given")
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("directory", cfg.Directory),
		slog.String("mode", cfg.Mode),
		slog.String("max_file_size", cfg.MaxFileSize.String()),
		slog.String("log_level", cfg.LogLevel),
		slog.String("health_addr", cfg.HealthAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Local findings queue and audit log ────────────────────────────────────
	q, err := queue.New(cfg.QueuePath)
	if err != nil {
		return err
	}
	auditLog, err := audit.Open(cfg.AuditPath)
	if err != nil {
		q.Close()
		return err
	}
	defer func() {
		if err := auditLog.Close(); err != nil {
			logger.Warn("error closing audit log", slog.Any("error", err))
		}
	}()

	// ── Optional PostgreSQL relay ─────────────────────────────────────────────
	var relay *queue.Relay
	relayDone := make(chan struct{})
	if cfg.Postgres.DSN != "" {
		store, err := storage.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			q.Close()
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			q.Close()
			return err
		}
		relay = queue.NewRelay(q, store, logger, cfg.Postgres.FlushInterval, cfg.Postgres.BatchSize)
		logger.Info("relaying findings to PostgreSQL",
			slog.Int("batch_size", cfg.Postgres.BatchSize),
			slog.Duration("flush_interval", cfg.Postgres.FlushInterval))
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	if relay != nil {
		go func() {
			defer close(relayDone)
			relay.Run(relayCtx)
		}()
	} else {
		close(relayDone)
	}

	// ── Event source ──────────────────────────────────────────────────────────
	w, err := newWatcher(cfg, logger)
	if err != nil {
		q.Close()
		return err
	}

	bc := websocket.NewBroadcaster(logger, cfg.Notify.Buffer)
	defer bc.Close()

	ag := agent.New(cfg, logger,
		agent.WithWatchers(w),
		agent.WithQueue(q),
		agent.WithAuditor(auditLog),
		agent.WithPublishers(bc),
	)
	if err := ag.Start(ctx); err != nil {
		q.Close()
		return err
	}

	// ── HTTP API ──────────────────────────────────────────────────────────────
	var httpServer *http.Server
	httpErrCh := make(chan error, 1)
	if cfg.HealthAddr != "" {
		handler, err := newHandler(cfg, q, ag, bc, metricSources(q, ag, bc, relay, w), logger)
		if err != nil {
			ag.Stop()
			return err
		}
		httpServer = &http.Server{
			Addr:         cfg.HealthAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", slog.String("addr", cfg.HealthAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErrCh <- err
			}
		}()
	}

	// ── Wait for completion, a signal or a fatal error ────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case <-ag.Done():
		logger.Info("scan complete")
	case err := <-httpErrCh:
		logger.Error("HTTP server error", slog.Any("error", err))
		runErr = fmt.Errorf("HTTP server: %w", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", slog.Any("error", err))
		}
	}

	stopRelay()
	<-relayDone
	if relay != nil {
		if n, err := relay.Flush(shutdownCtx); err != nil {
			logger.Warn("final relay flush failed; findings stay queued",
				slog.Int("pending", q.Depth()),
				slog.Any("error", err))
		} else if n > 0 {
			logger.Info("final relay flush", slog.Int("delivered", n))
		}
	}

	// Stop also closes the queue.
	ag.Stop()
	bc.Close()

	logger.Info("frostwatch exited cleanly")
	return runErr
}

// newWatcher builds the event source for cfg.Mode.
func newWatcher(cfg *config.Config, logger *slog.Logger) (agent.Watcher, error) {
	switch cfg.Mode {
	case config.ModePassive:
		mask, err := parseMask(notify.Fanotify, cfg.Notify.Mask)
		if err != nil {
			return nil, err
		}
		return watcher.NewFanotifyWatcher(cfg.Directory, mask, logger, cfg.Notify.Buffer)
	case config.ModeInotify:
		mask, err := parseMask(notify.Inotify, cfg.Notify.Mask)
		if err != nil {
			return nil, err
		}
		return watcher.NewInotifyWatcher(cfg.Directory, mask, logger, cfg.Notify.Buffer)
	default:
		return watcher.NewWalker(cfg.Directory, cfg.Days, cfg.Interval, logger), nil
	}
}

// parseMask returns 0 for an empty string so the watcher applies its
// default.
func parseMask(mech notify.Mechanism, s string) (notify.Mask, error) {
	if s == "" {
		return 0, nil
	}
	m, err := notify.ParseMask(mech, s)
	if err != nil {
		return 0, fmt.Errorf("notify.mask: %w", err)
	}
	return m, nil
}

func newHandler(cfg *config.Config, q *queue.SQLiteQueue, ag *agent.Agent, bc *websocket.Broadcaster, src metrics.Sources, logger *slog.Logger) (http.Handler, error) {
	var jwtCfg *rest.JWTConfig
	if cfg.API.JWTPublicKeyPath != "" {
		key, err := rest.LoadRSAPublicKey(cfg.API.JWTPublicKeyPath)
		if err != nil {
			return nil, err
		}
		jwtCfg = &rest.JWTConfig{
			PublicKey: key,
			Issuer:    cfg.API.Issuer,
			Audience:  cfg.API.Audience,
			Logger:    logger,
		}
		logger.Info("JWT validation enabled")
	} else {
		logger.Warn("api.jwt_public_key_path not configured; findings API is unauthenticated")
	}

	srv := rest.NewServer(q, cfg.AuditPath, ag.HealthzHandler, logger).
		WithStream(websocket.NewHandler(bc, logger, 0)).
		WithMetrics(metrics.Handler(metrics.NewRegistry(src)))
	return rest.NewRouter(srv, jwtCfg), nil
}

// notifyStats is implemented by the kernel-driven watchers.
type notifyStats interface {
	Stats() (delivered, dropped int64)
}

func metricSources(q *queue.SQLiteQueue, ag *agent.Agent, bc *websocket.Broadcaster, relay *queue.Relay, w agent.Watcher) metrics.Sources {
	src := metrics.Sources{
		FilesScanned:  func() int64 { return ag.Health().FilesScanned },
		Findings:      func() int64 { return ag.Health().Findings },
		QueueDepth:    q.Depth,
		StreamClients: bc.ClientCount,
	}
	if relay != nil {
		src.RelayDelivered = relay.Delivered
		src.RelayFailures = relay.Failures
	}
	if ns, ok := w.(notifyStats); ok {
		src.NotifyStats = ns.Stats
	}
	return src
}

// newLogger constructs a *slog.Logger that writes JSON-structured log records
// to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
