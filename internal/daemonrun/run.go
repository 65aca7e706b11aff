package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"callscribe/internal/archive"
	"callscribe/internal/auth"
	"callscribe/internal/capture"
	"callscribe/internal/config"
	"callscribe/internal/daemon"
	"callscribe/internal/ipc"
	"callscribe/internal/logging"
	"callscribe/internal/notifications"
	"callscribe/internal/preflight"
	"callscribe/internal/proxy"
	"callscribe/internal/queue"
	"callscribe/internal/segment"
	"callscribe/internal/session"
	"callscribe/internal/store"
	"callscribe/internal/stt"
	"callscribe/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides cfg.Logging.Level when set.
	LogLevel string
}

// Run starts the callscribe daemon and blocks until a signal or an IPC
// shutdown request.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	events := logging.NewEventHub(4096)
	logger, err := logging.NewFromConfig(cfg, events)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	db, err := store.Open(cfg)
	if err != nil {
		logger.Error("open database", logging.Error(err))
		return err
	}
	defer db.Close()

	repo, err := store.OpenRepository(signalCtx, cfg, db)
	if err != nil {
		return fmt.Errorf("open session repository: %w", err)
	}
	defer repo.Close()

	transcriber, err := stt.New(signalCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init transcriber: %w", err)
	}
	defer transcriber.Close()

	var gcs *archive.GCS
	if cfg.Archive.Enabled {
		gcs, err = archive.NewGCS(signalCtx, archive.GCSOptions{
			Bucket:          cfg.Archive.Bucket,
			Prefix:          cfg.Archive.Prefix,
			CredentialsFile: cfg.Archive.CredentialsFile,
		})
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		defer gcs.Close()
	}

	notifier := notifications.NewService(cfg)
	hub := proxy.NewHub(proxy.HubOptions{
		Authorize: auth.RequireRole(cfg.Daemon.APISecret, auth.RoleSigner),
		Logger:    logger,
	})
	ledgerProxy := proxy.New(hub, proxy.Options{Timeout: cfg.ProxyTimeout(), Logger: logger})

	interval := cfg.SegmentInterval()
	coord := session.New(session.Options{
		Repository: repo,
		Ledger:     ledgerProxy,
		OpenStream: capture.Opener(cfg, logger),
		NewSegmenter: func() *segment.Segmenter {
			return segment.New(segment.Options{Interval: interval, Logger: logger})
		},
		Notifier:   notifier,
		MemoPrefix: cfg.Session.TopicMemoPrefix,
		Heartbeat:  cfg.HeartbeatInterval(),
		Logger:     logger,
	})

	processorOpts := workflow.Options{
		Transcriber: transcriber,
		Publisher:   ledgerProxy,
		Sessions:    coord,
		Spool:       archive.NewSpool(cfg.Paths.SpoolDir),
		Language:    cfg.STT.Language,
		Logger:      logger,
	}
	if gcs != nil {
		processorOpts.Archive = gcs
	}
	processor := workflow.NewProcessor(processorOpts)

	queueOpts := queue.Options{
		MaxAttempts:      cfg.Queue.MaxAttempts,
		MinSegmentBytes:  cfg.Queue.MinSegmentBytes,
		SupportedFormats: cfg.STT.SupportedFormats,
		Processor:        processor,
		Sessions:         coord,
		OnPause:          workflow.PauseNotifier(signalCtx, notifier, logger),
		Logger:           logger,
	}
	if cfg.Queue.Journal {
		queueOpts.Journal = db
	}
	segments := queue.New(queueOpts)
	coord.AttachQueue(segments)

	d, err := daemon.New(daemon.Options{
		Config:    cfg,
		Logger:    logger,
		Store:     db,
		Sessions:  coord,
		Queue:     segments,
		Processor: processor,
		Hub:       hub,
		Events:    events,
		Notifier:  notifier,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.OnShutdown(cancel)
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return err
		}
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the API bind address and database access"),
			logging.String(logging.FieldImpact, "meetings cannot be recorded until the daemon restarts"),
		)
		return err
	}

	go runPreflight(signalCtx, cfg, logger)
	go pruneSpool(signalCtx, cfg, coord, logger)

	<-signalCtx.Done()
	logger.Info("callscribe daemon shutting down")
	return nil
}

// runPreflight reports external service problems without blocking startup.
func runPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, result := range preflight.Failed(preflight.RunAll(checkCtx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "segments may fail and pause the queue"),
			logging.String(logging.FieldErrorHint, "run 'callscribe status' for details"),
		)
	}
}

// pruneSpool drops spooled sessions past the retention window, keeping the
// session recovered as active.
func pruneSpool(ctx context.Context, cfg *config.Config, coord *session.Coordinator, logger *slog.Logger) {
	keep := map[string]struct{}{}
	if active, ok := coord.Active(); ok {
		keep[active.ID] = struct{}{}
	}
	result := archive.PruneSpool(ctx, cfg.Paths.SpoolDir, cfg.SpoolRetention(), keep, logging.NewComponentLogger(logger, "spool"))
	if len(result.Removed) > 0 {
		logger.Info("spool pruned",
			logging.Int("sessions", len(result.Removed)),
			logging.Int64("bytes", result.Bytes),
			logging.String(logging.FieldEventType, "spool_prune_complete"),
		)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []any{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("stt_backend", cfg.STT.Backend),
		logging.String("store_backend", cfg.Store.Backend),
		logging.Bool("archive_enabled", cfg.Archive.Enabled),
		logging.Bool("api_secret_set", strings.TrimSpace(cfg.Daemon.APISecret) != ""),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	}
	for _, dep := range preflight.CheckSystemDeps(cfg) {
		key := strings.ToLower(dep.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", dep.Available),
			logging.String(key+"_binary", dep.Command),
		)
	}
	logger.Info("dependency snapshot", attrs...)
}
