package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/recollect-app/recollect/internal/auth"
	"github.com/recollect-app/recollect/internal/capture"
	"github.com/recollect-app/recollect/internal/config"
	"github.com/recollect-app/recollect/internal/insights"
	"github.com/recollect-app/recollect/internal/ipc"
	"github.com/recollect-app/recollect/internal/jobs"
	"github.com/recollect-app/recollect/internal/notify"
	"github.com/recollect-app/recollect/internal/pipe"
	"github.com/recollect-app/recollect/internal/session"
	"github.com/recollect-app/recollect/internal/tiers"
	"github.com/recollect-app/recollect/internal/transport"
	"github.com/recollect-app/recollect/internal/upload"
)

func (r *runner) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the recording session daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.runDaemon(cmd.Context())
		},
	}
}

func (r *runner) runDaemon(ctx context.Context) error {
	logRuntime, logger, err := r.newLogging()
	if err != nil {
		return err
	}
	defer func() { _ = logRuntime.Close() }()

	loaded, err := r.loadConfig()
	if err != nil {
		return err
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return r.fail("%v", err)
	}
	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			return r.fail("%v", err)
		}
		return r.fail("acquire control socket: %v", err)
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	coordinator, registry, err := r.buildCoordinator(loaded, logger)
	if err != nil {
		return err
	}
	if registry != nil {
		defer func() { _ = registry.Close() }()
	}

	logger.Info("daemon started",
		"socket", socketPath,
		"config", loaded.Path,
		"log", logRuntime.Path,
		"scope_id", loaded.Config.Session.ScopeID,
	)
	fmt.Fprintf(r.stdout, "recollect daemon listening on %s\n", socketPath)

	if err := ipc.Serve(ctx, listener, coordinator); err != nil {
		return r.fail("ipc server failed: %v", err)
	}

	// Best-effort cleanup of an interrupted session.
	if snap := coordinator.Snapshot(); snap.State == "recording" || snap.State == "paused" {
		logger.Warn("daemon exiting with active session, cancelling", "session_id", snap.SessionID)
		_ = coordinator.Cancel(context.Background())
	}

	logger.Info("daemon stopped")
	return nil
}

// buildCoordinator assembles the coordinator's collaborator graph from config.
func (r *runner) buildCoordinator(loaded config.Loaded, logger *slog.Logger) (*session.Coordinator, *jobs.Registry, error) {
	cfg := loaded.Config
	registry, err := jobs.Open(cfg.Jobs.DBPath)
	if err != nil {
		return nil, nil, r.fail("open job registry: %v", err)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Enable {
		notifier = notify.NewDesktop(logger)
	}

	opts := session.Options{
		ScopeID:       cfg.Session.ScopeID,
		ContentType:   "recording",
		UseAutoMatch:  cfg.Upload.AutoMatch,
		LiveAssistant: cfg.Session.LiveAssistant,
		PersistLiveAssistant: func(enabled bool) error {
			return config.SaveLiveAssistant(loaded.Path, enabled)
		},
		NewDevice: func() session.Device {
			return capture.NewRecorder(capture.Config{
				Input:         cfg.Audio.Input,
				Fallback:      cfg.Audio.Fallback,
				SampleRate:    cfg.Audio.SampleRate,
				RecordingsDir: cfg.Session.RecordingsDir,
				MaxDuration:   cfg.Session.MaxDuration,
				WarnThreshold: cfg.Session.WarnThreshold,
			}, logger)
		},
		NewPipe: func(source <-chan []byte) session.Pipe {
			return pipe.New(source, logger)
		},
		Transport: transport.New(cfg.Realtime.TransportURL, logger),
		Insights:  insights.New(cfg.Realtime.InsightsURL, logger),
		Uploader:  upload.NewClient(cfg.Upload.BaseURL, cfg.Upload.Timeout, logger),
		Jobs:      registry,
		Credentials: auth.NewProvider(auth.Config{
			Token:    cfg.Auth.Token,
			TokenURL: cfg.Auth.TokenURL,
			APIKey:   cfg.Auth.APIKey,
		}),
		Notifier:    notifier,
		Diagnostics: notify.NewLogDiagnostics(logger),
		Logger:      logger,
	}

	resolver, err := tiers.NewResolver(cfg.Insights.Tiers)
	if err != nil {
		_ = registry.Close()
		return nil, nil, r.fail("resolve analysis tiers: %v", err)
	}
	opts.Tiers = resolver

	return session.NewCoordinator(opts), registry, nil
}
