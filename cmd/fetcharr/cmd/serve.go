package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/fetcharr/internal/config"
	"github.com/jmylchreest/fetcharr/internal/database"
	"github.com/jmylchreest/fetcharr/internal/engine"
	"github.com/jmylchreest/fetcharr/internal/ffmpeg"
	"github.com/jmylchreest/fetcharr/internal/hls"
	internalhttp "github.com/jmylchreest/fetcharr/internal/http"
	"github.com/jmylchreest/fetcharr/internal/http/handlers"
	"github.com/jmylchreest/fetcharr/internal/httpclient"
	"github.com/jmylchreest/fetcharr/internal/jellyfin"
	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/repository"
	"github.com/jmylchreest/fetcharr/internal/retention"
	"github.com/jmylchreest/fetcharr/internal/startup"
	"github.com/jmylchreest/fetcharr/internal/storage"
	"github.com/jmylchreest/fetcharr/internal/store"
	"github.com/jmylchreest/fetcharr/internal/version"
	"github.com/jmylchreest/fetcharr/pkg/format"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fetcharr server",
	Long: `Start the fetcharr HTTP server and download engine.

The server provides:
- REST API for starting and managing downloads
- Range-capable streaming of finished MP4 files
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("downloads-dir", "downloads", "Directory holding download session files")

	// Bind flags to viper
	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("downloads.dir", serveCmd.Flags().Lookup("downloads-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Database holds the hot-swappable settings row only; session state
	// lives as JSON files next to the downloads.
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	settingsRepo := repository.NewSettingsRepository(db.DB, settingsDefaults(cfg))
	settings, err := settingsRepo.Get(context.Background())
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	// Clean scratch left by an unclean shutdown before the store loads.
	scratchRemoved, err := startup.CleanupScratchFiles(logger, cfg.Downloads.Dir)
	if err != nil {
		logger.Warn("failed to clean scratch files", slog.String("error", err.Error()))
	} else if scratchRemoved > 0 {
		logger.Info("cleaned orphaned scratch files on startup", slog.Int("removed_count", scratchRemoved))
	}

	sandbox, err := storage.NewSandbox(cfg.Downloads.Dir)
	if err != nil {
		return fmt.Errorf("initializing downloads sandbox: %w", err)
	}

	sessionStore := store.New(sandbox, logger)
	if err := sessionStore.Reconcile(); err != nil {
		return fmt.Errorf("reconciling sessions: %w", err)
	}

	// Segment client: the fetcher owns the retry envelope, so client-level
	// retries stay off.
	segmentClientCfg := httpclient.DefaultConfig()
	segmentClientCfg.Timeout = cfg.Downloads.SegmentTimeout.Duration()
	segmentClientCfg.RetryAttempts = 0
	segmentClientCfg.Logger = logger
	segmentClient := httpclient.New(segmentClientCfg)

	playlistClientCfg := httpclient.DefaultConfig()
	playlistClientCfg.Timeout = cfg.Downloads.PlaylistTimeout.Duration()
	playlistClientCfg.Logger = logger
	playlistClient := httpclient.New(playlistClientCfg)

	upstreamClientCfg := httpclient.DefaultConfig()
	upstreamClientCfg.Logger = logger
	upstreamClient := httpclient.New(upstreamClientCfg)

	fetcher := engine.NewFetcher(segmentClient, sandbox, engine.FetcherConfig{
		MaxAttempts:    cfg.Downloads.MaxRetries,
		AttemptTimeout: cfg.Downloads.SegmentTimeout.Duration(),
		MinSegmentSize: cfg.Downloads.MinSegmentSize.Bytes(),
	}, logger)
	driver := engine.NewDriver(fetcher, cfg.Downloads.MaxConcurrentSegments, logger)
	parser := hls.NewParser(playlistClient, logger)
	remuxer := ffmpeg.NewRemuxer(cfg.FFmpeg.BinaryPath, logger)
	upstream := jellyfin.NewClient(cfg.Jellyfin, upstreamClient, logger)

	guard := retention.NewServeGuard()
	sweeper, err := retention.New(sessionStore, settingsPolicy{repo: settingsRepo}, guard,
		cfg.Retention.SweepSchedule, logger)
	if err != nil {
		return fmt.Errorf("initializing retention sweeper: %w", err)
	}

	scheduler := engine.NewScheduler(sessionStore, parser, driver, remuxer, sweeper,
		settings.MaxConcurrentDownloads, logger)

	// Boot sweep plus the recurring schedule.
	sweeper.Start()
	defer sweeper.Stop()
	logger.Info("retention sweeper started",
		slog.String("schedule", format.CronDescription(cfg.Retention.SweepSchedule)),
	)

	// Initialize HTTP server
	serverConfig := internalhttp.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	serverConfig.CORSOrigins = cfg.Server.CORSOrigins
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	// Register OpenAPI docs handler
	docsHandler := handlers.NewDocsHandler("fetcharr API", "/openapi.yaml")
	server.Router().Get("/docs", docsHandler.ServeHTTP)

	// Register handlers
	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithScheduler(scheduler).
		WithRemuxer(remuxer).
		WithDownloadsDir(cfg.Downloads.Dir)
	healthHandler.Register(server.API())

	downloadHandler := handlers.NewDownloadHandler(scheduler, upstream, logger)
	downloadHandler.Register(server.API())

	streamHandler := handlers.NewStreamHandler(sessionStore, guard, logger)
	streamHandler.Register(server.API())
	streamHandler.RegisterChiRoutes(server.Router())

	retentionHandler := handlers.NewRetentionHandler(sweeper)
	retentionHandler.Register(server.API())

	presetHandler := handlers.NewPresetHandler()
	presetHandler.Register(server.API())

	settingsHandler := handlers.NewSettingsHandler(settingsRepo, scheduler, logger)
	settingsHandler.Register(server.API())

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting fetcharr server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
		slog.String("downloads_dir", cfg.Downloads.Dir),
		slog.Int("max_concurrent_downloads", settings.MaxConcurrentDownloads),
	)

	serveErr := server.ListenAndServe(ctx)

	// Drain workers after the HTTP surface stops; interrupted downloads
	// stay persisted as downloading and are reconciled on next boot.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown incomplete", slog.String("error", err.Error()))
	}

	return serveErr
}

// settingsDefaults builds the seed row for first boot from file/env config.
func settingsDefaults(cfg *config.Config) models.Settings {
	defaults := models.Settings{
		MaxConcurrentDownloads: cfg.Downloads.MaxConcurrentDownloads,
	}
	if cfg.Downloads.DefaultRetentionDays > 0 {
		days := cfg.Downloads.DefaultRetentionDays
		defaults.DefaultRetentionDays = &days
	}
	return defaults
}

// settingsPolicy adapts the settings repository to the retention sweeper's
// policy interface so global default changes apply on the next sweep.
type settingsPolicy struct {
	repo repository.SettingsRepository
}

func (p settingsPolicy) GlobalRetentionDays() int {
	settings, err := p.repo.Get(context.Background())
	if err != nil {
		return 0
	}
	return settings.EffectiveRetentionDays()
}
