package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"github.com/a3tai/pdf-field-mapper/internal/config"
	"github.com/a3tai/pdf-field-mapper/internal/httpapi"
	"github.com/a3tai/pdf-field-mapper/internal/logging"
	"github.com/a3tai/pdf-field-mapper/internal/mapper"
	"github.com/a3tai/pdf-field-mapper/internal/mcp"
	"github.com/a3tai/pdf-field-mapper/internal/pdf"
	"github.com/a3tai/pdf-field-mapper/internal/session"
	"github.com/a3tai/pdf-field-mapper/internal/store"
	"github.com/a3tai/pdf-field-mapper/internal/transfer"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// how often idle HTTP sessions are swept
const sessionSweepInterval = 5 * time.Minute

// newLogger configures logging based on the server mode. In stdio mode stdout carries the MCP
// protocol, so logs go to stderr and only when debug is enabled.
func newLogger(cfg *config.Config) (logging.Logger, error) {
	if cfg.IsStdioMode() && !cfg.IsDebug() {
		return logging.Nop(), nil
	}
	return logging.New(cfg.LogLevel)
}

// app holds the long-lived components shared by both modes
type app struct {
	mapper  *mapper.Mapper
	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// buildApp opens the field store, the template and the optional publisher
func buildApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*app, error) {
	a := &app{}

	backend, err := store.OpenBackend(cfg.Store, cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	fields, err := store.New(ctx, cfg.StorageKey, backend, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to load field store: %w", err)
	}
	a.closers = append(a.closers, fields)

	files, err := pdf.NewService(cfg.MaxFileSize, cfg.Directory, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	tmpl, err := files.OpenTemplate(cfg.TemplatePath())
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	preview, err := pdf.NewPreview(tmpl, fields, pdf.DefaultPreviewCacheBytes)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closerFunc(func() error { preview.Close(); return nil }))

	var publisher transfer.Publisher
	if cfg.PublishingEnabled() {
		client, err := storage.NewClient(ctx)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.closers = append(a.closers, client)

		gcs, err := transfer.NewGCSPublisher(client, cfg.GCSBucket, cfg.GCSObject, false, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		publisher = gcs
	}

	m, err := mapper.New(mapper.Deps{
		Store:         fields,
		Template:      tmpl,
		Files:         files,
		Preview:       preview,
		Publisher:     publisher,
		Logger:        logger,
		TemplateName:  cfg.Template,
		ViewerOptions: cfg.ViewerOptions(),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.mapper = m

	logger.Infow("field mapper ready",
		"template", tmpl.Path(), "pages", tmpl.PageCount(),
		"store", cfg.Store, "fields", fields.Count(), "publishing", cfg.PublishingEnabled())
	return a, nil
}

// runServerMode serves HTTP and sweeps idle sessions until ctx is canceled
func runServerMode(ctx context.Context, cfg *config.Config, a *app, logger logging.Logger) error {
	sessions := session.NewRegistry(a.mapper.NewViewer, session.DefaultIdleTTL, logger)
	api := httpapi.NewServer(a.mapper, sessions, httpapi.Options{
		Addr:           cfg.Address(),
		AllowedOrigins: cfg.CORSOrigins,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Run(gctx)
	})
	g.Go(func() error {
		return sessions.Run(gctx, sessionSweepInterval)
	})
	return g.Wait()
}

// runStdioMode serves MCP over stdio; the parent process controls our lifecycle
func runStdioMode(ctx context.Context, cfg *config.Config, a *app, logger logging.Logger) error {
	server, err := mcp.NewServer(cfg, a.mapper, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return server.Run(ctx)
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnw("shutdown left errors", "error", err)
		}
	}()

	if cfg.IsServerMode() {
		return runServerMode(ctx, cfg, a, logger)
	}
	return runStdioMode(ctx, cfg, a, logger)
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Set version if it was provided during build
	if version != "dev" {
		cfg.Version = version
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if cfg.IsServerMode() {
		logger.Debugw("starting", "config", cfg.String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Errorw("field mapper stopped", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Infow("field mapper stopped")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("PDF Field Mapper\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
