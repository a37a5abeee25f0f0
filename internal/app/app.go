// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/api"
	"github.com/scoutlab/scholarhunt/internal/clock/system"
	"github.com/scoutlab/scholarhunt/internal/config"
	"github.com/scoutlab/scholarhunt/internal/coordinator"
	"github.com/scoutlab/scholarhunt/internal/history"
	"github.com/scoutlab/scholarhunt/internal/hunter"
	"github.com/scoutlab/scholarhunt/internal/id/token"
	"github.com/scoutlab/scholarhunt/internal/inquiry"
	"github.com/scoutlab/scholarhunt/internal/linkcheck"
	"github.com/scoutlab/scholarhunt/internal/logging"
	"github.com/scoutlab/scholarhunt/internal/metrics"
	"github.com/scoutlab/scholarhunt/internal/pipeline"
	"github.com/scoutlab/scholarhunt/internal/probe"
	"github.com/scoutlab/scholarhunt/internal/report"
	"github.com/scoutlab/scholarhunt/internal/scrape"
	"github.com/scoutlab/scholarhunt/internal/verify"
)

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and passed to the commands that need it.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	coord   *coordinator.Coordinator
	history *history.Store
	runner  *pipeline.Runner
	server  *api.Server
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger instance.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Coordinator exposes the run lock and queue.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// History exposes the posting history store.
func (a *App) History() *history.Store {
	return a.history
}

// Runner executes discovery runs under the coordinator lock.
func (a *App) Runner() *pipeline.Runner {
	return a.runner
}

// Server returns the dashboard HTTP server.
func (a *App) Server() *api.Server {
	return a.server
}

// NewApp loads configuration and wires every service the commands need.
// It is the central point for service initialization and fails fast when
// any critical piece cannot be built.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.Info("initializing services",
		zap.Int("sources", len(cfg.Sources)),
		zap.Bool("oracle", cfg.Oracle.Enabled),
		zap.Bool("smtp", cfg.SMTP.Enabled))

	metrics.Init()

	clock := system.New()
	idGen := token.New()

	coord, err := coordinator.New(
		cfg.State.Dir,
		cfg.State.LockFile,
		cfg.State.QueueFile,
		cfg.State.JobsDir,
		cfg.LockTTL(),
		clock, idGen, logger,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize coordinator: %w", err)
	}

	store := history.Open(cfg.HistoryPath(), clock, logger)

	prober := probe.New(probe.Config{
		UserAgent:    cfg.Probe.UserAgent,
		Timeout:      cfg.ProbeTimeout(),
		MaxBodyBytes: cfg.Probe.MaxBodyBytes,
	})
	links := linkcheck.New(linkcheck.Config{
		Timeout:     time.Duration(cfg.LinkCheck.TimeoutSeconds) * time.Second,
		Concurrency: cfg.LinkCheck.Concurrency,
		UserAgent:   cfg.Probe.UserAgent,
		RPS:         cfg.LinkCheck.RPS,
		Burst:       cfg.LinkCheck.Burst,
	}, logger)

	var oracle hunter.RelevanceOracle
	if cfg.Oracle.Enabled {
		oracle = verify.New(verify.Config{
			BaseURL:   cfg.Oracle.Endpoint,
			APIKey:    cfg.Oracle.APIKey,
			Model:     cfg.Oracle.Model,
			BatchSize: cfg.Oracle.BatchSize,
		}, logger)
	}

	var mailer hunter.Mailer
	if cfg.SMTP.Enabled {
		mailer = report.NewSMTPMailer(cfg.SMTP, logger)
	} else {
		mailer = report.NewNopMailer(logger)
	}

	pipe := &pipeline.Pipeline{
		Sources:    scrape.FromConfig(cfg.Sources, cfg.Probe.UserAgent, cfg.ProbeTimeout(), clock, logger),
		Faculty:    scrape.FromConfig(cfg.Faculty, cfg.Probe.UserAgent, cfg.ProbeTimeout(), clock, logger),
		History:    store,
		Prober:     prober,
		Links:      links,
		Oracle:     oracle,
		Mailer:     mailer,
		Detector:   inquiry.New(),
		Clock:      clock,
		Logger:     logger,
		Categories: cfg.Keywords,
	}

	runner := &pipeline.Runner{
		Coord:               coord,
		Pipe:                pipe,
		IDGen:               idGen,
		Clock:               clock,
		Logger:              logger,
		DefaultPositionType: hunter.PositionType(cfg.Run.DefaultPositionType),
	}

	server := api.NewServer(coord, runner, idGen, cfg, logger)

	logger.Info("services initialized")

	return &App{
		cfg:     cfg,
		logger:  logger,
		coord:   coord,
		history: store,
		runner:  runner,
		server:  server,
	}, nil
}

// Close flushes the logger. Called by a Cobra hook after the command
// finishes execution.
func (a *App) Close() {
	if err := a.logger.Sync(); err != nil {
		// Best effort; stderr sync commonly fails on some platforms.
		_ = err
	}
}
