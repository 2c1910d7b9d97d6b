package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/scry-jobs/internal/api"
	"github.com/phrazzld/scry-jobs/internal/backoff"
	"github.com/phrazzld/scry-jobs/internal/config"
	"github.com/phrazzld/scry-jobs/internal/events"
	"github.com/phrazzld/scry-jobs/internal/gate"
	"github.com/phrazzld/scry-jobs/internal/handlers"
	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/phrazzld/scry-jobs/internal/platform/tracing"
	"github.com/phrazzld/scry-jobs/internal/redact"
	"golang.org/x/sync/errgroup"
)

// application holds the wired dependencies of one process.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	store        jobStore
	registry     *job.Registry
	gates        *gate.Set
	emitter      *events.InMemoryEventEmitter
	orchestrator *job.Orchestrator

	shutdownTracing tracing.ShutdownFunc
}

// newApplication opens the database and wires the orchestrator. The caller
// must call cleanup once done, also when an error is returned.
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: log}

	var err error
	app.db, err = openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return app, err
	}
	app.store = newJobStore(app.db, cfg)

	app.registry, err = handlers.NewRegistry()
	if err != nil {
		return app, fmt.Errorf("failed to build handler registry: %w", err)
	}

	app.gates, err = gate.NewSet(map[string]int{
		string(job.QueueScreenshot): cfg.Worker.ScreenshotPermits,
	})
	if err != nil {
		return app, fmt.Errorf("failed to create concurrency gates: %w", err)
	}

	tp, shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return app, fmt.Errorf("failed to set up tracing: %w", err)
	}
	app.shutdownTracing = shutdown

	app.emitter = events.NewInMemoryEventEmitter(log)
	app.emitter.RegisterHandler(events.NewLogHandler(log.With("component", "dispatch_events")))
	app.emitter.RegisterHandler(tracing.NewSpanHandler(tp))

	app.orchestrator = job.NewOrchestrator(app.store, app.registry,
		job.Config{
			BatchSize:          cfg.Worker.BatchSize,
			PollInterval:       cfg.Worker.PollInterval,
			MaxAttempts:        cfg.Worker.MaxAttempts,
			GateAcquireTimeout: cfg.Worker.GateAcquireTimeout,
			StoreWriteTimeout:  cfg.Worker.StoreWriteTimeout,
		},
		log,
		job.WithBackoff(backoff.New(cfg.Worker.BaseBackoff)),
		job.WithGates(app.gates),
		job.WithEmitter(app.emitter),
		job.WithPermanentFailureHandler(app.onPermanentFailure),
	)

	log.Info("application initialized",
		"worker_id", cfg.Worker.ID,
		"handlers", len(app.registry.Types()),
		"screenshot_permits", cfg.Worker.ScreenshotPermits)
	return app, nil
}

func (app *application) onPermanentFailure(j *job.Job, err error) {
	app.logger.Error("job failed permanently",
		"job_id", j.ID,
		"job_type", j.Type,
		"queue", j.Queue,
		"attempt", j.Attempt,
		"max_attempts", j.MaxAttempts,
		"error", redact.Error(err))
}

// runWorker polls queues until ctx is cancelled, serving the ops API
// alongside when it is enabled.
func (app *application) runWorker(ctx context.Context, queues []job.Queue) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.orchestrator.RunWorkers(gctx, queues, app.config.Worker.ID)
	})
	if app.config.Server.OpsPort > 0 {
		g.Go(func() error {
			return app.serveOps(gctx)
		})
	}

	return g.Wait()
}

// serveOps runs the ops HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func (app *application) serveOps(ctx context.Context) error {
	log := app.logger.With("component", "ops_api")
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.OpsPort),
		Handler:           api.NewRouter(api.NewOpsHandler(app.store, app.orchestrator, app.gates), log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting ops server", "port", app.config.Server.OpsPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.Worker.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown failed: %w", err)
	}
	log.Info("ops server stopped")
	return nil
}

// cleanup flushes traces and closes the database.
func (app *application) cleanup() {
	if app.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.config.Worker.ShutdownTimeout)
		if err := app.shutdownTracing(ctx); err != nil {
			app.logger.Error("failed to flush traces", "error", err)
		}
		cancel()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Debug("application shutdown completed")
}
