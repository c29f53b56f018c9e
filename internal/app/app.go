package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"headcount/internal/config"
	"headcount/internal/logger"
	"headcount/internal/metrics"
	"headcount/internal/pipeline"
	"headcount/internal/repository/sqlite"
	"headcount/internal/route"
	"headcount/internal/service"
	"headcount/internal/service/ai"
	"headcount/internal/service/events"
	"headcount/internal/service/modelstore"
	"headcount/internal/service/storage"
	"headcount/internal/service/websocket"
	"headcount/internal/tracing"
	"headcount/internal/video"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	config          *config.Config
	logger          *logger.Logger
	tracerProvider  *sdktrace.TracerProvider
	detectorService *ai.DetectorService
	uploadService   *storage.UploadService
	hubService      *websocket.HubService
	publisher       *events.Publisher
	database        *sqlite.DB
	manager         *service.Manager
}

// NewApp builds every service. A missing or unreadable model is fatal; the
// broker is optional and skipped when AMQP_URL is empty.
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{config: cfg, logger: log}

	tp, err := tracing.InitTracer(ctx, cfg.TracingEndpoint)
	if err != nil {
		return nil, err
	}
	a.tracerProvider = tp

	if err := modelstore.Fetch(ctx, cfg, log); err != nil {
		a.Close()
		return nil, fmt.Errorf("fetch model: %w", err)
	}

	a.detectorService, err = ai.NewDetectorService(cfg, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load detector: %w", err)
	}

	opener, err := video.NewOpener(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.uploadService, err = storage.NewUploadService(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.hubService = websocket.NewHubService(log)
	opts := []service.ManagerOption{service.WithBroadcaster(a.hubService)}

	if cfg.DatabasePath != "" {
		a.database, err = sqlite.New(cfg.DatabasePath)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, service.WithHistory(sqlite.NewRunRepository(a.database), sqlite.NewFrameRepository(a.database)))
	} else {
		log.Warning("DATABASE_PATH is empty, run history is disabled")
	}
	if cfg.AMQPURL != "" {
		a.publisher, err = events.Dial(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			log.Warning("Result publishing disabled: %v", err)
		} else {
			opts = append(opts, service.WithPublisher(a.publisher))
		}
	}

	policy, err := pipeline.ParseFailurePolicy(cfg.DetectionFailurePolicy)
	if err != nil {
		a.Close()
		return nil, err
	}
	runner := pipeline.NewRunner(a.uploadService, opener, a.detectorService, pipeline.RunnerConfig{
		FrameLimit:  cfg.FrameLimit,
		TargetLabel: cfg.TargetLabel,
		Policy:      policy,
		Timeout:     cfg.RunTimeout,
	}, log)
	a.manager = service.NewManager(runner, cfg, log, opts...)

	return a, nil
}

// Manager is the run coordinator used by the HTTP layer and the CLI.
func (a *App) Manager() *service.Manager {
	return a.manager
}

// Run serves HTTP and metrics until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	router := route.SetupRoutes(route.Services{
		Analyzer:      a.manager,
		History:       a.manager,
		Hub:           a.hubService,
		ActiveUploads: a.uploadService.Active,
	}, a.config, a.logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if a.config.MetricsPort > 0 {
		metricsServer = metrics.StartMetricsServer(a.config.MetricsPort, a.logger.Zap())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.uploadService.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.hubService.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("Headcount server listening on :%d (model %s, %s decoder)",
			a.config.Port, a.config.ModelFormat, a.config.DecoderBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if metricsServer != nil {
			err = multierr.Append(err, metricsServer.Shutdown(shutdownCtx))
		}
		return err
	})

	return g.Wait()
}

// Close releases the detector, database, broker connection and tracer.
func (a *App) Close() error {
	var err error
	if a.publisher != nil {
		err = multierr.Append(err, a.publisher.Close())
	}
	if a.database != nil {
		err = multierr.Append(err, a.database.Close())
	}
	if a.detectorService != nil {
		err = multierr.Append(err, a.detectorService.Close())
	}
	if a.tracerProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, a.tracerProvider.Shutdown(ctx))
	}
	return err
}
