package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/grandcat/zeroconf"

	"github.com/andresaa/api-examen-conduccion/internal/config"
	"github.com/andresaa/api-examen-conduccion/internal/docstore"
	"github.com/andresaa/api-examen-conduccion/internal/events"
	"github.com/andresaa/api-examen-conduccion/internal/obs"
	"github.com/andresaa/api-examen-conduccion/internal/seed"
	"github.com/andresaa/api-examen-conduccion/internal/submission"
)

// App wires together the consultant services and manages their lifecycle.
type App struct {
	cfg       config.Config
	logger    *slog.Logger
	variant   submission.Variant
	model     submission.DataModel
	store     *docstore.Memory
	recorder  *submission.Recorder
	publisher events.Publisher
	metrics   *obs.Metrics
	token     string
	mdns      *zeroconf.Server
	started   time.Time
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger,
		variant:   submission.Variant(cfg.APIVariant),
		model:     submission.DataModel(cfg.DataModel),
		publisher: events.Noop{},
		metrics:   obs.NewMetrics(),
		started:   time.Now(),
	}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	shutdownTracer, err := obs.InitTracer(ctx, a.cfg.ServiceName, a.cfg.OTELEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			a.logger.Error("tracer shutdown", "error", err)
		}
	}()

	store, err := docstore.OpenDriver(ctx, docstore.Options{
		Driver:      docstore.Driver(a.cfg.StorageDriver),
		FilePath:    a.cfg.DataPath,
		SQLitePath:  a.cfg.SQLitePath,
		PostgresDSN: a.cfg.PostgresDSN,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()
	a.logger.Info("document store opened", "driver", a.cfg.StorageDriver)

	if err := a.seed(ctx, store); err != nil {
		return err
	}

	publisher, err := events.New(events.Options{
		Driver:       a.cfg.EventsDriver,
		MQTTBroker:   a.cfg.MQTTBroker,
		MQTTTopic:    a.cfg.MQTTTopic,
		AMQPURL:      a.cfg.AMQPURL,
		AMQPExchange: a.cfg.AMQPExchange,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	a.publisher = publisher
	defer func() {
		if cerr := a.publisher.Close(); cerr != nil {
			a.logger.Error("close event publisher", "error", cerr)
		}
	}()

	if err := a.attach(ctx, store); err != nil {
		return err
	}

	errCh := make(chan error, 2)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr, "variant", a.variant, "data_model", a.model)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if a.cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("metrics server started", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.cfg.MDNSEnabled {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
	}
	defer a.stopMDNS()

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	}

	select {
	case <-ctx.Done():
		if err := shutdown(); err != nil {
			return err
		}
		a.logger.Info("http server stopped")
		return nil
	case err := <-errCh:
		_ = shutdown()
		return err
	}
}

// seed imports the configured dataset when the store starts out empty.
func (a *App) seed(ctx context.Context, store *docstore.Memory) error {
	if a.cfg.SeedSource == "" || !store.Empty() {
		return nil
	}

	src, err := seed.Resolve(ctx, a.cfg.SeedSource, seed.S3Config{
		Region:    a.cfg.S3Region,
		Endpoint:  a.cfg.S3Endpoint,
		PathStyle: a.cfg.S3PathStyle,
	})
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	ds, err := seed.Load(ctx, src)
	if errors.Is(err, seed.ErrNoSource) {
		a.logger.Warn("seed source not found, starting empty", "source", src.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	applied, err := seed.ApplyIfEmpty(ctx, store, ds)
	if err != nil {
		return err
	}
	if applied {
		a.logger.Info("seed dataset imported",
			"source", src.String(),
			"size", humanize.Bytes(uint64(ds.Size)),
			"documents", ds.Documents(),
		)
	}
	return nil
}

// attach builds the submission components on top of an opened store.
func (a *App) attach(ctx context.Context, store *docstore.Memory) error {
	dir, err := submission.NewDirectory(a.model, store)
	if err != nil {
		return err
	}
	seq, err := submission.LoadSequence(ctx, store)
	if err != nil {
		return err
	}
	token, err := mockToken(a.cfg.TokenSecret)
	if err != nil {
		return fmt.Errorf("sign login token: %w", err)
	}

	a.store = store
	a.token = token
	a.recorder = submission.NewRecorder(store, dir, seq, a.logger,
		submission.WithPublisher(a.publisher),
		submission.WithObserver(a.metrics),
	)
	return nil
}
