package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/retail-orders/internal/directory"
	"github.com/xenking/retail-orders/internal/domain/order"
	"github.com/xenking/retail-orders/internal/events"
	"github.com/xenking/retail-orders/internal/handler"
	"github.com/xenking/retail-orders/internal/repository"
	"github.com/xenking/retail-orders/pkg/health"
	"github.com/xenking/retail-orders/pkg/httpmiddleware"
)

const serviceName = "retail-orders"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool),
		health.WithThresholds(health.FailureThreshold, 2))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Order events. Without brokers orders are still placed, just not announced.
	var publisher order.Publisher = order.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		w, err := events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, m.TracerProvider())
		if err != nil {
			return errors.Wrap(err, "create kafka writer")
		}
		p := events.NewPublisher(w)
		defer func() {
			if err := p.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		}()
		publisher = p
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := events.BrokerCheck(cfg.Kafka.Brokers)(pingCtx); err != nil {
			lg.Warn("Kafka is not reachable yet, order events may be lost", zap.Error(err))
		}
		cancel()
		lg.Info("Publishing order events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	router := newRouter(ctx, cfg, routerDeps{
		pool:      pool,
		publisher: publisher,
		health:    healthSvc,
		logger:    lg,
		tracer:    m.TracerProvider(),
		meter:     m.MeterProvider(),
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           router,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

type routerDeps struct {
	pool      *pgxpool.Pool
	publisher order.Publisher
	health    *health.Health
	logger    *zap.Logger
	tracer    trace.TracerProvider
	meter     metric.MeterProvider
}

// newRouter wires repositories, domain services and HTTP handlers over pool.
func newRouter(ctx context.Context, cfg *Config, deps routerDeps) http.Handler {
	catalogRepo := repository.NewCatalogRepository(deps.pool)
	orderStore := repository.NewOrderStore(deps.pool)
	orderRepo := repository.NewOrderRepository(deps.pool)
	apikeyRepo := repository.NewAPIKeyRepository(deps.pool)
	dir := directory.NewClient(cfg.Directory.HRBaseURL, cfg.Directory.CRMBaseURL, cfg.Directory.Timeout)

	orderService := order.NewService(orderStore, dir,
		order.WithPublisher(deps.publisher),
		order.WithConflictRetries(cfg.Orders.ConflictRetries),
		order.WithCodeAttempts(cfg.Orders.CodeAttempts),
		order.WithPublishTimeout(cfg.Kafka.PublishTimeout),
		order.WithTelemetry(deps.tracer, deps.meter),
	)
	orderQueries := order.NewQueryService(orderRepo, dir)

	h := handler.NewHandler(catalogRepo, orderService, orderQueries)
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(deps.logger),
		httpmiddleware.Instrument(serviceName, deps.tracer, deps.meter),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	r.Get("/livez", deps.health.LiveEndpoint)
	r.Get("/readyz", deps.health.ReadyEndpoint)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(
			securityHandler.Middleware(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: handler.PrincipalKey,
			}),
		)
		h.RegisterRoutes(r)
	})
	return r
}
