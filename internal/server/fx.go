// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
	"github.com/JakeFAU/ipo-allotment-checker/internal/api"
	"github.com/JakeFAU/ipo-allotment-checker/internal/clock/system"
	"github.com/JakeFAU/ipo-allotment-checker/internal/config"
	"github.com/JakeFAU/ipo-allotment-checker/internal/engine"
	collyfetcher "github.com/JakeFAU/ipo-allotment-checker/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/ipo-allotment-checker/internal/fetcher/headless"
	"github.com/JakeFAU/ipo-allotment-checker/internal/hash/sha256"
	"github.com/JakeFAU/ipo-allotment-checker/internal/id/uuid"
	"github.com/JakeFAU/ipo-allotment-checker/internal/logging"
	"github.com/JakeFAU/ipo-allotment-checker/internal/metrics"
	"github.com/JakeFAU/ipo-allotment-checker/internal/normalize"
	"github.com/JakeFAU/ipo-allotment-checker/internal/policy/ratelimit"
	"github.com/JakeFAU/ipo-allotment-checker/internal/policy/simple"
	kafkapublisher "github.com/JakeFAU/ipo-allotment-checker/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/ipo-allotment-checker/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/ipo-allotment-checker/internal/publisher/pubsub"
	memorystorage "github.com/JakeFAU/ipo-allotment-checker/internal/storage/memory"
	pgstore "github.com/JakeFAU/ipo-allotment-checker/internal/storage/postgres"
	"github.com/JakeFAU/ipo-allotment-checker/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	service         *allotment.Service
	catalog         allotment.Catalog
	sweeper         *ratelimit.Governor
	redisClient     *redis.Client
	pgStore         *pgstore.Store
	headless        *headlessfetcher.Fetcher
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	kafkaClient     *kgo.Client
	tracerShutdown  func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("ratelimit_backend", cfg.RateLimit.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("postgres", cfg.Database.DSN != ""),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Service exposes the check service for one-shot callers such as the CLI.
func (a *App) Service() *allotment.Service {
	return a.service
}

// Catalog exposes the record store catalog.
func (a *App) Catalog() allotment.Catalog {
	return a.catalog
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and blocks until ctx is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.sweeper != nil {
		go a.sweeper.Run(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases infrastructure clients and flushes observability.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.kafkaClient != nil {
		a.kafkaClient.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.headless != nil {
		a.headless.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stdout/stderr for some platforms; nothing to do about it.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	logger = logging.WithService(logger, cfg.Application.ServiceName, cfg.Application.Version)
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.build(ctx); err != nil {
		// Release whatever was opened before the failure.
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Application.ServiceName,
		Version:     a.cfg.Application.Version,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	a.logger.Info("building application dependencies")
	clock := system.New()

	catalog, checks, err := a.setupRecordStore(ctx)
	if err != nil {
		return err
	}
	a.catalog = catalog

	governor, err := a.setupGovernor(ctx, clock)
	if err != nil {
		return err
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	fetchEngine, err := a.setupEngine()
	if err != nil {
		return err
	}

	a.service, err = allotment.NewService(allotment.Dependencies{
		Governor:  governor,
		Catalog:   catalog,
		Fetcher:   fetchEngine,
		Checks:    checks,
		Publisher: publisher,
		IDs:       uuid.New(),
		Clock:     clock,
		Logger:    a.logger.Named("service"),
	})
	if err != nil {
		return fmt.Errorf("service init failed: %w", err)
	}

	a.apiServer, err = api.NewServer(api.Dependencies{
		Checker: a.service,
		Catalog: catalog,
		Checks:  checks,
		Hasher:  sha256.New(a.cfg.Logging.ClientHashSalt),
		Clock:   clock,
		Logger:  a.logger.Named("api"),
	}, *a.cfg)
	if err != nil {
		return fmt.Errorf("api init failed: %w", err)
	}
	return nil
}

type recordStore interface {
	allotment.Catalog
	allotment.CheckLog
}

func (a *App) setupRecordStore(ctx context.Context) (allotment.Catalog, allotment.CheckLog, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no DSN specified for database, using in-memory record store seeded from config",
			zap.Int("registrars", len(a.cfg.Registrars)),
			zap.Int("ipos", len(a.cfg.IPOs)),
		)
		a.logRuleProblems(a.cfg.Registrars)
		return memorystorage.NewCatalog(a.cfg.Registrars, a.cfg.IPOs), memorystorage.NewCheckLog(), nil
	}

	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		ChecksTable:     a.cfg.Database.ChecksTable,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("record store init failed: %w", err)
	}
	a.pgStore = store
	if a.cfg.Database.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("record store schema failed: %w", err)
		}
	}
	a.logger.Info("postgres record store initialized", zap.String("checks_table", a.cfg.Database.ChecksTable))

	var rs recordStore = store
	if registrars, err := rs.ListRegistrars(ctx); err != nil {
		a.logger.Warn("registrar listing failed at startup", zap.Error(err))
	} else {
		a.logRuleProblems(registrars)
	}
	return rs, rs, nil
}

func (a *App) logRuleProblems(registrars []allotment.RegistrarProfile) {
	for _, r := range registrars {
		for _, problem := range normalize.ValidateRules(r) {
			a.logger.Warn("registrar selector will be skipped", zap.String("registrar", r.Slug), zap.Error(problem))
		}
	}
}

func (a *App) setupGovernor(ctx context.Context, clock allotment.Clock) (allotment.Governor, error) {
	rl := a.cfg.RateLimit
	if !rl.Enabled {
		a.logger.Info("rate governor disabled, admitting every request")
		return simple.New(rl.MaxRequests), nil
	}
	govCfg := ratelimit.GovernorConfig{
		Window:        a.cfg.RateWindow(),
		MaxRequests:   rl.MaxRequests,
		SweepInterval: a.cfg.SweepInterval(),
	}
	if rl.Backend == config.BackendRedis {
		client, err := ratelimit.Connect(ctx, ratelimit.RedisConfig{
			URL:         a.cfg.Redis.URL,
			PoolSize:    a.cfg.Redis.PoolSize,
			DialTimeout: a.cfg.Redis.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		a.redisClient = client
		a.logger.Info("redis rate governor enabled",
			zap.Duration("window", govCfg.Window),
			zap.Int("max_requests", govCfg.MaxRequests),
		)
		return ratelimit.NewRedisGovernor(client, govCfg, clock, rl.KeyPrefix), nil
	}

	governor := ratelimit.NewGovernor(govCfg, clock, a.logger.Named("governor"))
	a.sweeper = governor
	a.logger.Info("in-memory rate governor enabled",
		zap.Duration("window", govCfg.Window),
		zap.Int("max_requests", govCfg.MaxRequests),
		zap.Duration("sweep_interval", govCfg.SweepInterval),
	)
	return governor, nil
}

func (a *App) setupPublisher(ctx context.Context) (allotment.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		if len(a.cfg.Kafka.Brokers) > 0 {
			return a.setupKafkaPublisher(ctx)
		}
		a.logger.Warn("no Pub/Sub topic or Kafka brokers configured, using in-memory publisher")
		return memorypublisher.New(a.cfg.PubSub.TopicName), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = a.pubsubClient.Publisher(a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(a.pubsubPublisher), nil
}

func (a *App) setupKafkaPublisher(ctx context.Context) (allotment.Publisher, error) {
	client, err := kafkapublisher.Connect(ctx, kafkapublisher.Config{
		Brokers:  a.cfg.Kafka.Brokers,
		Topic:    a.cfg.Kafka.Topic,
		ClientID: a.cfg.Kafka.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka publisher init failed: %w", err)
	}
	a.kafkaClient = client
	a.logger.Info("Kafka publisher initialized",
		zap.Strings("brokers", a.cfg.Kafka.Brokers),
		zap.String("topic", a.cfg.Kafka.Topic),
	)
	return kafkapublisher.New(client, a.cfg.Kafka.Topic), nil
}

func (a *App) setupEngine() (*engine.Engine, error) {
	userAgent := ""
	if len(a.cfg.Fetch.UserAgents) > 0 {
		userAgent = a.cfg.Fetch.UserAgents[0]
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    userAgent,
		Timeout:      a.cfg.FetchTimeout(),
		MaxBodyBytes: a.cfg.Fetch.MaxBodyBytes,
	})
	opts := []engine.Option{engine.WithLogger(a.logger.Named("engine"))}

	if a.cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         userAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(a.cfg.Headless.SettleDelayMs) * time.Millisecond,
			ReadyTimeout:      time.Duration(a.cfg.Headless.ReadyTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = headless
		opts = append(opts, engine.WithHeadless(headless))
		a.logger.Info("using headless fetcher for render registrars", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}

	if a.cfg.Upstream.RPS > 0 {
		opts = append(opts, engine.WithUpstreamLimiter(ratelimit.NewUpstream(ratelimit.UpstreamConfig{
			RPS:   a.cfg.Upstream.RPS,
			Burst: a.cfg.Upstream.Burst,
		})))
		a.logger.Info("upstream limiter enabled",
			zap.Float64("rps", a.cfg.Upstream.RPS),
			zap.Int("burst", a.cfg.Upstream.Burst),
		)
	}

	return engine.New(engine.Config{
		Timeout:    a.cfg.FetchTimeout(),
		UserAgents: a.cfg.Fetch.UserAgents,
	}, fetcher, opts...), nil
}
