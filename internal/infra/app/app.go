package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
	"github.com/arklim/session-gate/internal/infra/config"
	"github.com/arklim/session-gate/internal/infra/database"
	kafkainfra "github.com/arklim/session-gate/internal/infra/kafka"
	"github.com/arklim/session-gate/internal/infra/logger"
	redisinfra "github.com/arklim/session-gate/internal/infra/redis"
	"github.com/arklim/session-gate/internal/infra/security"
	"github.com/arklim/session-gate/internal/infra/telemetry"
	"github.com/arklim/session-gate/internal/repository/memory"
	postgresrepo "github.com/arklim/session-gate/internal/repository/postgres"
	redisrepo "github.com/arklim/session-gate/internal/repository/redis"
	"github.com/arklim/session-gate/internal/transport/http/middleware"
	"github.com/arklim/session-gate/internal/transport/http/routes"
	"github.com/arklim/session-gate/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
}

// stores groups the persistence ports chosen by store.driver.
type stores struct {
	sessions  port.SessionRepository
	accounts  port.AccountRepository
	analytics port.AnalyticsLog
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	if err := a.init(ctx); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *Application) init(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, cfg.App.Env, log)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.tracer = tp
	}

	sessionMetrics, err := telemetry.NewSessionMetrics(telemetry.SessionMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return fmt.Errorf("init session metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}

	st, err := a.initStores(ctx)
	if err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		client, err := redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.redis = client
	}

	recorder := usecase.NewAnalyticsRecorder(st.analytics, a.initPublisher(), log)
	sessionService := usecase.NewSessionService(st.sessions, st.accounts, recorder,
		domain.NewLivenessPolicy(cfg.Session.InactivityTimeout), log).
		WithMetrics(sessionMetrics)

	if cfg.Admission.LockBackend == config.LockBackendRedis {
		sessionService.WithAccountLocker(redisrepo.NewAccountLockRepository(a.redis.Client(), redisrepo.AccountLockConfig{
			KeyPrefix: a.redis.Key("admission-lock"),
			TTL:       cfg.Admission.LockTTL,
			MaxWait:   cfg.Admission.LockWait,
		}))
		log.Info("using redis admission lock")
	}

	verifier, err := security.NewTokenVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		store := redisrepo.NewAttemptWindowRepository(a.redis.Client(), redisrepo.SlidingWindowConfig{
			KeyPrefix: a.redis.Key("rate-limit"),
		})
		rateLimiter = middleware.NewRateLimiter(store, log)
	}

	deps := routes.Dependencies{
		Config:        cfg,
		Logger:        log,
		Sessions:      sessionService,
		TokenVerifier: verifier,
		RateLimiter:   rateLimiter,
		HTTPMetrics:   httpMetrics,
		Gatherer:      prometheus.DefaultGatherer,
	}
	if a.tracer != nil {
		deps.TracerProvider = a.tracer.TracerProvider()
	}
	if a.pool != nil {
		deps.Database = a.pool
	}
	if a.redis != nil {
		deps.Cache = a.redis
	}
	a.engine = routes.Register(deps)

	return nil
}

func (a *Application) initStores(ctx context.Context) (stores, error) {
	cfg, log := a.cfg, a.logger

	if cfg.Store.Driver == config.StoreDriverMemory {
		store := memory.NewStore()
		for _, seed := range cfg.Store.Accounts {
			store.PutAccount(domain.Account{ID: seed.ID, Name: seed.Name, MaxConcurrentUsers: seed.MaxConcurrentUsers})
		}
		log.Warn("using in-memory session store; state is lost on restart",
			zap.Int("seeded_accounts", len(cfg.Store.Accounts)),
		)
		return stores{sessions: store.Sessions(), accounts: store.Accounts(), analytics: store.Analytics()}, nil
	}

	if cfg.Postgres.AutoMigrate {
		if err := migrateUp(cfg.Postgres, log); err != nil {
			return stores{}, err
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return stores{}, fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool

	repos := postgresrepo.NewRepositories(pool)
	return stores{sessions: repos.Sessions, accounts: repos.Accounts, analytics: repos.Analytics}, nil
}

func migrateUp(cfg config.PostgresSettings, log *zap.Logger) error {
	m, err := database.NewMigrator(cfg, log)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("close migrator", zap.Error(err))
		}
	}()
	if err := m.Up(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// initPublisher falls back to the stub publisher when Kafka is disabled or unreachable.
func (a *Application) initPublisher() port.EventPublisher {
	cfg, log := a.cfg, a.logger

	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka disabled, using stub publisher")
		return kafkainfra.NewStubPublisher(log)
	}

	producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
	if err != nil {
		log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(log)
	}
	a.producer = producer
	return kafkainfra.NewEventPublisher(producer, cfg.App, log)
}

// Handler exposes the configured HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.engine
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting session gate API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("store", a.cfg.Store.Driver),
		zap.String("lock_backend", a.cfg.Admission.LockBackend),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down session gate API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// close releases infrastructure in reverse dependency order. Safe on a partially built Application.
func (a *Application) close(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
}
