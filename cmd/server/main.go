package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-secure-stdlib/base62"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sifan077/TempLogin/config"
	appmodel "github.com/sifan077/TempLogin/internal/app/model"
	apprepository "github.com/sifan077/TempLogin/internal/app/repository"
	appserver "github.com/sifan077/TempLogin/internal/app/server"
	appservice "github.com/sifan077/TempLogin/internal/app/service"
	"github.com/sifan077/TempLogin/internal/app/token"
	"github.com/sifan077/TempLogin/internal/infra/logger"
	infraNATS "github.com/sifan077/TempLogin/internal/infra/nats"
	infraPostgres "github.com/sifan077/TempLogin/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/TempLogin/internal/infra/prometheus"
	infraRedis "github.com/sifan077/TempLogin/internal/infra/redis"
	infraSQLite "github.com/sifan077/TempLogin/internal/infra/sqlite"
)

const (
	shutdownTimeout     = 15 * time.Second
	generatedSecretSize = 43
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is configured from the config file, so fall back to a bare one.
		logger.MustInit(logger.Config{Development: true}).Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.MustInit(logger.Config{
		Development: cfg.Log.Development,
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		Service:     "templogin",
	})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Configuration loaded successfully",
		zap.String("addr", cfg.Server.Addr),
		zap.String("database_driver", cfg.Database.Driver),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.Duration("default_duration", cfg.Issuance.DefaultDuration),
		zap.Int("default_max_accesses", cfg.Issuance.DefaultMaxAccesses),
		zap.Duration("sweep_interval", cfg.Sweep.Interval),
	)

	gormDB, pool, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()
	if pool != nil {
		defer pool.Close()
	}

	if err := infraPostgres.AutoMigrate(ctx, gormDB, &appmodel.Link{}, &appmodel.AccessLogEntry{}); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}
	log.Info("Database ready", zap.String("driver", cfg.Database.Driver))

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		log.Info("Connected to Redis successfully")
	} else {
		log.Info("Redis disabled; login rate limiting is off")
	}

	var (
		natsConn *nats.Conn
		js       nats.JetStreamContext
	)
	if cfg.NATS.Enabled {
		natsConn, js, err = infraNATS.Connect(cfg.NATS)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Drain()

		if err := infraNATS.EnsureStream(js, &nats.StreamConfig{
			Name:     appmodel.LinkStreamName,
			Subjects: []string{appmodel.LinkStreamSubjects},
			MaxBytes: appmodel.LinkStreamMaxBytes,
		}); err != nil {
			log.Fatal("Failed to ensure link event stream", zap.Error(err))
		}
		log.Info("Connected to NATS successfully")
	} else {
		log.Info("NATS disabled; access log is written synchronously and link events are logged")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infraPrometheus.NewMetrics(registry)

	promServer := infraPrometheus.NewServer(cfg.Prometheus, registry)
	go func() {
		log.Info("Starting Prometheus metrics server", zap.String("addr", promServer.Addr))
		if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
		}
	}()
	defer func() {
		if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Failed to close Prometheus server", zap.Error(err))
		}
	}()

	linkRepo := apprepository.NewLinkRepository(gormDB)
	accessLogRepo := apprepository.NewAccessLogRepository(gormDB)
	codec := token.NewCodec()

	var (
		notifier  appservice.Notifier
		accessLog appservice.AccessLog
	)
	if js != nil {
		notifier = appservice.NewEventPublisher(js, log.Named("events"))
		accessLog = appservice.NewJetStreamAccessLog(js)

		consumer := appservice.NewAccessLogConsumer(js, log.Named("access-log"), accessLogRepo)
		if err := consumer.Start(ctx); err != nil {
			log.Fatal("Failed to start access log consumer", zap.Error(err))
		}
		defer func() { <-consumer.Done() }()
	} else {
		notifier = appservice.NewLogNotifier(log.Named("events"))
		accessLog = appservice.NewRepositoryAccessLog(accessLogRepo)
	}

	linkService := appservice.NewLinkService(appservice.LinkServiceDeps{
		Links:    linkRepo,
		Codec:    codec,
		Notifier: notifier,
		Metrics:  metrics,
		Logger:   log.Named("links"),
		Defaults: appservice.IssuanceDefaults{
			Duration:    cfg.Issuance.DefaultDuration,
			MaxAccesses: cfg.Issuance.DefaultMaxAccesses,
		},
		SweepBatchSize: cfg.Sweep.BatchSize,
	})
	accessService := appservice.NewAccessService(appservice.AccessServiceDeps{
		Links:     linkRepo,
		Codec:     codec,
		AccessLog: accessLog,
		Metrics:   metrics,
		Logger:    log.Named("access"),
	})

	sweeper := appservice.NewExpirySweeper(log.Named("sweeper"), linkService, cfg.Sweep.Interval)
	sweeper.Start()
	defer sweeper.Stop()

	secret := []byte(cfg.Server.ConfirmSecret)
	if len(secret) == 0 {
		generated, err := base62.Random(generatedSecretSize)
		if err != nil {
			log.Fatal("Failed to generate confirm secret", zap.Error(err))
		}
		secret = []byte(generated)
		log.Warn("server.confirm_secret is empty; using a per-process secret, pending confirm links break on restart")
	}
	if cfg.Server.AdminKey == "" {
		log.Warn("server.admin_key is empty; the admin API answers 503")
	}

	server := appserver.New(appserver.Dependencies{
		Logger:     log,
		Config:     cfg.Server,
		Postgres:   pool,
		Redis:      redisClient,
		DB:         gormDB,
		Links:      linkService,
		Access:     accessService,
		AccessLogs: accessLogRepo,
		Secret:     secret,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
		errCh <- server.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Fiber server exited", zap.Error(err))
		}
		stop()
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shut down HTTP server cleanly", zap.Error(err))
	}
}

// openDatabase returns the GORM handle for the configured driver. The pgx pool is only
// opened for Postgres and serves the health check.
func openDatabase(ctx context.Context, cfg *config.Config) (*gorm.DB, *pgxpool.Pool, error) {
	if cfg.Database.Driver == config.DriverSQLite {
		db, err := infraSQLite.NewGorm(cfg.SQLite.Path)
		return db, nil, err
	}

	db, err := infraPostgres.NewGorm(cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, nil, err
	}
	return db, pool, nil
}
