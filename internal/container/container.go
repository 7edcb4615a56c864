package container

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"csfdsync/internal/config"
	"csfdsync/internal/logger"
	"csfdsync/internal/notify"
	"csfdsync/internal/repository"
	"csfdsync/internal/scraper"
	"csfdsync/internal/services"
)

type Container struct {
	Config *config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Logger *logrus.Logger

	Ratings repository.RatingRepository
	State   repository.StateStore

	Site    *scraper.Site
	Fetcher *scraper.Fetcher

	Loader     *services.Loader
	Reconciler *services.Reconciler
	Cloud      *services.CloudClient
	Syncer     *services.Syncer
}

func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	// Initialize logger first
	log := logger.Get()

	db, err := newDatabase(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	redisClient, err := newRedis(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	ratings, err := repository.NewPostgresRepository(ctx, db)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, fmt.Errorf("failed to initialize ratings repository: %w", err)
	}

	state := repository.NewRedisStateStore(redisClient)
	notifier := notify.NewRedisNotifier(redisClient, cfg.NotifyChannel, log)

	site := scraper.NewSite(cfg.SiteBaseURL)
	fetcher := scraper.NewFetcher(scraper.FetcherConfig{
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.RequestTimeout,
		MinInterval: cfg.RequestDelayMin,
		Logger:      log,
	})

	cloud := services.NewCloudClient(services.CloudClientConfig{
		BaseURL: cfg.CloudBaseURL,
		AnonKey: cfg.CloudAnonKey,
		Timeout: cfg.RequestTimeout,
		Logger:  log,
	})

	return &Container{
		Config:  cfg,
		DB:      db,
		Redis:   redisClient,
		Logger:  log,
		Ratings: ratings,
		State:   state,
		Site:    site,
		Fetcher: fetcher,
		Loader: services.NewLoader(services.LoaderConfig{
			Repo:     ratings,
			State:    state,
			Fetcher:  fetcher,
			Site:     site,
			Notifier: notifier,
			Logger:   log,
			PerPage:  cfg.RatingsPerPage,
			DelayMin: cfg.RequestDelayMin,
			DelayMax: cfg.RequestDelayMax,
		}),
		Reconciler: services.NewReconciler(services.ReconcilerConfig{
			Repo:     ratings,
			Fetcher:  fetcher,
			Site:     site,
			Notifier: notifier,
			Logger:   log,
		}),
		Cloud: cloud,
		Syncer: services.NewSyncer(services.SyncerConfig{
			Repo:     ratings,
			Cloud:    cloud,
			Notifier: notifier,
			Logger:   log,
		}),
	}, nil
}

func (c *Container) Close() {
	if c.Redis != nil {
		c.Redis.Close()
		c.Logger.Info("Redis connection closed")
	}
	if c.DB != nil {
		c.DB.Close()
		c.Logger.Info("Database connection closed")
	}
}

func newDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseHost == "" || cfg.DatabasePort == "" || cfg.DatabaseUser == "" || cfg.DatabaseName == "" {
		return nil, fmt.Errorf("missing required database configuration")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Get().Info("Database connection successful")
	return pool, nil
}

func newRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Get().Info("Redis connection successful")
	return client, nil
}
