package main

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/waqarahm3d/qoqnuzmedia/internal/config"
	"github.com/waqarahm3d/qoqnuzmedia/internal/dispatch"
	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/notify"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
	"github.com/waqarahm3d/qoqnuzmedia/internal/platform"
	"github.com/waqarahm3d/qoqnuzmedia/internal/quota"
	"github.com/waqarahm3d/qoqnuzmedia/internal/repository"
)

// core bundles the infrastructure shared by every command.
type core struct {
	cfg     *config.Config
	logger  observability.Logger
	metrics observability.Metrics
	store   *repository.Store
	redis   *redis.Client
	backend dispatch.Backend
	guard   *quota.Guard
}

func newCore(serviceName string) (*core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.LogJSON).WithFields(map[string]interface{}{
		"service": serviceName,
	})
	metrics := observability.NewPrometheusMetrics(cfg.ServiceName)

	store, err := repository.NewStore(&cfg.Database, logger, metrics)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	guard := quota.NewGuard(
		quota.DirProvider{Root: cfg.Storage.DownloadDir},
		cfg.Storage.LimitBytes(),
		cfg.Storage.QuotaCacheTTL,
		logger,
	)

	return &core{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		store:   store,
		redis:   redisClient,
		backend: dispatch.NewRedisBackend(redisClient),
		guard:   guard,
	}, nil
}

func (c *core) close() {
	c.store.Close()
	c.redis.Close()
}

// newDispatcher wires the publisher, state backend and admission limiter.
func (c *core) newDispatcher() (*dispatch.Dispatcher, *dispatch.AMQPPublisher, error) {
	publisher, err := dispatch.NewAMQPPublisher(&c.cfg.Broker, c.logger, c.metrics)
	if err != nil {
		return nil, nil, err
	}
	limiter := dispatch.NewRedisRateLimiter(c.redis, c.cfg.Dispatch.RatePerMinute)
	return dispatch.NewDispatcher(publisher, c.backend, limiter, c.logger), publisher, nil
}

// newRegistry installs the platform fetchers and the post-processor.
func (c *core) newRegistry() *platform.Registry {
	registry := platform.NewRegistry(platform.NewFileFinalizer(c.logger, c.metrics))
	registry.Register(entity.PlatformYouTube,
		platform.NewHTTPFetcher([]string{"youtube.com", "youtu.be"}, c.logger, c.metrics))
	registry.Register(entity.PlatformSoundCloud,
		platform.NewHTTPFetcher([]string{"soundcloud.com"}, c.logger, c.metrics))
	return registry
}

func (c *core) newNotifier() notify.Notifier {
	if !c.cfg.Webhook.Enabled || c.cfg.Webhook.URL == "" {
		return notify.NopNotifier{}
	}
	timeout := c.cfg.Webhook.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return notify.NewWebhookNotifier(c.cfg.Webhook.URL, timeout, c.logger, c.metrics)
}
