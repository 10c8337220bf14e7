// cmd/lifecycle-engine/engine.go
package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	awsclients "loan-lifecycle/internal/common/aws"
	"loan-lifecycle/internal/common/config"
	"loan-lifecycle/internal/common/database"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/observability"
	"loan-lifecycle/internal/lifecycle/audit"
	"loan-lifecycle/internal/lifecycle/carriage"
	"loan-lifecycle/internal/lifecycle/fields"
	"loan-lifecycle/internal/lifecycle/guard"
	"loan-lifecycle/internal/lifecycle/notification"
	"loan-lifecycle/internal/lifecycle/repository"
	"loan-lifecycle/internal/lifecycle/stage"
	"loan-lifecycle/internal/lifecycle/transition"
	"loan-lifecycle/internal/lifecycle/view"
)

const connectTimeout = 60 * time.Second

// engine holds every collaborator the subcommands share.
type engine struct {
	cfg    *config.Config
	zap    *zap.Logger
	log    logger.Logger
	obs    *observability.Observability
	pg     *database.PostgresClient
	redis  *database.RedisClient
	es     *database.ElasticsearchClient
	repo   *repository.Postgres
	audit  *audit.Indexer
	fields *carriage.Carriage
	view   *view.Accessor
	apply  *transition.Applier
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func newEngine(ctx context.Context, configPath string) (*engine, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	zapLog := logger.NewFromConfig(cfg.Logging)
	e := &engine{
		cfg: cfg,
		zap: zapLog,
		log: logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{"service": cfg.App.Name}),
		obs: observability.New(cfg.App.Name),
	}

	if err := e.connect(ctx); err != nil {
		e.Close()
		return nil, err
	}

	resolver := fields.NewResolver(fields.DefaultSchema())
	e.repo = repository.NewPostgres(e.pg.DB, e.log)
	e.fields = carriage.New(e.repo, resolver, e.log)
	e.view = view.New(e.repo, resolver)

	var clients *awsclients.Clients
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		clients, err = awsclients.NewClients(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			e.Close()
			return nil, err
		}
	}
	sender := notification.NewSender(notification.ConfigFrom(cfg.Notifications), e.repo, clients, e.log)

	opts := []transition.Option{transition.WithObservability(e.obs)}
	if e.es != nil {
		e.audit = audit.NewIndexer(e.es.Client, cfg.Database.Elasticsearch.Index)
		opts = append(opts, transition.WithIndexer(e.audit))
	}

	e.apply = transition.New(
		transition.Config{
			Timeout:          config.GetDuration(cfg.Reconciler.Timeout),
			StageCooldown:    config.GetSeconds(cfg.Reconciler.StageCooldown),
			ZeroDocsCooldown: config.GetSeconds(cfg.Reconciler.ZeroDocsCooldown),
		},
		e.repo,
		stage.NewEvaluator(stage.NewRequirements(cfg.RequiredDocuments())),
		guard.New(e.redis.Client, e.log),
		sender,
		e.log,
		opts...,
	)

	return e, nil
}

func (e *engine) connect(ctx context.Context) error {
	var err error

	e.pg, err = database.NewPostgres(e.cfg.Database.Postgres)
	if err != nil {
		return err
	}
	if err := database.WaitReady(ctx, "postgres", e.pg, connectTimeout, e.log); err != nil {
		return fmt.Errorf("postgres not ready: %w", err)
	}
	e.log.Info("PostgreSQL connected successfully", nil)

	e.redis, err = database.NewRedis(e.cfg.Database.Redis)
	if err != nil {
		return err
	}
	if err := database.WaitReady(ctx, "redis", e.redis, connectTimeout, e.log); err != nil {
		return fmt.Errorf("redis not ready: %w", err)
	}
	e.log.Info("Redis connected successfully", nil)

	if e.cfg.Database.Elasticsearch.Enabled {
		e.es, err = database.NewElasticsearch(e.cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		if err := database.WaitReady(ctx, "elasticsearch", e.es, connectTimeout, e.log); err != nil {
			return fmt.Errorf("elasticsearch not ready: %w", err)
		}
		e.log.Info("Elasticsearch connected successfully", nil)
	}

	return nil
}

func (e *engine) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.pg != nil {
		_ = e.pg.Close()
	}
	e.obs.Shutdown()
	_ = e.zap.Sync()
}
