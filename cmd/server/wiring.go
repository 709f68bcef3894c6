package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	activitybatcher "commandbridge/internal/activity/batcher"
	activityhandler "commandbridge/internal/activity/handler"
	activityservice "commandbridge/internal/activity/service"
	activitystore "commandbridge/internal/activity/store"
	"commandbridge/internal/activity/workers/reaper"
	"commandbridge/internal/actions/adapters"
	"commandbridge/internal/actions/executor"
	actionshandler "commandbridge/internal/actions/handler"
	"commandbridge/internal/actions/ports"
	actionsservice "commandbridge/internal/actions/service"
	audithandler "commandbridge/internal/audit/handler"
	auditservice "commandbridge/internal/audit/service"
	auditstore "commandbridge/internal/audit/store"
	identityhandler "commandbridge/internal/identity/handler"
	identityservice "commandbridge/internal/identity/service"
	identitystore "commandbridge/internal/identity/store"
	"commandbridge/internal/jwt_token"
	kbhandler "commandbridge/internal/kb/handler"
	kbservice "commandbridge/internal/kb/service"
	kbstore "commandbridge/internal/kb/store"
	"commandbridge/internal/platform/config"
	"commandbridge/internal/platform/database"
	"commandbridge/internal/platform/health"
	"commandbridge/internal/platform/kafka/producer"
	"commandbridge/internal/platform/metrics"
	"commandbridge/internal/platform/redis"
	"commandbridge/internal/platform/tracer"
	"commandbridge/internal/rbac"
	"commandbridge/internal/seeder"
	httptransport "commandbridge/internal/transport/http"
	"commandbridge/migrations"
	"commandbridge/pkg/platform/middleware/auth"
)

// breaker defaults for live executors.
const (
	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

// tokenCacheEnvironments are the environments whose token cache lives on
// REDIS_TOKEN_CACHE_URL.
var tokenCacheEnvironments = []string{"production", "staging"}

// infrastructure holds the optional external connections. Nil members mean
// the matching in-memory or no-op substitute is used.
type infrastructure struct {
	pool       *database.Pool
	redis      *redis.Client
	tokenRedis *redis.Client
	producer   producer.Publisher
}

func openInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infrastructure, error) {
	infra := &infrastructure{producer: producer.NoopProducer{}}

	pool, err := database.New(ctx, database.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if pool != nil {
		infra.pool = pool
		applied, err := pool.Migrate(ctx, migrations.FS)
		if err != nil {
			infra.Close(log)
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("database ready", "migrations_applied", applied)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	if infra.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		infra.Close(log)
		return nil, err
	}
	if cfg.Redis.TokenURL != "" {
		tokenCfg := cfg.Redis
		tokenCfg.URL = cfg.Redis.TokenURL
		if infra.tokenRedis, err = redis.New(ctx, tokenCfg); err != nil {
			infra.Close(log)
			return nil, err
		}
	}

	if cfg.Kafka.Brokers != "" {
		p, err := producer.New(producer.DefaultConfig(cfg.Kafka.Brokers), log)
		if err != nil {
			infra.Close(log)
			return nil, err
		}
		infra.producer = p
		log.Info("audit mirror enabled", "topic", cfg.Kafka.AuditTopic)
	}
	return infra, nil
}

// Close releases every connection that was opened.
func (i *infrastructure) Close(log *slog.Logger) {
	if err := i.producer.Close(); err != nil {
		log.Error("close kafka producer", "error", err)
	}
	for name, c := range map[string]*redis.Client{"redis": i.redis, "token redis": i.tokenRedis} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			log.Error("close "+name, "error", err)
		}
	}
	if i.pool != nil {
		if err := i.pool.Close(); err != nil {
			log.Error("close database", "error", err)
		}
	}
}

type app struct {
	handlers  httptransport.Handlers
	validator auth.JWTValidator
	identity  *identityservice.Service
	batcher   *activitybatcher.Batcher
	reaper    *reaper.Reaper
}

type stores struct {
	users    identityservice.Store
	audit    auditservice.Store
	articles kbservice.Store
	activity interface {
		activityservice.Store
		activitybatcher.Writer
		reaper.ExpiringStore
	}
}

func newStores(pool *database.Pool) stores {
	if pool == nil {
		return stores{
			users:    identitystore.NewInMemory(),
			audit:    auditstore.NewInMemory(),
			articles: kbstore.NewInMemory(),
			activity: activitystore.NewInMemory(),
		}
	}
	db := pool.DB()
	return stores{
		users:    identitystore.NewPostgres(db),
		audit:    auditstore.NewPostgres(db),
		articles: kbstore.NewPostgres(db),
		activity: activitystore.NewPostgres(db),
	}
}

func buildApp(ctx context.Context, cfg config.Server, log *slog.Logger, m *metrics.Metrics, infra *infrastructure) (*app, error) {
	catalogue, err := loadCatalogue(cfg.CataloguePath)
	if err != nil {
		return nil, err
	}
	st := newStores(infra.pool)
	if cfg.SeedPath != "" {
		fx, err := seeder.LoadFile(cfg.SeedPath)
		if err != nil {
			return nil, err
		}
		if _, err := seeder.New(st.users, st.articles, catalogue, log).Seed(ctx, fx); err != nil {
			return nil, err
		}
	}

	activityBatcher := activitybatcher.New(st.activity,
		activitybatcher.WithLogger(log),
		activitybatcher.WithMetrics(m),
		activitybatcher.WithQueueSize(cfg.Activity.QueueSize),
		activitybatcher.WithFlushInterval(cfg.Activity.FlushInterval),
	)
	activityReaper, err := reaper.New(st.activity,
		reaper.WithInterval(cfg.Activity.ReapInterval),
		reaper.WithLogger(log),
		reaper.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	auditSvc := auditservice.New(st.audit,
		auditservice.WithLogger(log),
		auditservice.WithMetrics(m),
		auditservice.WithMirror(infra.producer, cfg.Kafka.AuditTopic),
	)
	identitySvc := identityservice.New(st.users, catalogue,
		identityservice.WithLogger(log),
		identityservice.WithMetrics(m),
		identityservice.WithDirectory(identityservice.NoopDirectory{}),
		identityservice.WithAuditRecorder(auditSvc),
		identityservice.WithActivityRecorder(activityBatcher),
	)

	executors, err := newExecutors(cfg, log, infra, auditSvc, identitySvc)
	if err != nil {
		return nil, err
	}
	actionsSvc := actionsservice.New(catalogue, executors, auditSvc,
		actionsservice.WithLogger(log),
		actionsservice.WithMetrics(m),
		actionsservice.WithTracer(tracer.NewOTel()),
		actionsservice.WithActivityRecorder(activityBatcher),
		actionsservice.WithExecutorTimeout(cfg.Executor.Timeout),
		actionsservice.WithBreaker(breakerFailures, breakerCooldown),
		actionsservice.WithDryRun(cfg.Executor.Mode == config.ExecutorDryRun),
	)
	kbSvc := kbservice.New(st.articles,
		kbservice.WithLogger(log),
		kbservice.WithMetrics(m),
		kbservice.WithAuditRecorder(auditSvc),
		kbservice.WithActivityRecorder(activityBatcher),
	)
	activitySvc := activityservice.New(st.activity,
		activityservice.WithLogger(log),
		activityservice.WithMetrics(m),
		activityservice.WithRetention(cfg.Activity.Retention),
	)

	return &app{
		handlers: httptransport.Handlers{
			Health:   newHealth(cfg, infra),
			Identity: identityhandler.New(identitySvc, log),
			Actions:  actionshandler.New(actionsSvc, log),
			Audit:    audithandler.New(auditSvc, log),
			KB:       kbhandler.New(kbSvc, log),
			Activity: activityhandler.New(activitySvc, log),
		},
		validator: newValidator(cfg.Auth, log),
		identity:  identitySvc,
		batcher:   activityBatcher,
		reaper:    activityReaper,
	}, nil
}

func loadCatalogue(path string) (*rbac.Catalogue, error) {
	if path == "" {
		return rbac.Default()
	}
	return rbac.LoadFile(path)
}

func newValidator(cfg config.Auth, log *slog.Logger) auth.JWTValidator {
	if cfg.Mode == config.AuthModeJWKS {
		return jwt_token.NewJWKSValidator(cfg.JWKSURL, cfg.Issuer, cfg.Audience, cfg.JWKSTTL,
			jwt_token.WithLogger(log))
	}
	return jwt_token.NewHMACService(cfg.SigningKeyOrDev(), cfg.Issuer, cfg.Audience, time.Hour)
}

// newExecutors binds every action to a port. Live mode talks to Redis and
// Kubernetes where configured; every other port records the call.
func newExecutors(cfg config.Server, log *slog.Logger, infra *infrastructure, audit *auditservice.Service, users ports.UserDeactivator) (*executor.Registry, error) {
	recorder := adapters.NewRecorder(time.Now)
	p := executor.Ports{
		Logs:      recorder,
		Cache:     recorder,
		CDN:       recorder,
		Workload:  recorder,
		Traffic:   recorder,
		Flags:     recorder,
		Blocklist: recorder,
		DNS:       recorder,
		Secrets:   recorder,
		Sessions:  recorder,
		Params:    recorder,
		Exporter:  adapters.NewAuditFileExporter(audit, cfg.Executor.ExportDir, time.Now),
		Users:     users,
	}

	if cfg.Executor.Mode == config.ExecutorLive {
		if infra.redis != nil {
			clusters := map[string]goredis.UniversalClient{}
			if infra.tokenRedis != nil {
				for _, env := range tokenCacheEnvironments {
					clusters[env+"-"+executor.DefaultTokenCache] = infra.tokenRedis
				}
			}
			p.Cache = adapters.NewRedisCache(clusters, infra.redis)
		}
		if cfg.Executor.Kubeconfig != "" {
			client, err := adapters.NewKubernetesClient(cfg.Executor.Kubeconfig, cfg.Executor.Timeout)
			if err != nil {
				return nil, err
			}
			p.Workload = adapters.NewKubernetesWorkloads(client, time.Now)
		}
		log.Info("live executors configured",
			"redis", infra.redis != nil,
			"kubernetes", cfg.Executor.Kubeconfig != "",
		)
	}

	return executor.NewRegistry(p,
		executor.WithNamespace(cfg.Executor.Namespace),
		executor.WithTokenCache(executor.DefaultTokenCache),
	)
}

func newHealth(cfg config.Server, infra *infrastructure) *health.Handler {
	h := health.New(cfg.Environment)
	if infra.pool != nil {
		h.RegisterCheck("database", infra.pool.Health)
	}
	if infra.redis != nil {
		h.RegisterCheck("redis", infra.redis.Health)
	}
	if cfg.Kafka.Brokers != "" {
		h.RegisterOptionalCheck("kafka", func(ctx context.Context) error {
			if !infra.producer.Healthy(ctx) {
				return fmt.Errorf("kafka producer unhealthy")
			}
			return nil
		})
	}
	return h
}
