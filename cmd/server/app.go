package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"carekeeper/internal/access"
	"carekeeper/internal/access/adapters"
	accessHandler "carekeeper/internal/access/handler"
	accessMetrics "carekeeper/internal/access/metrics"
	accountHandler "carekeeper/internal/account/handler"
	accountService "carekeeper/internal/account/service"
	accountStore "carekeeper/internal/account/store"
	auditHandler "carekeeper/internal/audit/handler"
	consentHandler "carekeeper/internal/consent/handler"
	consentService "carekeeper/internal/consent/service"
	consentStore "carekeeper/internal/consent/store"
	"carekeeper/internal/gate"
	"carekeeper/internal/notify"
	"carekeeper/internal/platform/config"
	"carekeeper/internal/platform/kafka"
	"carekeeper/internal/platform/logger"
	"carekeeper/internal/platform/metrics"
	"carekeeper/internal/platform/postgres"
	redisPlatform "carekeeper/internal/platform/redis"
	recordsHandler "carekeeper/internal/records/handler"
	recordsService "carekeeper/internal/records/service"
	recordsStore "carekeeper/internal/records/store"
	relHandler "carekeeper/internal/relationship/handler"
	relService "carekeeper/internal/relationship/service"
	relStore "carekeeper/internal/relationship/store"
	"carekeeper/internal/retention"
	retentionHandler "carekeeper/internal/retention/handler"
	retentionMetrics "carekeeper/internal/retention/metrics"
	retentionModels "carekeeper/internal/retention/models"
	retentionStore "carekeeper/internal/retention/store"
	httptransport "carekeeper/internal/transport/http"
	"carekeeper/pkg/platform/audit"
	auditMemory "carekeeper/pkg/platform/audit/store/memory"
	auditPostgres "carekeeper/pkg/platform/audit/store/postgres"
	"carekeeper/pkg/platform/tx"
)

// stores groups one backend per module: Postgres when a database is
// configured, in-memory otherwise.
type stores struct {
	audit         audit.Store
	consent       consentService.Store
	relationships relService.Store
	lifecycle     retention.Store
	profiles      accountService.Store
	records       recordsService.Store
	runner        tx.Runner
}

func newStores(db *sql.DB) stores {
	if db == nil {
		return stores{
			audit:         auditMemory.New(),
			consent:       consentStore.NewInMemory(),
			relationships: relStore.NewInMemory(),
			lifecycle:     retentionStore.NewInMemory(),
			profiles:      accountStore.NewInMemory(),
			records:       recordsStore.NewInMemory(),
			runner:        tx.NopRunner{},
		}
	}
	return stores{
		audit:         auditPostgres.New(db),
		consent:       consentStore.NewPostgres(db),
		relationships: relStore.NewPostgres(db),
		lifecycle:     retentionStore.NewPostgres(db),
		profiles:      accountStore.NewPostgres(db),
		records:       recordsStore.NewPostgres(db),
		runner:        tx.NewSQLRunner(db),
	}
}

// app is the fully wired process. Every subcommand builds one and uses the
// parts it needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	db       *sql.DB
	redis    *redisPlatform.Client
	kafka    *kgo.Client
	stores   stores

	trail     *audit.Trail
	gate      *gate.Gate
	lifecycle *retention.Service
	runner    *retention.Runner
	modules   []httptransport.Registrar
}

func loadConfig(path string) (*config.Config, error) {
	cfg, errs := config.Load(path)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		logger:   logger.New(cfg.Log),
		registry: metrics.NewRegistry(),
	}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	var err error
	if a.db, err = postgres.Open(ctx, a.cfg.Database); err != nil {
		return err
	}
	if a.db == nil {
		a.logger.Warn("no database configured, using in-memory stores")
	}
	if a.redis, err = redisPlatform.New(ctx, a.cfg.Redis); err != nil {
		return err
	}
	if a.kafka, err = kafka.New(a.cfg.Kafka); err != nil {
		return err
	}
	if a.kafka != nil {
		err = kafka.EnsureTopics(ctx, a.kafka, a.cfg.Kafka.Partitions, a.cfg.Kafka.ReplicationFactor,
			a.cfg.Kafka.NotificationTopic, a.cfg.Kafka.ArchiveTopic)
		if err != nil {
			return err
		}
	}
	a.stores = newStores(a.db)
	return nil
}

func (a *app) wire() error {
	cfg, log := a.cfg, a.logger

	auditOpts := []audit.Option{
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetrics(a.registry)),
		audit.WithBufferCapacity(cfg.Audit.BufferSize),
		audit.WithCircuitBreaker(cfg.Audit.BreakerThreshold, cfg.Audit.BreakerCooldown),
		audit.WithFlushInterval(cfg.Audit.FlushInterval),
	}
	if len(cfg.Audit.MandatoryTypes) > 0 {
		auditOpts = append(auditOpts, audit.WithPolicy(audit.NewPolicy(cfg.Audit.MandatoryTypes...)))
	}
	trail, err := audit.New(a.stores.audit, auditOpts...)
	if err != nil {
		return err
	}
	a.trail = trail

	ledger, err := consentService.New(a.stores.consent, consentService.WithLogger(log))
	if err != nil {
		return err
	}
	relationships, err := relService.New(a.stores.relationships)
	if err != nil {
		return err
	}
	evaluator, err := access.NewEvaluator(
		adapters.NewRelationshipAdapter(relationships),
		adapters.NewConsentAdapter(ledger),
		access.WithLogger(log),
		access.WithMetrics(accessMetrics.New(a.registry)),
		access.WithConsentGate(cfg.Access.ConsentGate),
	)
	if err != nil {
		return err
	}
	if a.gate, err = gate.New(evaluator, trail, gate.WithLogger(log), gate.WithTxRunner(a.stores.runner)); err != nil {
		return err
	}

	floor, err := recordsService.NewFloor(cfg.Retention.FloorYears)
	if err != nil {
		return err
	}
	records, err := recordsService.New(a.stores.records, recordsService.WithLogger(log), recordsService.WithFloor(floor))
	if err != nil {
		return err
	}
	profiles, err := accountService.New(a.stores.profiles, accountService.WithLogger(log))
	if err != nil {
		return err
	}

	policy := retentionModels.Policy{
		InactivityThreshold: cfg.Retention.InactivityThreshold,
		GracePeriod:         cfg.Retention.GracePeriod,
	}
	rm := retentionMetrics.New(a.registry)
	scheduler, err := retention.NewScheduler(a.stores.lifecycle, trail, a.notifier(), profiles,
		retention.WithSchedulerLogger(log),
		retention.WithSchedulerMetrics(rm),
		retention.WithPolicy(policy),
		retention.WithConcurrency(cfg.Retention.Concurrency),
		retention.WithSchedulerTxRunner(a.stores.runner),
	)
	if err != nil {
		return err
	}
	a.runner, err = retention.NewRunner(scheduler, a.stores.lifecycle, a.locker(),
		retention.WithRunnerLogger(log),
		retention.WithRunnerMetrics(rm),
		retention.WithInterval(cfg.Retention.TickInterval),
		retention.WithLockTTL(cfg.Retention.LockTTL),
	)
	if err != nil {
		return err
	}
	a.lifecycle, err = retention.NewService(a.stores.lifecycle, trail,
		retention.WithServiceLogger(log),
		retention.WithServicePolicy(policy),
	)
	if err != nil {
		return err
	}

	a.modules = []httptransport.Registrar{
		accessHandler.New(a.gate, log),
		consentHandler.New(ledger, a.gate, log),
		relHandler.New(relationships, a.gate, log),
		recordsHandler.New(records, a.gate, log),
		accountHandler.New(profiles, a.gate, log),
		retentionHandler.New(a.lifecycle, a.runner, a.gate, log),
		auditHandler.New(trail, a.gate, log),
	}
	return nil
}

func (a *app) notifier() retention.Notifier {
	if a.kafka == nil {
		return notify.NewLogNotifier(a.logger)
	}
	n, err := notify.NewKafkaNotifier(a.kafka, a.cfg.Kafka.NotificationTopic)
	if err != nil {
		a.logger.Warn("kafka notifier unavailable, logging notifications", "error", err)
		return notify.NewLogNotifier(a.logger)
	}
	return n
}

func (a *app) locker() retention.Locker {
	if a.redis == nil {
		a.logger.Warn("no redis configured, retention lock is process-local")
		return retention.NewLocalLocker()
	}
	return redisLocker{redisPlatform.NewLock(a.redis.Client)}
}

// redisLocker adapts the redis lock to the retention runner's Locker.
type redisLocker struct {
	lock *redisPlatform.Lock
}

func (l redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (retention.Lease, bool, error) {
	lease, ok, err := l.lock.Acquire(ctx, key, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return lease, true, nil
}

func (a *app) healthChecks() map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{}
	if a.db != nil {
		checks["postgres"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	if a.kafka != nil {
		checks["kafka"] = a.kafka.Ping
	}
	return checks
}

func (a *app) Close() {
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
