package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"willvault/internal/capability"
	jwttoken "willvault/internal/jwt_token"
	"willvault/internal/ledger"
	"willvault/internal/platform/config"
	"willvault/internal/platform/httpserver"
	"willvault/internal/platform/kafka"
	"willvault/internal/platform/logger"
	platformmetrics "willvault/internal/platform/metrics"
	"willvault/internal/platform/otel"
	"willvault/internal/platform/postgres"
	"willvault/internal/platform/redis"
	ratelimitmw "willvault/internal/ratelimit/middleware"
	ratelimitmodels "willvault/internal/ratelimit/models"
	"willvault/internal/ratelimit/store/bucket"
	httptransport "willvault/internal/transport/http"
	willhandler "willvault/internal/will/handler"
	"willvault/internal/will/lease"
	willmetrics "willvault/internal/will/metrics"
	"willvault/internal/will/service"
	willstore "willvault/internal/will/store"
	audit "willvault/pkg/platform/audit"
	auditconsumer "willvault/pkg/platform/audit/consumer"
	"willvault/pkg/platform/audit/publisher"
	auditkafka "willvault/pkg/platform/audit/publishers/kafka"
	auditmemory "willvault/pkg/platform/audit/store/memory"
	auditpostgres "willvault/pkg/platform/audit/store/postgres"
	"willvault/pkg/platform/tx"
)

const callerAudience = "willvault-api"

// main wires dependencies and runs the HTTP server alongside the optional
// audit consumer until SIGINT or SIGTERM. Business logic lives in internal
// module packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	shutdownTracing, err := otel.Setup(ctx, cfg.Otel.ServiceName, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	health := map[string]httptransport.HealthCheck{}

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.close()
	if backend.db != nil {
		health["postgres"] = backend.db.PingContext
	}

	var serviceOpts []service.Option
	var buckets ratelimitmw.BucketStore = bucket.NewInMemoryBucketStore()

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		health["redis"] = redisClient.Health
		serviceOpts = append(serviceOpts, service.WithLocker(lease.NewRedisLocker(redisClient,
			lease.WithTTL(cfg.Redis.LeaseTTL),
			lease.WithWait(cfg.Redis.LeaseWait),
			lease.WithMetrics(reg),
		)))
		buckets = bucket.NewRedisBucketStore(redisClient)
		log.Info("distributed will lease and rate limit buckets enabled")
	}

	group, gctx := errgroup.WithContext(ctx)

	publisherOpts := []publisher.Option{publisher.WithLogger(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := openAuditProducer(ctx, cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()
		health["kafka"] = func(ctx context.Context) error { return kafka.Ping(ctx, producer) }
		publisherOpts = append(publisherOpts, publisher.WithSink(auditkafka.NewSink(producer, cfg.Kafka.AuditTopic, auditkafka.WithLogger(log))))

		if cfg.Kafka.ConsumerGroup != "" {
			consumerClient, err := kafka.NewConsumer(kafka.Config{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID},
				cfg.Kafka.ConsumerGroup, cfg.Kafka.AuditTopic)
			if err != nil {
				return fmt.Errorf("create audit consumer: %w", err)
			}
			defer consumerClient.Close()
			consumer := auditconsumer.New(consumerClient, backend.audit, log)
			group.Go(func() error {
				err := consumer.Run(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			log.Info("audit consumer started", "group", cfg.Kafka.ConsumerGroup, "topic", cfg.Kafka.AuditTopic)
		}
	}
	// With Postgres the audit row is written inside the will transaction and
	// sinks only see it after commit.
	if backend.db != nil {
		publisherOpts = append(publisherOpts, publisher.WithOutbox())
	}
	if cfg.Audit.AsyncBuffer > 0 {
		publisherOpts = append(publisherOpts, publisher.WithAsyncBuffer(cfg.Audit.AsyncBuffer))
	}
	auditPublisher := publisher.NewPublisher(backend.audit, publisherOpts...)
	defer auditPublisher.Close()

	accounts := backend.ledger
	serviceOpts = append(serviceOpts,
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithAuditReader(auditPublisher),
		service.WithMetrics(willmetrics.New(reg)),
	)
	if backend.tx != nil {
		serviceOpts = append(serviceOpts, service.WithTx(backend.tx))
	}
	wills, err := service.New(backend.wills, accounts, serviceOpts...)
	if err != nil {
		return fmt.Errorf("build will service: %w", err)
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey(), cfg.Auth.JWTIssuer, callerAudience)
	issuer := capability.NewIssuer(cfg.CapabilitySigningKey(), cfg.Auth.JWTIssuer, capability.WithTTL(cfg.Auth.CapabilityTTL))
	ledgerHandler := ledger.NewHandler(accounts, log)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:     log,
		Validator:  jwttoken.NewJWTServiceAdapter(jwtService),
		AdminToken: cfg.Auth.AdminToken,
		Metrics:    platformmetrics.New(reg),
		Gatherer:   reg,
		Health:     health,
		RateLimit:  ratelimitmw.New(buckets, log,
			ratelimitmw.WithDisabled(cfg.Limits.Disabled),
			ratelimitmw.WithLimit(ratelimitmodels.ClassRead, ratelimitmodels.Limit{Requests: cfg.Limits.ReadRequests, Window: cfg.Limits.Window}),
			ratelimitmw.WithLimit(ratelimitmodels.ClassWrite, ratelimitmodels.Limit{Requests: cfg.Limits.WriteRequests, Window: cfg.Limits.Window}),
			ratelimitmw.WithLimit(ratelimitmodels.ClassSensitive, ratelimitmodels.Limit{Requests: cfg.Limits.SensitiveRequests, Window: cfg.Limits.Window}),
			ratelimitmw.WithMetrics(reg),
		).ByRoute(),
		Caller: []httptransport.Registrar{
			willhandler.New(wills, issuer, log),
			ledgerHandler,
		},
		Admin: []httptransport.Registrar{
			capability.NewHandler(issuer, log),
			jwttoken.NewHandler(jwtService, log),
			ledgerHandler.Admin(),
			willhandler.NewAdmin(backend.audit, log),
		},
	})
	if cfg.Auth.AdminToken == "" {
		log.Warn("WILLVAULT_ADMIN_TOKEN is empty; operator routes are disabled")
	}

	srv := httpserver.New(cfg.Addr, router)
	group.Go(func() error {
		log.Info("starting willvault", "addr", cfg.Addr, "store", cfg.Store, "env", cfg.Environment)
		return httpserver.Run(gctx, srv)
	})
	return group.Wait()
}

type accountLedger interface {
	service.Ledger
	ledger.Accounts
}

type backend struct {
	db     *sql.DB
	wills  service.Store
	audit  audit.Store
	ledger accountLedger
	tx     service.TxRunner
}

func (b backend) close() {
	if b.db != nil {
		_ = b.db.Close()
	}
}

func openBackend(ctx context.Context, cfg config.Server, log *slog.Logger) (backend, error) {
	if cfg.Store == config.StoreMemory {
		log.Info("using in-memory will store")
		return backend{
			wills:  willstore.NewInMemoryStore(),
			audit:  auditmemory.NewInMemoryStore(),
			ledger: ledger.NewInMemory(ledger.WithLogger(log)),
		}, nil
	}

	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return backend{}, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return backend{}, fmt.Errorf("migrate database: %w", err)
	}
	log.Info("using postgres will store and ledger")
	return backend{
		db:     db,
		wills:  willstore.NewPostgres(db, cfg.TxTimeout),
		audit:  auditpostgres.New(db),
		ledger: ledger.NewPostgres(db, cfg.TxTimeout, log),
		tx:     tx.NewSQLRunner(db, cfg.TxTimeout),
	}, nil
}

func openAuditProducer(ctx context.Context, cfg config.KafkaConfig) (*kgo.Client, error) {
	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Brokers, ClientID: cfg.ClientID})
	if err != nil {
		return nil, fmt.Errorf("create audit producer: %w", err)
	}
	if err := kafka.EnsureTopic(ctx, producer, cfg.AuditTopic, cfg.Partitions, cfg.Replication); err != nil {
		producer.Close()
		return nil, err
	}
	return producer, nil
}
