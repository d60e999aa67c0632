package main

import (
	"context"
	"strings"
	"time"

	"github.com/harborgrid/beacon/internal/billing"
	"github.com/harborgrid/beacon/internal/dispatch"
	"github.com/harborgrid/beacon/internal/eventlog"
	"github.com/harborgrid/beacon/internal/gate"
	"github.com/harborgrid/beacon/internal/handlers"
	"github.com/harborgrid/beacon/internal/ingress"
	"github.com/harborgrid/beacon/internal/observer"
	"github.com/harborgrid/beacon/internal/quota"
	"github.com/harborgrid/beacon/internal/registry"
	"github.com/harborgrid/beacon/internal/replay"
	"github.com/harborgrid/beacon/internal/store"
	"github.com/harborgrid/beacon/pkg/config"
	"github.com/harborgrid/beacon/pkg/database"
	"github.com/harborgrid/beacon/pkg/logging"
	"github.com/harborgrid/beacon/pkg/monitoring"
	"github.com/harborgrid/beacon/pkg/redis"
	"github.com/harborgrid/beacon/pkg/server"
	"github.com/harborgrid/beacon/pkg/version"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService(config.GetEnv("SERVICE_NAME", "beacon"))

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Beacon (Realtime Event Platform)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("beacon", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("beacon", version.Version, version.GitCommit)

	// Required configuration
	databaseURL := config.RequireEnv("DATABASE_URL")
	logURL := config.RequireEnv("LOG_URL")
	if endpoint := config.GetEnv("OTEL_EXPORTER_ENDPOINT", ""); endpoint != "" {
		// Reserved for the tracing exporter; accepted so deploy manifests can
		// set it ahead of time.
		logger.WithField("otel_endpoint", endpoint).Info("Trace export not enabled in this build")
	}
	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))
	hashKey := []byte(config.GetEnv("API_KEY_HASH_SECRET", string(jwtSecret)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Identity store
	dbCfg := database.DefaultConfig(databaseURL)
	dbCfg.MaxOpenConns = config.GetEnvInt("DATABASE_MAX_CONNECTIONS", dbCfg.MaxOpenConns)
	db := database.MustConnect(dbCfg, logger)
	defer db.Close()
	identityStore := store.New(db, logger)

	// Event log
	streamName := config.GetEnv("LOG_STREAM_NAME", "BEACON_EVENTS")
	log, err := eventlog.ConnectJetStream(ctx, eventlog.JetStreamConfig{
		URL:        logURL,
		StreamName: streamName,
		MaxAge:     config.GetEnvDuration("LOG_RETENTION_AGE", 7*24*time.Hour),
		MaxBytes:   int64(config.GetEnvInt("LOG_RETENTION_BYTES", 0)),
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to event log")
	}
	defer log.Close()

	// Observer sinks
	sinks := observer.Multi{
		&observer.LogSink{Logger: logger},
		observer.NewMetricsSink(metricsCollector),
	}
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		firehose, err := observer.NewFirehoseSink(strings.Split(brokers, ","),
			config.GetEnv("KAFKA_FIREHOSE_TOPIC", "beacon_ops"), logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect ops firehose")
		}
		go firehose.Run(ctx)
		sinks = append(sinks, firehose)
	}

	// Core components
	sessions := registry.New(logger, sinks, config.GetEnvInt("SESSION_QUEUE_DEPTH", registry.DefaultQueueDepth))

	tracker := quota.New(quota.Config{
		FlushInterval:     config.GetEnvDuration("USAGE_FLUSH_INTERVAL", 15*time.Second),
		EnterpriseCeiling: int64(config.GetEnvInt("ENTERPRISE_EVENT_CEILING", 1_000_000_000)),
		TrialPeriod:       config.GetEnvDuration("TRIAL_PERIOD", 14*24*time.Hour),
		SuspendOnQuota:    config.GetEnvBool("SUSPEND_ON_QUOTA", false),
	}, identityStore, logger, sinks)
	tracker.SetEvictor(sessions)
	go tracker.Run(ctx)

	limiter := gate.NewLimiter()
	go limiter.Run(ctx)
	credentialGate := gate.New(identityStore, limiter, jwtSecret, hashKey, logger, sinks)

	publisher := ingress.New(identityStore, log, tracker, ingress.NewSchemaRegistry(), logger, sinks)
	replayer := replay.New(log)

	dispatcher := dispatch.New(log, sessions, tracker, logger, sinks)
	if err := dispatcher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start dispatcher")
	}
	defer dispatcher.Stop()

	// Billing webhook intake. Redis dedupes deliveries across instances;
	// without it the in-process deduper covers single-instance deploys.
	var dedupe billing.Deduper = billing.NewMemoryDeduper()
	if redisURL := config.GetEnv("REDIS_URL", ""); redisURL != "" {
		redisClient, err := redis.NewClientFromURL(ctx, redisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer redisClient.Close()
		dedupe = billing.NewRedisDeduper(redisClient)
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	}
	webhooks := billing.New(identityStore, tracker, billing.NoopVerifier{}, dedupe, logger, sinks)

	// Trial expiry sweep
	go runTrialSweep(ctx, identityStore, tracker, logger)

	// Health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("eventlog", monitoring.NATSHealthCheck(log.Conn()))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": databaseURL,
		"LOG_URL":      logURL,
	}))

	// HTTP surface
	router := server.SetupRouter(logger, "beacon", healthChecker, metricsCollector)
	api := handlers.New(credentialGate, publisher, replayer, sessions, identityStore, tracker, webhooks, hashKey, logger, sinks)
	api.RegisterRoutes(router)

	if err := server.Start(server.DefaultConfig("beacon", "18090"), router, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
}

// runTrialSweep periodically resolves expired trials: paying tenants
// convert, the rest hit the kill switch.
func runTrialSweep(ctx context.Context, identityStore *store.Store, tracker *quota.Tracker, logger logging.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-tracker.TrialPeriod())
			tenants, err := identityStore.TrialTenantsCreatedBefore(ctx, cutoff)
			if err != nil {
				logger.WithError(err).Warn("Trial sweep query failed")
				continue
			}
			// Each expiry suspends and evicts independently, so failures
			// are logged per tenant and do not stop the sweep.
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(4)
			for _, tenant := range tenants {
				tenant := tenant
				g.Go(func() error {
					if err := tracker.HandleTrialExpiry(gctx, tenant); err != nil {
						logger.WithError(err).WithField("tenant_id", tenant.ID).Error("Trial expiry handling failed")
					}
					return nil
				})
			}
			_ = g.Wait()
		}
	}
}
