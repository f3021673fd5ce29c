package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	domrepo "FinCast/internal/domain/repository"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/handler/api"
	internalrepo "FinCast/internal/repository"
	"FinCast/internal/service/ratelimit"
	"FinCast/internal/services/features"
	"FinCast/internal/services/forecast"
	"FinCast/internal/usecase"
	"FinCast/pkg/cache"
	pkgch "FinCast/pkg/clickhouse"
	"FinCast/pkg/config"
	xhttp "FinCast/pkg/http"
	"FinCast/pkg/http/middleware"
	pkgkafka "FinCast/pkg/kafka"
	"FinCast/pkg/logger"
	"FinCast/pkg/metrics"
	"FinCast/pkg/queue"
	"FinCast/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const initTimeout = 15 * time.Second

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvidePrometheusRegistry returns a private registry with the runtime collectors.
func ProvidePrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the Prometheus recorder.
func ProvideMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

// ProvideRedisCache connects to Redis when enabled. A nil cache means Redis is off.
func ProvideRedisCache(cfg *config.Config, l *logger.Logger) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 5*time.Second),
		cache.WithRedisPrefix("fincast"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	cleanup := func() {
		if err := rc.Close(); err != nil {
			l.Warn("redis close error", logger.Error(err))
		}
	}
	return rc, cleanup, nil
}

// ProvideCache layers an in-process cache over Redis, or falls back to memory only.
func ProvideCache(rc *cache.RedisCache) (cache.Service, func()) {
	if rc != nil {
		lc := cache.NewLayeredCache(rc,
			cache.WithLayeredMemorySize(5000),
			cache.WithLayeredMemoryTTL(time.Minute),
		)
		return lc, func() { _ = lc.Close() }
	}
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(time.Minute))
	return mc, func() { _ = mc.Close() }
}

// ProvideMetadataStore opens the configured metadata backend.
func ProvideMetadataStore(cfg *config.Config) (domrepo.MetadataStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	var (
		store domrepo.MetadataStore
		err   error
	)
	switch cfg.Metadata.Backend {
	case "sqlite":
		store, err = internalrepo.NewSQLiteMetadataStore(ctx, cfg.Metadata.Path)
	case "postgres":
		pool, perr := internalrepo.NewPostgresPool(ctx, cfg.Metadata.DSN)
		if perr != nil {
			return nil, perr
		}
		store, err = internalrepo.NewPostgresMetadataStore(ctx, pool)
	default:
		store, err = internalrepo.NewFileMetadataStore(cfg.Metadata.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("metadata store (%s): %w", cfg.Metadata.Backend, err)
	}
	return store, nil
}

// ProvideArtifactStore opens the configured artifact backend.
func ProvideArtifactStore(cfg *config.Config, rc *cache.RedisCache) (domrepo.ArtifactStore, error) {
	switch cfg.Artifacts.Backend {
	case "redis":
		if rc == nil {
			return nil, fmt.Errorf("artifacts: redis backend requires redis.enabled")
		}
		return internalrepo.NewRedisArtifactStore(rc.Client(), cfg.Artifacts.Prefix), nil
	case "oss":
		o := cfg.Artifacts.OSS
		bucket, err := internalrepo.NewOSSBucket(o.Endpoint, o.AccessKeyID, o.AccessKeySecret, o.Bucket)
		if err != nil {
			return nil, err
		}
		return internalrepo.NewOSSArtifactStore(bucket, o.Prefix), nil
	default:
		fs, err := internalrepo.NewFSArtifactStore(filepath.Join(cfg.Artifacts.Path, "artifacts"))
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
}

// ProvideModelStore pairs metadata and artifacts.
func ProvideModelStore(meta domrepo.MetadataStore, artifacts domrepo.ArtifactStore, l *logger.Logger) *usecase.ModelStore {
	return usecase.NewModelStore(meta, artifacts, l)
}

// ProvideModelFactory registers the built-in families, plus the remote family when an
// endpoint is configured.
func ProvideModelFactory(cfg *config.Config) domsvc.ModelFactory {
	var opts []forecast.Option
	if cfg.Remote.Endpoint != "" {
		opts = append(opts, forecast.WithRemoteService(cfg.Remote.Endpoint, cfg.Remote.Timeout, cfg.Remote.APIKey))
	}
	return forecast.NewFactory(opts...)
}

// ProvideFeatureEngineer builds the feature pipeline.
func ProvideFeatureEngineer(cfg *config.Config) domsvc.FeatureEngineer {
	return features.NewEngineer(features.WithWindow(cfg.Models.FeatureWindowSize))
}

// ProvideKafkaProducer creates a Kafka producer when enabled. A nil producer means
// events are only logged.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithTopic(cfg.Kafka.Topic),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher publishes lifecycle events to Kafka, or to the log.
func ProvideEventPublisher(producer *pkgkafka.Producer, l *logger.Logger) (domrepo.EventPublisher, func()) {
	var pub domrepo.EventPublisher
	if producer != nil {
		pub = internalrepo.NewKafkaEventPublisher(producer)
	} else {
		pub = internalrepo.NewLogEventPublisher(l)
	}
	cleanup := func() {
		if err := pub.Close(); err != nil {
			l.Warn("event publisher close error", logger.Error(err))
		}
	}
	return pub, cleanup
}

// ProvideClickHouseClient connects when candles are read from ClickHouse.
func ProvideClickHouseClient(cfg *config.Config, l *logger.Logger) (*pkgch.Client, func(), error) {
	if cfg.Data.Source != "clickhouse" {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", logger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideHistoricalData selects the candle source.
func ProvideHistoricalData(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) (domrepo.HistoricalDataProvider, error) {
	if ch != nil {
		store, err := internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.Table, l)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return internalrepo.NewCSVCandleStore(cfg.Data.CSVDir), nil
}

// ProvideModelRegistry builds the registry. Init runs when the app starts.
func ProvideModelRegistry(
	cfg *config.Config,
	store *usecase.ModelStore,
	factory domsvc.ModelFactory,
	events domrepo.EventPublisher,
	recorder *metrics.Recorder,
	l *logger.Logger,
) (*usecase.ModelRegistry, func()) {
	r := usecase.NewModelRegistry(store, factory, l,
		usecase.WithMinDataPoints(cfg.Models.MinDataPoints),
		usecase.WithTrainSplit(cfg.Models.TrainSplit),
		usecase.WithRegistryEvents(events),
		usecase.WithRegistryMetrics(recorder),
	)
	cleanup := func() {
		if err := r.Close(); err != nil {
			l.Warn("registry close error", logger.Error(err))
		}
	}
	return r, cleanup
}

// ProvideHistoryCache stores served predictions in the shared cache lists.
func ProvideHistoryCache(cfg *config.Config, c cache.Service, l *logger.Logger) *usecase.HistoryCache {
	return usecase.NewHistoryCache(internalrepo.NewCacheHistoryStore(c), l,
		usecase.WithHistoryPrefix(cfg.Prediction.HistoryPrefix),
		usecase.WithHistoryLimits(cfg.Prediction.HistoryMaxEntries, cfg.Prediction.HistoryRetention),
	)
}

// ProvideTrainingService loads history and trains through the registry.
func ProvideTrainingService(cfg *config.Config, registry *usecase.ModelRegistry, data domrepo.HistoricalDataProvider, engineer domsvc.FeatureEngineer, l *logger.Logger) *usecase.TrainingService {
	return usecase.NewTrainingService(registry, data, engineer, cfg.Models.TrainingDays, cfg.Models.MaxHistoricalDays, l)
}

// ProvideRetrainJob handles queued retrain messages.
func ProvideRetrainJob(training *usecase.TrainingService, l *logger.Logger) *usecase.RetrainJob {
	return usecase.NewRetrainJob(training, l)
}

// ProvideRetrainQueue creates the Redis-backed work queue. It needs both queue.enabled
// and redis.enabled; otherwise retraining only runs synchronously.
func ProvideRetrainQueue(cfg *config.Config, rc *cache.RedisCache, job *usecase.RetrainJob, recorder *metrics.Recorder, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(),
		queue.WithKeyPrefix(cfg.Queue.KeyPrefix),
		queue.WithObserver(recorder.RecordJob),
	)
	q.RegisterJob(job)
	return q
}

// ProvideRetrainSubmitter throttles retrain submissions per model to one per update
// interval.
func ProvideRetrainSubmitter(cfg *config.Config, q *queue.RedisQueue, c cache.Service, l *logger.Logger) usecase.RetrainSubmitter {
	if q == nil {
		return nil
	}
	return usecase.NewRetrainScheduler(q, ratelimit.Every(cfg.Models.UpdateInterval), l,
		usecase.WithDedupLock(c, cfg.Models.UpdateInterval),
	)
}

// ProvidePredictionEngine assembles the engine from config.
func ProvidePredictionEngine(
	cfg *config.Config,
	registry *usecase.ModelRegistry,
	data domrepo.HistoricalDataProvider,
	engineer domsvc.FeatureEngineer,
	history *usecase.HistoryCache,
	c cache.Service,
	events domrepo.EventPublisher,
	recorder *metrics.Recorder,
	submitter usecase.RetrainSubmitter,
	l *logger.Logger,
) *usecase.PredictionEngine {
	ec := usecase.DefaultEngineConfig()
	ec.MinDataPoints = cfg.Models.MinDataPoints
	ec.FeatureWindow = cfg.Models.FeatureWindowSize
	ec.MaxHistoricalDays = cfg.Models.MaxHistoricalDays
	ec.ModelTimeout = cfg.Models.PredictionTimeout
	ec.UpdateInterval = cfg.Models.UpdateInterval
	ec.BatchConcurrency = cfg.Prediction.BatchConcurrency
	ec.MaxBatchSize = cfg.Prediction.MaxBatchSize
	ec.CacheTTL = cfg.Prediction.CacheTTL

	opts := []usecase.EngineOption{
		usecase.WithEngineConfig(ec),
		usecase.WithResponseCache(c),
		usecase.WithEngineEvents(events),
		usecase.WithEngineMetrics(recorder),
	}
	if submitter != nil {
		opts = append(opts, usecase.WithRetrainSubmitter(submitter))
	}
	return usecase.NewPredictionEngine(registry, data, engineer, history, l, opts...)
}

// ProvideHousekeeper schedules the periodic cleanup of stale models.
func ProvideHousekeeper(cfg *config.Config, registry *usecase.ModelRegistry, l *logger.Logger) (*usecase.Housekeeper, error) {
	return usecase.NewHousekeeper(registry, cfg.Models.CleanupCron, cfg.Models.CleanupDays, l)
}

// ProvideHTTPHandler groups the API handlers.
func ProvideHTTPHandler(
	engine *usecase.PredictionEngine,
	registry *usecase.ModelRegistry,
	training *usecase.TrainingService,
	submitter usecase.RetrainSubmitter,
	q *queue.RedisQueue,
	l *logger.Logger,
) xhttp.Handler {
	var stats api.QueueStatter
	if q != nil {
		stats = q
	}
	return xhttp.Handlers{
		api.NewHealthHandler(engine, stats),
		api.NewPredictionHandler(l, engine),
		api.NewModelHandler(l, registry, training, submitter),
	}
}

// ProvideHTTPServer configures the Echo server.
func ProvideHTTPServer(cfg *config.Config, handler xhttp.Handler, reg *prometheus.Registry, l *logger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg, middleware.NewHTTPMetrics(reg)))
	}
	return xhttp.NewServer(l, handler, opts...)
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	registry *usecase.ModelRegistry,
	engine *usecase.PredictionEngine,
	housekeeper *usecase.Housekeeper,
	q *queue.RedisQueue,
	httpServer *xhttp.Server,
) *server.App {
	return server.New(cfg, l, registry, engine, housekeeper, q, httpServer)
}
