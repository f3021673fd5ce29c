//go:build wireinject
// +build wireinject

package di

import (
	"FinCast/pkg/config"
	"FinCast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application with a cleanup
// that releases every opened resource.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvidePrometheusRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideClickHouseClient,

		// Repositories
		ProvideMetadataStore,
		ProvideArtifactStore,
		ProvideModelStore,
		ProvideHistoricalData,
		ProvideEventPublisher,

		// Domain services
		ProvideModelFactory,
		ProvideFeatureEngineer,

		// Use cases
		ProvideModelRegistry,
		ProvideHistoryCache,
		ProvideTrainingService,
		ProvideRetrainJob,
		ProvideRetrainQueue,
		ProvideRetrainSubmitter,
		ProvidePredictionEngine,
		ProvideHousekeeper,

		// HTTP
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
