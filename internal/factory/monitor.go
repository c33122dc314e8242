package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pyth-watch/publisher-monitor/internal/config"
	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
	"github.com/pyth-watch/publisher-monitor/internal/domain/state"
	"github.com/pyth-watch/publisher-monitor/internal/livesync"
	"github.com/pyth-watch/publisher-monitor/internal/log"
	"github.com/pyth-watch/publisher-monitor/internal/uptime"
	"github.com/pyth-watch/publisher-monitor/pkg/pipeline"
)

/*
 * DecorateLiveProcessing decorates the live sync engine as follow:
 *
 * panic --> duration --> main (engine)
 */
func DecorateLiveProcessing(cluster entity.Cluster, mainProcessing pipeline.Processing[livesync.PriceUpdateEvent], registry prometheus.Registerer) (pipeline.Processing[livesync.PriceUpdateEvent], error) {
	ret, err := pipeline.NewDurationMetricsDecoratorProcessing(mainProcessing, registry, clockwork.NewRealClock(), pipeline.MetricsConfig{Namespace: metricsNamespace(cluster)})
	if err != nil {
		return nil, fmt.Errorf("failed to create duration metrics processor: %w", err)
	}

	ret = pipeline.NewPanicHandlerProcessing(ret)

	return ret, nil
}

/*
 * CreateErrorProcessing builds the error path of the live feed:
 *
 * panic --> parallel --> count by category
 *                    \-> log
 */
func CreateErrorProcessing(cluster entity.Cluster, registry prometheus.Registerer, logger logr.Logger) (pipeline.Processing[pipeline.ErrProcessingError], error) {
	errorCount, err := pipeline.NewErrorCountProcessing(registry, pipeline.MetricsConfig{Namespace: metricsNamespace(cluster) + "_error"})
	if err != nil {
		return nil, fmt.Errorf("failed to create error count processing: %w", err)
	}

	errorLog := pipeline.ProcessingFunc[pipeline.ErrProcessingError](func(_ context.Context, processingError pipeline.ErrProcessingError) error {
		logger.Error(processingError, "Live feed processing failed", "category", processingError.Category)

		return nil
	})

	return pipeline.NewPanicHandlerProcessing(pipeline.NewParallelProcessing[pipeline.ErrProcessingError](errorCount, errorLog)), nil
}

func CreateRefresher(conf config.Uptime, clusterState *state.ClusterState) *uptime.Refresher {
	client := uptime.NewClient(conf.BaseURL)

	refresherConf := uptime.DefaultConfig()
	if conf.Cadence > 0 {
		refresherConf.Cadence = conf.Cadence
	}

	if conf.MaxAttempt > 0 {
		refresherConf.MaxAttempt = conf.MaxAttempt
	}

	if conf.Delay > 0 {
		refresherConf.Delay = conf.Delay
	}

	refresherConf.MaxJitter = conf.MaxJitter

	return uptime.NewRefresher(client, clusterState, clockwork.NewRealClock(), refresherConf, log.Logger())
}

// metricsNamespace derives a prometheus safe namespace from a cluster name.
func metricsNamespace(cluster entity.Cluster) string {
	return "live_" + strings.ReplaceAll(string(cluster), "-", "_")
}
