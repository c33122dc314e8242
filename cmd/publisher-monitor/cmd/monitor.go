package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pyth-watch/publisher-monitor/internal/bootstrap"
	"github.com/pyth-watch/publisher-monitor/internal/common"
	"github.com/pyth-watch/publisher-monitor/internal/config"
	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
	"github.com/pyth-watch/publisher-monitor/internal/domain/state"
	"github.com/pyth-watch/publisher-monitor/internal/factory"
	"github.com/pyth-watch/publisher-monitor/internal/livesync"
	"github.com/pyth-watch/publisher-monitor/internal/log"
	"github.com/pyth-watch/publisher-monitor/internal/server"
	"github.com/pyth-watch/publisher-monitor/pkg/pipeline"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch publisher price feeds on the configured clusters and serve their state",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.Parse(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to parse config %s: %w", cfgFile, err)
		}

		// Init logger
		err = log.Init(conf.Logs)
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}

		logger := log.Logger()

		// Dump generic information
		logger.Info("Starting publisher monitor",
			"version", version.Info(),
			"buildContext", version.BuildContext(),
		)
		logger.Info("Using config", "config", fmt.Sprintf("%+v", conf))

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.Logger()

		// Set max procs based on cpu limits
		err := common.SetMaxProcs()
		if err != nil {
			return fmt.Errorf("failed to set max procs: %w", err)
		}

		// Set max memory
		err = common.SetMemLimit()
		if err != nil {
			return fmt.Errorf("failed to set mem limit: %w", err)
		}

		conf, err := config.Parse(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to parse config %s: %w", cfgFile, err)
		}

		clusters, issues := conf.ActiveClusters()
		for _, issue := range issues {
			logger.Info("Configuration issue", "issue", issue.Error())
		}

		if len(clusters) == 0 {
			return errors.New("no usable cluster configured")
		}

		// Listen to sigterm and interrupt signals
		ctx := common.SetupSignalHandler(context.Background())

		err = run(ctx, conf, clusters, logger)
		if err != nil {
			return err
		}

		logger.V(2).Info("Monitoring stopped")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func run(ctx context.Context, conf *config.Config, clusters map[entity.Cluster]config.Cluster, logger logr.Logger) error {
	registry := prometheus.NewRegistry()

	liveMetrics, err := livesync.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to create live sync metrics: %w", err)
	}

	store := state.NewStore()

	trackers := make(map[entity.Cluster]server.Tracker, len(clusters))
	triggers := make(map[entity.Cluster]chan struct{}, len(clusters))

	g, gCtx := errgroup.WithContext(ctx)

	for cluster, clusterConf := range clusters {
		publishers := make([]entity.PublisherKey, 0, len(clusterConf.Publishers))
		for _, publisher := range clusterConf.Publishers {
			publishers = append(publishers, entity.PublisherKey(publisher))
		}

		clusterState := store.AddCluster(cluster, publishers)

		trackers[cluster] = factory.CreateRefresher(conf.Uptime, clusterState)

		trigger := make(chan struct{}, 1)
		triggers[cluster] = trigger

		monitor, err := newClusterMonitor(cluster, clusterConf, clusterState, liveMetrics, registry, trigger, logger)
		if err != nil {
			return fmt.Errorf("failed to create monitor for cluster %s: %w", cluster, err)
		}

		g.Go(func() error {
			monitor.run(gCtx)

			return nil
		})
	}

	reconnect := func(cluster entity.Cluster) {
		trigger, ok := triggers[cluster]
		if !ok {
			return
		}

		select {
		case trigger <- struct{}{}:
		default: // a reconnect is already pending
		}
	}

	apiServer := server.New(store, trackers, reconnect, logger)

	g.Go(func() error {
		return apiServer.Run(gCtx, conf.API.Port, conf.GracefulDuration)
	})

	metricsServer := factory.CreatePrometheusServer(conf.Metrics, registry)

	g.Go(func() error {
		err := metricsServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server stopped unexpectedly: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.GracefulDuration)
		defer cancel()

		return metricsServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// clusterMonitor owns the lifecycle of one cluster: bootstrap, live feed,
// and reconnection on demand.
type clusterMonitor struct {
	cluster      entity.Cluster
	conf         config.Cluster
	clusterState *state.ClusterState
	trigger      chan struct{}
	logger       logr.Logger

	liveProcessing pipeline.Processing[livesync.PriceUpdateEvent]
	errProcessing  pipeline.Processing[pipeline.ErrProcessingError]
}

func newClusterMonitor(cluster entity.Cluster, conf config.Cluster, clusterState *state.ClusterState, liveMetrics *livesync.Metrics, registry prometheus.Registerer, trigger chan struct{}, logger logr.Logger) (*clusterMonitor, error) {
	clusterLogger := logger.WithValues("cluster", cluster)

	engine := livesync.NewEngine(clusterState, liveMetrics, clusterLogger)

	liveProcessing, err := factory.DecorateLiveProcessing(cluster, engine, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to decorate live processing: %w", err)
	}

	errProcessing, err := factory.CreateErrorProcessing(cluster, registry, clusterLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create error processing: %w", err)
	}

	return &clusterMonitor{
		cluster:        cluster,
		conf:           conf,
		clusterState:   clusterState,
		trigger:        trigger,
		logger:         clusterLogger,
		liveProcessing: liveProcessing,
		errProcessing:  errProcessing,
	}, nil
}

const reconnectBackoff = 30 * time.Second

// run bootstraps the cluster and keeps it connected until ctx is cancelled.
// Every pass builds fresh connections, the previous websocket is closed
// before reconnecting.
func (m *clusterMonitor) run(ctx context.Context) {
	for {
		client, pubsub := factory.CreateConnection(m.conf, m.clusterState, m.logger)

		handler := livesync.NewAccountChangeAdapter(ctx, m.liveProcessing, m.errProcessing, m.logger)
		boot := bootstrap.New(m.cluster, client, pubsub, m.clusterState, handler, m.logger)

		err := boot.Connect(ctx)
		if err != nil {
			m.logger.Error(err, "Bootstrap failed, waiting before retry")

			pubsub.Close()

			select {
			case <-ctx.Done():
				return
			case <-m.trigger:
			case <-time.After(reconnectBackoff):
			}

			continue
		}

		select {
		case <-ctx.Done():
			pubsub.Close()

			return
		case <-m.trigger:
			m.logger.V(1).Info("Reconnect requested")
			pubsub.Close()
		}
	}
}
