// Package livesync merges live price update events into the per cluster
// publish detail index. After bootstrap the engine is the only writer of that
// index.
package livesync

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
	"github.com/pyth-watch/publisher-monitor/internal/domain/state"
)

const (
	discardUntrackedProduct = "untracked_product"
	discardStaleSlot        = "stale_slot"
)

// Metrics counts merge outcomes. One instance is shared by all clusters, the
// cluster label keeps them apart.
type Metrics struct {
	applied   *prometheus.CounterVec
	discarded *prometheus.CounterVec
}

func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	ret := &Metrics{
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livesync",
			Name:      "updates_applied_total",
			Help:      "Publish detail replacements by cluster.",
		}, []string{"cluster"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livesync",
			Name:      "updates_discarded_total",
			Help:      "Discarded update components by cluster and reason.",
		}, []string{"cluster", "reason"}),
	}

	err := registry.Register(ret.applied)
	if err != nil {
		return nil, fmt.Errorf("failed to register applied counter: %w", err)
	}

	err = registry.Register(ret.discarded)
	if err != nil {
		return nil, fmt.Errorf("failed to register discarded counter: %w", err)
	}

	return ret, nil
}

func (m *Metrics) countApplied(cluster entity.Cluster) {
	if m == nil {
		return
	}

	m.applied.WithLabelValues(string(cluster)).Inc()
}

func (m *Metrics) countDiscarded(cluster entity.Cluster, reason string) {
	if m == nil {
		return
	}

	m.discarded.WithLabelValues(string(cluster), reason).Inc()
}

// Engine applies the merge algorithm for one cluster.
type Engine struct {
	state   *state.ClusterState
	metrics *Metrics
	logger  logr.Logger
}

func NewEngine(clusterState *state.ClusterState, metrics *Metrics, logger logr.Logger) *Engine {
	return &Engine{
		state:   clusterState,
		metrics: metrics,
		logger:  logger.WithValues("cluster", clusterState.Name()),
	}
}

// Process merges one normalized price update into the publish detail index.
//
// For every watched publisher component: a record for an unseen key is
// created from the product metadata plus the incoming fields; an update with
// an equal or lower publish slot than the stored record is discarded;
// anything else replaces the stored record wholesale. The slot guard also
// covers identical redeliveries, since the publish slot is part of the
// compared record.
func (e *Engine) Process(ctx context.Context, event PriceUpdateEvent) error {
	cluster := e.state.Name()
	productKey := entity.ProductKey(event.Price.ProductAccountKey)

	if !e.state.IsPublishingProduct(productKey) {
		e.metrics.countDiscarded(cluster, discardUntrackedProduct)

		return nil
	}

	productPrice := event.Price.ProductPriceInfo()

	for _, component := range event.Price.Components {
		publisher := entity.PublisherKey(component.Publisher)

		if !e.state.HasPublisher(publisher) {
			continue
		}

		key := entity.JoinKey(productKey, publisher)
		publisherPrice := event.Price.PublisherPriceInfo(component)

		existing, ok := e.state.PublishDetail(key)
		if !ok {
			// first sight of this key through the live feed
			product, _ := e.state.Product(productKey)

			created := entity.PublishDetail{
				ProductInfo:        product,
				PublisherPriceInfo: publisherPrice,
				ProductPriceInfo:   productPrice,
			}

			e.state.SetPublishDetail(key, created)
			e.metrics.countApplied(cluster)

			continue
		}

		candidate := existing
		candidate.PublisherPriceInfo = publisherPrice
		candidate.ProductPriceInfo = productPrice

		// equal slots are duplicate deliveries, lower slots are reordered
		// ones; both would break slot monotonicity if merged
		if candidate.PublishSlot <= existing.PublishSlot {
			e.metrics.countDiscarded(cluster, discardStaleSlot)

			continue
		}

		e.state.SetPublishDetail(key, candidate)
		e.metrics.countApplied(cluster)

		e.logger.V(3).Info("Publish detail replaced",
			"origin", event.Origin,
			"key", key,
			"publishSlot", candidate.PublishSlot,
		)
	}

	return nil
}
