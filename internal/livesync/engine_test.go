package livesync

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
	"github.com/pyth-watch/publisher-monitor/internal/domain/state"
	"github.com/pyth-watch/publisher-monitor/internal/pyth"
)

const (
	productP1   = "ProductP1Key"
	productP2   = "ProductP2Key"
	priceA      = "PriceAccountA"
	publisherX  = entity.PublisherKey("PublisherXKey")
	publisherY  = entity.PublisherKey("PublisherYKey")
	detailKeyP1 = entity.ProductAndPublisherKey(productP1 + "_" + string(publisherX))
)

func newTestEngine(t *testing.T) (*Engine, *state.ClusterState) {
	t.Helper()

	store := state.NewStore()
	cs := store.AddCluster(entity.ClusterDevnet, []entity.PublisherKey{publisherX})

	cs.ReplaceProducts(map[entity.ProductKey]entity.ProductInfo{
		productP1: {
			Symbol:         "Crypto.RAY/USD",
			Base:           "RAY",
			AssetType:      "Crypto",
			PriceAccount:   priceA,
			ProductAccount: productP1,
		},
	})
	cs.ReplacePublishingProductKeys([]entity.ProductKey{productP1})

	return NewEngine(cs, nil, logr.Discard()), cs
}

func priceUpdate(product string, price int64, slot uint64) PriceUpdateEvent {
	return FromPriceFeed(&pyth.PriceAccount{
		Exponent:          -8,
		ProductAccountKey: product,
		ValidSlot:         slot,
		Timestamp:         1700000000,
		Aggregate: pyth.PriceInfo{
			PriceComponent:      price,
			ConfidenceComponent: 1000000,
			Status:              entity.PriceStatusTrading,
			PublishSlot:         slot,
		},
		Components: []pyth.PriceComponent{
			{
				Publisher: string(publisherX),
				Latest: pyth.PriceInfo{
					PriceComponent:      price,
					ConfidenceComponent: 2000000,
					Status:              entity.PriceStatusTrading,
					PublishSlot:         slot,
				},
			},
			{
				// not in the configured publisher set, must be ignored
				Publisher: string(publisherY),
				Latest: pyth.PriceInfo{
					PriceComponent:      price,
					ConfidenceComponent: 1,
					Status:              entity.PriceStatusTrading,
					PublishSlot:         slot,
				},
			},
		},
	})
}

func TestProcessUntrackedProductIsNoOp(t *testing.T) {
	engine, cs := newTestEngine(t)

	err := engine.Process(context.Background(), priceUpdate(productP2, 100, 5))
	require.NoError(t, err)

	assert.Empty(t, cs.PublishDetails())
}

func TestProcessFirstSightCreatesDetail(t *testing.T) {
	engine, cs := newTestEngine(t)

	err := engine.Process(context.Background(), priceUpdate(productP1, 4212500000, 5))
	require.NoError(t, err)

	detail, ok := cs.PublishDetail(detailKeyP1)
	require.True(t, ok)

	assert.Equal(t, uint64(5), detail.PublishSlot)
	assert.Equal(t, "42.125", detail.PublishPrice)
	assert.Equal(t, "RAY", detail.Base, "product metadata is folded into the baseline")
	assert.Equal(t, string(publisherX), detail.PublisherAccount)

	_, ok = cs.PublishDetail(entity.JoinKey(productP1, publisherY))
	assert.False(t, ok, "unwatched publisher components are skipped")
}

func TestProcessDuplicateSlotIsDiscarded(t *testing.T) {
	engine, cs := newTestEngine(t)

	require.NoError(t, engine.Process(context.Background(), priceUpdate(productP1, 100, 10)))

	before, _ := cs.PublishDetail(detailKeyP1)

	// same slot, same values: second application must be a no-op
	require.NoError(t, engine.Process(context.Background(), priceUpdate(productP1, 100, 10)))

	after, _ := cs.PublishDetail(detailKeyP1)
	assert.Equal(t, before, after)
}

func TestProcessLowerSlotIsDiscarded(t *testing.T) {
	engine, cs := newTestEngine(t)

	require.NoError(t, engine.Process(context.Background(), priceUpdate(productP1, 100, 10)))
	require.NoError(t, engine.Process(context.Background(), priceUpdate(productP1, 999, 9)))

	detail, _ := cs.PublishDetail(detailKeyP1)
	assert.Equal(t, uint64(10), detail.PublishSlot)
	assert.Equal(t, "0.000001", detail.PublishPrice)
}

func TestProcessHigherSlotReplaces(t *testing.T) {
	engine, cs := newTestEngine(t)

	require.NoError(t, engine.Process(context.Background(), priceUpdate(productP1, 100, 10)))
	require.NoError(t, engine.Process(context.Background(), priceUpdate(productP1, 200, 11)))

	detail, _ := cs.PublishDetail(detailKeyP1)
	assert.Equal(t, uint64(11), detail.PublishSlot)
	assert.Equal(t, "0.000002", detail.PublishPrice)
}

func TestProcessStaleSlotReasonCoversRedelivery(t *testing.T) {
	registry := prometheus.NewRegistry()

	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	store := state.NewStore()
	cs := store.AddCluster(entity.ClusterDevnet, []entity.PublisherKey{publisherX})
	cs.ReplaceProducts(map[entity.ProductKey]entity.ProductInfo{productP1: {ProductAccount: productP1}})
	cs.ReplacePublishingProductKeys([]entity.ProductKey{productP1})

	engine := NewEngine(cs, metrics, logr.Discard())

	require.NoError(t, engine.Process(context.Background(), priceUpdate(productP1, 100, 10)))
	// identical redelivery, caught by the slot guard
	require.NoError(t, engine.Process(context.Background(), priceUpdate(productP1, 100, 10)))

	reasons := map[string]float64{}

	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != "livesync_updates_discarded_total" {
			continue
		}

		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "reason" {
					reasons[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}

	assert.Equal(t, map[string]float64{discardStaleSlot: 1}, reasons)
}

func TestProcessSlotIsMonotonicallyNonDecreasing(t *testing.T) {
	engine, cs := newTestEngine(t)

	lastSlot := uint64(0)

	for _, slot := range []uint64{5, 3, 7, 7, 6, 12, 11, 12, 15} {
		require.NoError(t, engine.Process(context.Background(), priceUpdate(productP1, int64(slot)*100, slot)))

		detail, ok := cs.PublishDetail(detailKeyP1)
		require.True(t, ok)

		assert.GreaterOrEqual(t, detail.PublishSlot, lastSlot)
		lastSlot = detail.PublishSlot
	}

	assert.Equal(t, uint64(15), lastSlot)
}

func TestFromAccountChangeRejectsGarbage(t *testing.T) {
	_, err := FromAccountChange([]byte("not a price account"), 1)
	assert.Error(t, err)
}
