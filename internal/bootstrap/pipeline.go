// Package bootstrap runs the staged initialization of one cluster: walk the
// mapping list, resolve product and price accounts, build the derived
// indices, then hand the price accounts over to the live feed.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
	"github.com/pyth-watch/publisher-monitor/internal/domain/state"
	"github.com/pyth-watch/publisher-monitor/internal/pyth"
	"github.com/pyth-watch/publisher-monitor/internal/solana"
	"github.com/pyth-watch/publisher-monitor/pkg/pipeline"
)

// Connection reads account state.
type Connection interface {
	GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error)
	GetMultipleAccounts(ctx context.Context, addresses []string) ([]*solana.AccountInfo, error)
}

// Feed delivers account change notifications.
type Feed interface {
	Start(ctx context.Context) error
	OnAccountChange(address string, handler solana.AccountChangeHandler) error
}

type Pipeline struct {
	cluster entity.Cluster
	conn    Connection
	feed    Feed
	state   *state.ClusterState

	// live update handler attached to every subscribed price account
	handler solana.AccountChangeHandler

	logger logr.Logger
}

func New(cluster entity.Cluster, conn Connection, feed Feed, clusterState *state.ClusterState, handler solana.AccountChangeHandler, logger logr.Logger) *Pipeline {
	return &Pipeline{
		cluster: cluster,
		conn:    conn,
		feed:    feed,
		state:   clusterState,
		handler: handler,
		logger:  logger.WithValues("cluster", cluster),
	}
}

type keyedAccount struct {
	Address string
	Info    *solana.AccountInfo
}

// resync accumulates the indices of one pipeline run. A retry starts a fresh
// resync; a stale run's late writes are simply overwritten by the next one.
type resync struct {
	p *Pipeline

	products       map[entity.ProductKey]entity.ProductInfo
	publishingKeys []entity.ProductKey
	publishDetails map[entity.ProductAndPublisherKey]entity.PublishDetail
}

// Connect runs the whole bootstrap once. A failed run leaves the cluster in
// the failed state until Connect is invoked again.
func (p *Pipeline) Connect(ctx context.Context) error {
	p.state.CleanInitializationError()

	run := &resync{
		p:              p,
		products:       make(map[entity.ProductKey]entity.ProductInfo),
		publishDetails: make(map[entity.ProductAndPublisherKey]entity.PublishDetail),
	}

	runner := pipeline.NewRunner().WithLogger(p.logger)

	pipeline.AddStage(runner, "Fetch product pubkeys", run.fetchProductKeys)
	pipeline.AddStage(runner, "Fetch product accounts data", run.fetchProductAccounts)
	pipeline.AddStage(runner, "Fetch price accounts data", run.fetchPriceAccounts)
	pipeline.AddStage(runner, "Build indices", run.buildIndices)
	pipeline.AddStage(runner, "Start live feed", run.startFeed)
	pipeline.AddStage(runner, "Subscribe price accounts", run.subscribe)

	return runner.Execute(ctx, pipeline.Callbacks{
		Error: func(message, title string) {
			p.logger.V(0).Info("Bootstrap failed", "title", title, "message", message)
			p.state.SetInitializationError(message, title)
		},
		Complete: func() {
			p.logger.V(1).Info("Bootstrap finished")
			p.state.SetInitializationFinished()
		},
	})
}

func (r *resync) describe(description string) {
	r.p.logger.V(2).Info("Initializing", "description", description)
	r.p.state.SetInitializationDescription(description)
}

// fetchProductKeys walks the mapping linked list from the cluster root and
// concatenates the product address pages in traversal order.
func (r *resync) fetchProductKeys(ctx context.Context, _ struct{}) ([]string, error) {
	r.describe("Fetching product pubkeys...")

	mappingAccount, err := pyth.MappingAccountForCluster(r.p.cluster)
	if err != nil {
		return nil, err
	}

	productKeys := []string{}

	for mappingAccount != "" {
		info, err := r.p.conn.GetAccountInfo(ctx, mappingAccount)
		if err != nil {
			return nil, err
		}

		if info == nil {
			return nil, fmt.Errorf("%s mapping account %s not found", r.p.cluster, mappingAccount)
		}

		mapping, err := pyth.ParseMapping(info.Data)
		if err != nil {
			return nil, fmt.Errorf("mapping account %s: %w", mappingAccount, err)
		}

		productKeys = append(productKeys, mapping.ProductAccountKeys...)
		mappingAccount = mapping.NextMappingAccount
	}

	return productKeys, nil
}

func (r *resync) fetchProductAccounts(ctx context.Context, productKeys []string) ([]keyedAccount, error) {
	r.describe(fmt.Sprintf("Fetched product pubkeys, total: %d", len(productKeys)))
	r.describe("Fetching product accounts data...")

	infos, err := r.p.conn.GetMultipleAccounts(ctx, productKeys)
	if err != nil {
		return nil, err
	}

	ret := make([]keyedAccount, len(productKeys))

	for i, key := range productKeys {
		ret[i] = keyedAccount{Address: key, Info: infos[i]}
	}

	return ret, nil
}

// fetchPriceAccounts decodes the product accounts into the products index and
// fetches the price accounts they link to. Products without a linked price
// account are skipped.
func (r *resync) fetchPriceAccounts(ctx context.Context, productAccounts []keyedAccount) ([]keyedAccount, error) {
	r.describe(fmt.Sprintf("Fetched product accounts data, total: %d", len(productAccounts)))
	r.describe("Fetching price accounts data...")

	priceKeys := []string{}

	for _, account := range productAccounts {
		if account.Info == nil {
			continue
		}

		product, err := pyth.ParseProduct(account.Info.Data)
		if err != nil {
			return nil, fmt.Errorf("product account %s: %w", account.Address, err)
		}

		r.products[entity.ProductKey(account.Address)] = product.ProductInfo(account.Address)

		if product.PriceAccountKey != "" {
			priceKeys = append(priceKeys, product.PriceAccountKey)
		}
	}

	infos, err := r.p.conn.GetMultipleAccounts(ctx, priceKeys)
	if err != nil {
		return nil, err
	}

	ret := make([]keyedAccount, len(priceKeys))

	for i, key := range priceKeys {
		ret[i] = keyedAccount{Address: key, Info: infos[i]}
	}

	return ret, nil
}

// buildIndices produces one PublishDetail per (product, watched publisher)
// pair and publishes the three indices to the cluster state. It returns the
// price account addresses to subscribe to.
func (r *resync) buildIndices(ctx context.Context, priceAccounts []keyedAccount) ([]string, error) {
	r.describe(fmt.Sprintf("Fetched price accounts data, total: %d", len(priceAccounts)))

	for _, account := range priceAccounts {
		if account.Info == nil {
			continue
		}

		price, err := pyth.ParsePrice(account.Info.Data)
		if err != nil {
			return nil, fmt.Errorf("price account %s: %w", account.Address, err)
		}

		productKey := entity.ProductKey(price.ProductAccountKey)

		for _, component := range price.Components {
			publisher := entity.PublisherKey(component.Publisher)

			if !r.p.state.HasPublisher(publisher) {
				continue
			}

			r.publishingKeys = append(r.publishingKeys, productKey)

			detail := entity.PublishDetail{
				ProductInfo:        r.products[productKey],
				PublisherPriceInfo: price.PublisherPriceInfo(component),
				ProductPriceInfo:   price.ProductPriceInfo(),
			}

			r.publishDetails[entity.JoinKey(productKey, publisher)] = detail
		}
	}

	r.p.state.ReplaceProducts(r.products)
	r.p.state.ReplacePublishingProductKeys(uniqueKeys(r.publishingKeys))
	r.p.state.ReplacePublishDetails(r.publishDetails)

	for publisher := range r.p.state.Publishers() {
		permittedCount := 0

		for _, detail := range r.publishDetails {
			if detail.PublisherAccount == string(publisher) {
				permittedCount++
			}
		}

		r.describe(fmt.Sprintf("Updated publisher %s permissions, total: %d", publisher, permittedCount))
		r.p.state.SetPublisherPermittedCount(publisher, permittedCount)
	}

	r.describe(fmt.Sprintf("Filtered products, total: %d", len(r.publishDetails)))

	priceAccountSet := make(map[string]struct{}, len(r.publishDetails))
	subscriptions := []string{}

	for _, detail := range r.publishDetails {
		if _, seen := priceAccountSet[detail.PriceAccount]; seen {
			continue
		}

		priceAccountSet[detail.PriceAccount] = struct{}{}
		subscriptions = append(subscriptions, detail.PriceAccount)
	}

	return subscriptions, nil
}

func (r *resync) startFeed(ctx context.Context, subscriptions []string) ([]string, error) {
	r.describe("Starting live feed...")

	err := r.p.feed.Start(ctx)
	if err != nil {
		return nil, err
	}

	return subscriptions, nil
}

func (r *resync) subscribe(ctx context.Context, subscriptions []string) (int, error) {
	r.describe("Subscribing to price account changes...")

	for _, address := range subscriptions {
		err := r.p.feed.OnAccountChange(address, r.p.handler)
		if err != nil {
			return 0, err
		}
	}

	return len(subscriptions), nil
}

func uniqueKeys(keys []entity.ProductKey) []entity.ProductKey {
	seen := make(map[entity.ProductKey]struct{}, len(keys))
	ret := make([]entity.ProductKey, 0, len(keys))

	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		ret = append(ret, key)
	}

	return ret
}
