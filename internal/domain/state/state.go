// Package state holds the in-memory view of every monitored cluster. The
// container is partitioned by cluster; within a cluster each sub area has a
// single writer role: the bootstrap pipeline owns products and indices, the
// live sync engine owns publish details after bootstrap, the uptime refresher
// owns its series, user intents own selection flags.
package state

import (
	"fmt"
	"sync"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
)

// Store is the process wide container, one ClusterState per configured
// cluster.
type Store struct {
	mu       sync.RWMutex
	clusters map[entity.Cluster]*ClusterState
	order    []entity.Cluster
}

func NewStore() *Store {
	return &Store{
		clusters: make(map[entity.Cluster]*ClusterState),
	}
}

// AddCluster registers a cluster with its configured publishers. Publishers
// start selected with a zero permitted count, asset types start all enabled.
func (s *Store) AddCluster(cluster entity.Cluster, publishers []entity.PublisherKey) *ClusterState {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := &ClusterState{
		cluster:        cluster,
		status:         entity.ClusterStatus{Initializing: true},
		publishers:     make(map[entity.PublisherKey]entity.PublisherConfig, len(publishers)),
		assetTypes:     make(map[string]bool, len(entity.DefaultAssetTypes)),
		products:       make(map[entity.ProductKey]entity.ProductInfo),
		publishingKeys: make(map[entity.ProductKey]struct{}),
		publishDetails: make(map[entity.ProductAndPublisherKey]entity.PublishDetail),
		uptime:         make(map[entity.ProductAndPublisherKey][]entity.UptimeInfo),
	}

	for _, publisher := range publishers {
		cs.publishers[publisher] = entity.PublisherConfig{Selected: true}
	}

	for _, asset := range entity.DefaultAssetTypes {
		cs.assetTypes[asset] = true
	}

	s.clusters[cluster] = cs
	s.order = append(s.order, cluster)

	return cs
}

// Cluster returns the state of one cluster, or an error when the cluster is
// not configured.
func (s *Store) Cluster(cluster entity.Cluster) (*ClusterState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.clusters[cluster]
	if !ok {
		return nil, fmt.Errorf("unknown cluster %q", cluster)
	}

	return ret, nil
}

// Clusters returns the configured clusters in registration order.
func (s *Store) Clusters() []entity.Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]entity.Cluster, len(s.order))
	copy(ret, s.order)

	return ret
}

// ClusterState is the per cluster view. All methods are safe for concurrent
// use; correctness of concurrent merges is enforced by the single writer per
// sub area, not by this lock.
type ClusterState struct {
	mu sync.RWMutex

	cluster entity.Cluster

	status entity.ClusterStatus

	publishers map[entity.PublisherKey]entity.PublisherConfig
	assetTypes map[string]bool

	products       map[entity.ProductKey]entity.ProductInfo
	publishingKeys map[entity.ProductKey]struct{}
	publishDetails map[entity.ProductAndPublisherKey]entity.PublishDetail

	uptime map[entity.ProductAndPublisherKey][]entity.UptimeInfo

	errors []entity.AlertMessage
	warns  []entity.AlertMessage
}

func (c *ClusterState) Name() entity.Cluster {
	return c.cluster
}

// Lifecycle, owned by the bootstrap pipeline.

func (c *ClusterState) SetInitializationDescription(description string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.Description = description
}

func (c *ClusterState) SetInitializationError(description, title string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.Failed = true
	c.status.Description = description
	c.status.Title = title

	c.errors = append(c.errors, entity.AlertMessage{Title: title, Message: description})
}

func (c *ClusterState) CleanInitializationError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.Failed = false
	c.status.Initializing = true
	c.status.Description = ""
	c.status.Title = ""
}

func (c *ClusterState) SetInitializationFinished() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status = entity.ClusterStatus{Connected: true}
}

func (c *ClusterState) SetDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.Connected = false
}

func (c *ClusterState) Status() entity.ClusterStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status
}

// Publisher configuration. Selected is owned by user intents, PermittedCount
// by the bootstrap pipeline.

func (c *ClusterState) SetPublisherSelected(publisher entity.PublisherKey, selected bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conf, ok := c.publishers[publisher]
	if !ok {
		return fmt.Errorf("unknown publisher %q", publisher)
	}

	conf.Selected = selected
	c.publishers[publisher] = conf

	return nil
}

func (c *ClusterState) SetPublisherPermittedCount(publisher entity.PublisherKey, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conf, ok := c.publishers[publisher]
	if !ok {
		return
	}

	conf.PermittedCount = count
	c.publishers[publisher] = conf
}

// HasPublisher reports membership in the configured publisher set.
func (c *ClusterState) HasPublisher(publisher entity.PublisherKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.publishers[publisher]

	return ok
}

func (c *ClusterState) Publishers() map[entity.PublisherKey]entity.PublisherConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ret := make(map[entity.PublisherKey]entity.PublisherConfig, len(c.publishers))
	for k, v := range c.publishers {
		ret[k] = v
	}

	return ret
}

// Asset type selection, owned by user intents.

func (c *ClusterState) SetAssetSelected(asset string, selected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.assetTypes[asset] = selected
}

func (c *ClusterState) AssetTypes() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ret := make(map[string]bool, len(c.assetTypes))
	for k, v := range c.assetTypes {
		ret[k] = v
	}

	return ret
}

// Products and indices, owned by the bootstrap pipeline. Each full resync
// replaces them wholesale.

func (c *ClusterState) ReplaceProducts(products map[entity.ProductKey]entity.ProductInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.products = products
}

func (c *ClusterState) Product(key entity.ProductKey) (entity.ProductInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ret, ok := c.products[key]

	return ret, ok
}

func (c *ClusterState) ReplacePublishingProductKeys(keys []entity.ProductKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.publishingKeys = make(map[entity.ProductKey]struct{}, len(keys))
	for _, key := range keys {
		c.publishingKeys[key] = struct{}{}
	}
}

// IsPublishingProduct reports whether at least one watched publisher publishes
// the product.
func (c *ClusterState) IsPublishingProduct(key entity.ProductKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.publishingKeys[key]

	return ok
}

func (c *ClusterState) PublishingProductKeys() []entity.ProductKey {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ret := make([]entity.ProductKey, 0, len(c.publishingKeys))
	for key := range c.publishingKeys {
		ret = append(ret, key)
	}

	return ret
}

// Publish details. The bootstrap pipeline replaces the map once per resync,
// afterwards the live sync engine is the only writer.

func (c *ClusterState) ReplacePublishDetails(details map[entity.ProductAndPublisherKey]entity.PublishDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.publishDetails = details
}

func (c *ClusterState) SetPublishDetail(key entity.ProductAndPublisherKey, detail entity.PublishDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.publishDetails[key] = detail
}

func (c *ClusterState) PublishDetail(key entity.ProductAndPublisherKey) (entity.PublishDetail, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ret, ok := c.publishDetails[key]

	return ret, ok
}

func (c *ClusterState) PublishDetails() map[entity.ProductAndPublisherKey]entity.PublishDetail {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ret := make(map[entity.ProductAndPublisherKey]entity.PublishDetail, len(c.publishDetails))
	for k, v := range c.publishDetails {
		ret[k] = v
	}

	return ret
}

// Uptime series, owned by the uptime refresher. Series are replaced wholesale,
// never merged.

func (c *ClusterState) SetUptime(key entity.ProductAndPublisherKey, series []entity.UptimeInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.uptime[key] = series
}

func (c *ClusterState) Uptime(key entity.ProductAndPublisherKey) []entity.UptimeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.uptime[key]
}

// Alerts.

func (c *ClusterState) AddWarn(alert entity.AlertMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.warns = append(c.warns, alert)
}

func (c *ClusterState) Alerts() (errors, warns []entity.AlertMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	errors = append(errors, c.errors...)
	warns = append(warns, c.warns...)

	return errors, warns
}
