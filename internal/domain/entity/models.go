package entity

import "fmt"

// Cluster identifies one isolated network being monitored. All other entities
// are namespaced by cluster.
type Cluster string

const (
	ClusterMainnetBeta         Cluster = "mainnet-beta"
	ClusterDevnet              Cluster = "devnet"
	ClusterTestnet             Cluster = "testnet"
	ClusterPythnet             Cluster = "pythnet"
	ClusterPythtestConformance Cluster = "pythtest-conformance"
	ClusterPythtestCrosschain  Cluster = "pythtest-crosschain"
	ClusterLocalnet            Cluster = "localnet"
)

// KnownClusters lists every cluster the monitor can be configured for, in
// display order.
var KnownClusters = []Cluster{
	ClusterMainnetBeta,
	ClusterDevnet,
	ClusterTestnet,
	ClusterPythnet,
	ClusterPythtestConformance,
	ClusterPythtestCrosschain,
	ClusterLocalnet,
}

type (
	PublisherKey           string
	ProductKey             string
	ProductAndPublisherKey string
)

// JoinKey builds the composite index key for one (product, publisher) pair.
func JoinKey(product ProductKey, publisher PublisherKey) ProductAndPublisherKey {
	return ProductAndPublisherKey(fmt.Sprintf("%s_%s", product, publisher))
}

// PriceStatus mirrors the on-chain trading status of a price.
type PriceStatus uint32

const (
	PriceStatusUnknown PriceStatus = iota
	PriceStatusTrading
	PriceStatusHalted
	PriceStatusAuction
)

func (s PriceStatus) String() string {
	switch s {
	case PriceStatusTrading:
		return "Trading"
	case PriceStatusHalted:
		return "Halted"
	case PriceStatusAuction:
		return "Auction"
	default:
		return "Unknown"
	}
}

func (s PriceStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PriceStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Trading":
		*s = PriceStatusTrading
	case "Halted":
		*s = PriceStatusHalted
	case "Auction":
		*s = PriceStatusAuction
	case "Unknown":
		*s = PriceStatusUnknown
	default:
		return fmt.Errorf("unknown price status %q", text)
	}

	return nil
}

// ProductInfo is the static metadata of one tradable instrument, decoded once
// from its product account during bootstrap and immutable afterwards.
type ProductInfo struct {
	Symbol         string `json:"symbol"`
	Base           string `json:"base"`
	QuoteCurrency  string `json:"quoteCurrency"`
	AssetType      string `json:"assetType"`
	GenericSymbol  string `json:"genericSymbol"`
	Description    string `json:"description"`
	PriceAccount   string `json:"priceAccount"`
	ProductAccount string `json:"productAccount"`
}

// PublisherPriceInfo is the last price one publisher reported for a product.
type PublisherPriceInfo struct {
	PublishPrice      string      `json:"publishPrice"`
	PublishConfidence string      `json:"publishConfidence"`
	PublishStatus     PriceStatus `json:"publishStatus"`
	PublishSlot       uint64      `json:"publishSlot"`
	PublisherAccount  string      `json:"publisherAccount"`
}

// ProductPriceInfo is the product level aggregate price.
type ProductPriceInfo struct {
	ProductStatus     PriceStatus `json:"productStatus"`
	ProductPrice      string      `json:"productPrice"`
	ProductConfidence string      `json:"productConfidence"`
	ValidSlot         uint64      `json:"validSlot"`
	Timestamp         int64       `json:"timestamp"`
}

// PublishDetail is the per (product, publisher) record the live sync engine
// maintains. It is a plain value of scalars so two details compare with ==,
// which is what the change detection relies on.
type PublishDetail struct {
	ProductInfo
	PublisherPriceInfo
	ProductPriceInfo
}

// PublisherConfig is the monitoring configuration of one publisher.
// Selected is owned by user intents, PermittedCount by the bootstrap pipeline.
type PublisherConfig struct {
	Selected       bool `json:"selected"`
	PermittedCount int  `json:"permittedCount"`
}

// ClusterStatus describes the bootstrap lifecycle of one cluster.
type ClusterStatus struct {
	Connected    bool   `json:"connected"`
	Initializing bool   `json:"initializing"`
	Failed       bool   `json:"failed"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
}

// UptimeInfo is one point of the per feed uptime series.
type UptimeInfo struct {
	Timestamp          string  `json:"timestamp"`
	AggregateSlotCount int64   `json:"aggregateSlotCount"`
	PublisherSlotCount int64   `json:"publisherSlotCount"`
	SlotHitRate        float64 `json:"slotHitRate"`
}

// AlertMessage is a user visible error or warning for one cluster.
type AlertMessage struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// DefaultAssetTypes are the asset classes selectable on the dashboard, all
// enabled initially.
var DefaultAssetTypes = []string{"Crypto", "Equity", "FX", "Metal", "Rates"}
