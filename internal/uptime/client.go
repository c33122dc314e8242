// Package uptime reads the per feed uptime series from the metrics HTTP API
// and keeps it fresh on a fixed wall clock cadence.
package uptime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
)

const uptimeRange = "24H"

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type uptimePoint struct {
	Timestamp          string  `json:"timestamp"`
	AggregateSlotCount int64   `json:"aggregate_slot_count"`
	PublisherSlotCount int64   `json:"publisher_slot_count"`
	SlotHitRate        float64 `json:"slot_hit_rate"`
}

// FetchUptime reads the 24 hour uptime series of one (symbol, publisher)
// pair.
func (c *Client) FetchUptime(ctx context.Context, symbol string, cluster entity.Cluster, publisher entity.PublisherKey) ([]entity.UptimeInfo, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("range", uptimeRange)
	query.Set("cluster", string(cluster))
	query.Set("publisher", string(publisher))

	endpoint := fmt.Sprintf("%s/metrics/uptime?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create uptime request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uptime fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("uptime fetch failed: status %d", resp.StatusCode)
	}

	points := []uptimePoint{}

	err = json.NewDecoder(resp.Body).Decode(&points)
	if err != nil {
		return nil, fmt.Errorf("failed to decode uptime response: %w", err)
	}

	ret := make([]entity.UptimeInfo, 0, len(points))

	for _, point := range points {
		ret = append(ret, entity.UptimeInfo{
			Timestamp:          point.Timestamp,
			AggregateSlotCount: point.AggregateSlotCount,
			PublisherSlotCount: point.PublisherSlotCount,
			SlotHitRate:        point.SlotHitRate,
		})
	}

	return ret, nil
}
