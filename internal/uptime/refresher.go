package uptime

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
	"github.com/jonboulle/clockwork"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
	"github.com/pyth-watch/publisher-monitor/internal/domain/state"
)

// Fetcher reads one uptime series.
type Fetcher interface {
	FetchUptime(ctx context.Context, symbol string, cluster entity.Cluster, publisher entity.PublisherKey) ([]entity.UptimeInfo, error)
}

type Config struct {
	// Cadence aligns refreshes to wall clock boundaries, so all tracked
	// feeds refresh in predictable clusters.
	Cadence time.Duration
	// MaxAttempt and Delay bound the retry of one fetch.
	MaxAttempt uint
	Delay      time.Duration
	MaxJitter  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Cadence:    10 * time.Minute,
		MaxAttempt: 3,
		Delay:      10 * time.Second,
		MaxJitter:  time.Second,
	}
}

// Refresher owns the uptime series of one cluster. Tracking a feed fetches
// its series immediately when none is cached, then keeps refreshing on the
// cadence. A failed refresh leaves the previous series in place.
type Refresher struct {
	fetcher Fetcher
	state   *state.ClusterState
	clock   clockwork.Clock
	config  Config
	logger  logr.Logger

	mu      sync.Mutex
	tracked map[entity.ProductAndPublisherKey]struct{}
}

func NewRefresher(fetcher Fetcher, clusterState *state.ClusterState, clock clockwork.Clock, config Config, logger logr.Logger) *Refresher {
	return &Refresher{
		fetcher: fetcher,
		state:   clusterState,
		clock:   clock,
		config:  config,
		logger:  logger.WithValues("cluster", clusterState.Name()),
		tracked: make(map[entity.ProductAndPublisherKey]struct{}),
	}
}

// Track starts refreshing the series of one feed. Tracking an already
// tracked feed is a no-op.
func (r *Refresher) Track(ctx context.Context, detail entity.PublishDetail) {
	key := entity.JoinKey(entity.ProductKey(detail.ProductAccount), entity.PublisherKey(detail.PublisherAccount))

	r.mu.Lock()
	_, ok := r.tracked[key]
	if !ok {
		r.tracked[key] = struct{}{}
	}
	r.mu.Unlock()

	if ok {
		return
	}

	go r.loop(ctx, key, detail.Symbol, entity.PublisherKey(detail.PublisherAccount))
}

func (r *Refresher) loop(ctx context.Context, key entity.ProductAndPublisherKey, symbol string, publisher entity.PublisherKey) {
	if len(r.state.Uptime(key)) == 0 {
		r.refresh(ctx, key, symbol, publisher)
	}

	for {
		wait := r.untilNextBoundary()

		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(wait):
		}

		r.refresh(ctx, key, symbol, publisher)
	}
}

// untilNextBoundary returns the time left to the next cadence boundary,
// measured from the wall clock epoch rather than from the last fetch.
func (r *Refresher) untilNextBoundary() time.Duration {
	now := r.clock.Now()

	return now.Truncate(r.config.Cadence).Add(r.config.Cadence).Sub(now)
}

func (r *Refresher) refresh(ctx context.Context, key entity.ProductAndPublisherKey, symbol string, publisher entity.PublisherKey) {
	series, err := r.Fetch(ctx, symbol, publisher)
	if err != nil {
		// keep showing the previous, possibly empty, series
		r.logger.V(1).Info("Uptime refresh failed", "key", key, "err", err)

		return
	}

	r.state.SetUptime(key, series)
	r.logger.V(3).Info("Uptime refreshed", "key", key, "points", len(series))
}

// Fetch reads one series with bounded retry. Exhausting the attempts
// propagates the last error to the caller.
func (r *Refresher) Fetch(ctx context.Context, symbol string, publisher entity.PublisherKey) ([]entity.UptimeInfo, error) {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(r.config.MaxAttempt),
		retry.Delay(r.config.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	}

	if r.config.MaxJitter > 0 {
		opts = append(opts,
			retry.MaxJitter(r.config.MaxJitter),
			retry.DelayType(retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)),
		)
	}

	return retry.DoWithData(
		func() ([]entity.UptimeInfo, error) {
			return r.fetcher.FetchUptime(ctx, symbol, r.state.Name(), publisher)
		},
		opts...,
	)
}
