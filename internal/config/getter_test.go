package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
)

const (
	validKeyA = "AHtgzX45WTKfkPG53L6WYhGEXwQkN1BVknET3sVsLL8J"
	validKeyB = "BmA9Z6FjioHJPpjT39QazZyhDRUdZy2ezwx4GiDdE2u2"
)

func TestActiveClusters(t *testing.T) {
	conf := Config{
		Clusters: map[string]Cluster{
			"devnet": {
				RPCEndpoint: "https://api.devnet.solana.com",
				Publishers:  []string{validKeyA, validKeyB},
			},
			"mainnet-beta": {
				RPCEndpoint: "http://rpc.internal:8899",
				WSEndpoint:  "ws://rpc.internal:8900",
				Publishers:  []string{validKeyA},
			},
		},
	}

	active, issues := conf.ActiveClusters()

	require.Empty(t, issues)
	require.Len(t, active, 2)

	devnet := active[entity.ClusterDevnet]
	assert.Equal(t, "wss://api.devnet.solana.com", devnet.WSEndpoint)
	assert.Equal(t, []string{validKeyA, validKeyB}, devnet.Publishers)

	mainnet := active[entity.ClusterMainnetBeta]
	assert.Equal(t, "ws://rpc.internal:8900", mainnet.WSEndpoint)
}

func TestActiveClustersSkipsUnusable(t *testing.T) {
	conf := Config{
		Clusters: map[string]Cluster{
			"atlantisnet": {RPCEndpoint: "https://api.atlantis.example.com", Publishers: []string{validKeyA}},
			"testnet":     {Publishers: []string{validKeyA}},
			"pythnet":     {RPCEndpoint: "https://pythnet.rpcpool.com"},
			"devnet":      {RPCEndpoint: "https://api.devnet.solana.com", Publishers: []string{validKeyA}},
		},
	}

	active, issues := conf.ActiveClusters()

	require.Len(t, active, 1)
	assert.Contains(t, active, entity.ClusterDevnet)
	assert.Len(t, issues, 3)
}

func TestActiveClustersFiltersPublisherKeys(t *testing.T) {
	conf := Config{
		Clusters: map[string]Cluster{
			"devnet": {
				RPCEndpoint: "https://api.devnet.solana.com",
				Publishers:  []string{validKeyA, "not-a-key", validKeyA, "0OIl"},
			},
		},
	}

	active, issues := conf.ActiveClusters()

	require.Len(t, active, 1)
	assert.Equal(t, []string{validKeyA}, active[entity.ClusterDevnet].Publishers)
	assert.Len(t, issues, 2)
}
