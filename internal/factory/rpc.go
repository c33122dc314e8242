package factory

import (
	"github.com/go-logr/logr"

	"github.com/pyth-watch/publisher-monitor/internal/config"
	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
	"github.com/pyth-watch/publisher-monitor/internal/domain/state"
	"github.com/pyth-watch/publisher-monitor/internal/solana"
)

// CreateConnection builds the RPC client and the account subscription feed
// of one cluster. A dropped websocket marks the cluster disconnected, the
// bootstrap pipeline has to be rerun to recover.
func CreateConnection(conf config.Cluster, clusterState *state.ClusterState, logger logr.Logger) (*solana.Client, *solana.PubSub) {
	client := solana.NewClient(conf.RPCEndpoint)

	pubsub := solana.NewPubSub(conf.WSEndpoint, logger)
	pubsub.SetDisconnectHandler(func(err error) {
		clusterState.SetDisconnected()
		clusterState.AddWarn(entity.AlertMessage{
			Title:   "Connection lost",
			Message: err.Error(),
		})
	})

	return client, pubsub
}
