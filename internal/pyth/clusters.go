package pyth

import (
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
)

// Mapping roots of the oracle program, one linked list head per deployment.
var mappingRoots = map[entity.Cluster]string{
	entity.ClusterMainnetBeta:         "AHtgzX45WTKfkPG53L6WYhGEXwQkN1BVknET3sVsLL8J",
	entity.ClusterPythnet:             "AHtgzX45WTKfkPG53L6WYhGEXwQkN1BVknET3sVsLL8J",
	entity.ClusterDevnet:              "BmA9Z6FjioHJPpjT39QazZyhDRUdZy2ezwx4GiDdE2u2",
	entity.ClusterPythtestCrosschain:  "BmA9Z6FjioHJPpjT39QazZyhDRUdZy2ezwx4GiDdE2u2",
	entity.ClusterTestnet:             "AFmdnt9ng1uVxqCmqwQJDAYC5cKTkw8gJKSM5PnzuF6z",
	entity.ClusterPythtestConformance: "AFmdnt9ng1uVxqCmqwQJDAYC5cKTkw8gJKSM5PnzuF6z",
	entity.ClusterLocalnet:            "BTJKZngp3vzeJiRmmT9PitQH4H29dhQZ1GNhxFfDi4kw",
}

// MappingAccountForCluster returns the root mapping account of a cluster.
func MappingAccountForCluster(cluster entity.Cluster) (string, error) {
	ret, ok := mappingRoots[cluster]
	if !ok {
		return "", fmt.Errorf("no mapping account for cluster %q", cluster)
	}

	return ret, nil
}

// IsAccountKey reports whether s is a well formed base58 account key.
func IsAccountKey(s string) bool {
	raw, err := base58.Decode(s)
	if err != nil {
		return false
	}

	return len(raw) == accountKeySize
}
