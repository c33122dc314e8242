package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
	"github.com/pyth-watch/publisher-monitor/internal/pyth"
)

const prefix = "PYTHMON"

var conf Config

// Parse reads the configuration file given as parameter.
func Parse(confFile string) (*Config, error) {
	setDefault()

	viper.SetEnvPrefix(prefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if len(confFile) > 0 {
		viper.SetConfigFile(confFile)

		err := viper.ReadInConfig()
		if err != nil {
			return &conf, fmt.Errorf("failed to read config file %v: %w", confFile, err)
		}
	}

	err := viper.Unmarshal(&conf)
	if err != nil {
		return &conf, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &conf, nil
}

func setDefault() {
	viper.SetDefault("gracefulDuration", "8s")
	viper.SetDefault("logs.level", 4)
	viper.SetDefault("logs.encoder", EncoderTypeConsole)
	viper.SetDefault("metrics.port", 7777)
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("uptime.baseURL", "https://web-api.pyth.network")
	viper.SetDefault("uptime.cadence", "10m")
	viper.SetDefault("uptime.maxAttempt", 3)
	viper.SetDefault("uptime.delay", "10s")
	viper.SetDefault("uptime.maxJitter", "1s")
}

// ActiveClusters resolves the configured clusters against the known
// deployments. Unknown cluster names and clusters without an RPC endpoint
// are dropped, malformed publisher keys are dropped with the reason
// returned per cluster, and a missing websocket endpoint is derived from
// the RPC one.
func (c *Config) ActiveClusters() (map[entity.Cluster]Cluster, []error) {
	active := make(map[entity.Cluster]Cluster)
	issues := []error{}

	for name, clusterConf := range c.Clusters {
		cluster := entity.Cluster(name)

		_, err := pyth.MappingAccountForCluster(cluster)
		if err != nil {
			issues = append(issues, fmt.Errorf("skipping cluster %q: %w", name, err))

			continue
		}

		if clusterConf.RPCEndpoint == "" {
			issues = append(issues, fmt.Errorf("skipping cluster %q: no rpc endpoint", name))

			continue
		}

		if clusterConf.WSEndpoint == "" {
			clusterConf.WSEndpoint = deriveWSEndpoint(clusterConf.RPCEndpoint)
		}

		publishers, errs := validPublishers(cluster, clusterConf.Publishers)
		issues = append(issues, errs...)

		if len(publishers) == 0 {
			issues = append(issues, fmt.Errorf("skipping cluster %q: no valid publisher configured", name))

			continue
		}

		clusterConf.Publishers = publishers
		active[cluster] = clusterConf
	}

	return active, issues
}

func deriveWSEndpoint(rpcEndpoint string) string {
	switch {
	case strings.HasPrefix(rpcEndpoint, "https://"):
		return "wss://" + strings.TrimPrefix(rpcEndpoint, "https://")
	case strings.HasPrefix(rpcEndpoint, "http://"):
		return "ws://" + strings.TrimPrefix(rpcEndpoint, "http://")
	default:
		return rpcEndpoint
	}
}

func validPublishers(cluster entity.Cluster, publishers []string) ([]string, []error) {
	ret := make([]string, 0, len(publishers))
	seen := make(map[string]struct{}, len(publishers))
	issues := []error{}

	for _, publisher := range publishers {
		if !pyth.IsAccountKey(publisher) {
			issues = append(issues, fmt.Errorf("cluster %q: dropping malformed publisher key %q", cluster, publisher))

			continue
		}

		_, ok := seen[publisher]
		if ok {
			continue
		}

		seen[publisher] = struct{}{}
		ret = append(ret, publisher)
	}

	return ret, issues
}
