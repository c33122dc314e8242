package config

import "time"

type Config struct {
	GracefulDuration time.Duration
	Metrics          Metrics
	API              API
	Logs             Logs
	Uptime           Uptime
	Clusters         map[string]Cluster
}

type Metrics struct {
	Port int
}

type API struct {
	Port int
}

type Logs struct {
	Level   int
	Encoder EncoderType
}

type EncoderType string

const (
	EncoderTypeJson    EncoderType = "json"
	EncoderTypeConsole EncoderType = "console"
)

type Uptime struct {
	BaseURL    string
	Cadence    time.Duration
	MaxAttempt uint
	Delay      time.Duration
	MaxJitter  time.Duration
}

// Cluster holds the endpoints of one Solana cluster and the publisher keys
// watched on it. WSEndpoint is optional and derived from RPCEndpoint when
// empty.
type Cluster struct {
	RPCEndpoint string
	WSEndpoint  string
	Publishers  []string
}
