// Package config defines the server's tunables, their defaults, and the two
// ways an operator supplies them: a JSON file and command-line flags.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/creachadair/flax"
)

// Config collects every tunable named by the server's configuration
// surface. Zero values are not meaningful; use Default to obtain a
// ready-to-use Config, or Load to start from Default and overlay a file.
type Config struct {
	BrokerAddress string `json:"brokerAddress" flag:"broker-address,,broker connection address"`
	LegalName     string `json:"legalName" flag:"legal-name,,this server's own validated-user identity"`

	RPCThreadPoolSize int `json:"rpcThreadPoolSize" flag:"rpc-threads,4,dispatcher goroutine pool size"`
	ConsumerPoolSize  int `json:"consumerPoolSize" flag:"consumer-threads,1,ingress consumer pool size"`
	ProducerPoolBound int `json:"producerPoolBound" flag:"producer-pool,4,session pool slot count"`
	ReapIntervalMs    int `json:"reapIntervalMs" flag:"reap-interval-ms,1000,reaper tick interval in milliseconds"`
}

// Default returns a Config with every documented default applied.
func Default() Config {
	return Config{
		RPCThreadPoolSize: 4,
		ConsumerPoolSize:  1,
		ProducerPoolBound: 4,
		ReapIntervalMs:    1000,
	}
}

// ReapInterval reports the reap interval as a time.Duration.
func (c Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalMs) * time.Millisecond
}

// Load reads path as JSON and overlays it onto Default, reporting an error
// if the file cannot be read or decoded. A zero field in the file leaves
// the corresponding default in place only for fields JSON omits entirely;
// a field explicitly set to zero in the file overrides the default with
// zero, following ordinary encoding/json semantics.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Bind registers fs flags for every field of cfg tagged with `flag:"..."`,
// using flax's struct-tag binding; after the caller parses fs, cfg holds
// the populated values.
func Bind(fs *flag.FlagSet, cfg *Config) {
	flax.MustBind(fs, cfg)
}
