// Package config loads the process configuration for the coordinator and
// worker binaries. The full REST/CLI configuration surface named in
// spec.md §1 is an external collaborator; this package only covers what
// the two binaries need in order to start.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CoordinatorConfig configures a coordinator process.
type CoordinatorConfig struct {
	BindAddr        string        `yaml:"bindAddr"`
	DataPort        int           `yaml:"dataPort"`
	MetricsAddr     string        `yaml:"metricsAddr"`
	RPCTimeout      time.Duration `yaml:"rpcTimeout"`
	RPCMaxRetries   int           `yaml:"rpcMaxRetries"`
	RPCBackoffBase  time.Duration `yaml:"rpcBackoffBase"`
	TerminationWait time.Duration `yaml:"terminationWait"`
	DataDir         string        `yaml:"dataDir"`

	// Workers, LogicalSources and PhysicalSources bootstrap the
	// topology and source catalog at startup: spec.md §6 marks worker
	// self-registration RPC names as illustrative, not binding, so
	// cmd/fluxmesh's "coordinator serve" dials each entry below via
	// pkg/rpc.Dial instead of waiting for workers to announce themselves.
	Workers         []WorkerEntry         `yaml:"workers"`
	LogicalSources  []LogicalSourceEntry  `yaml:"logicalSources"`
	PhysicalSources []PhysicalSourceEntry `yaml:"physicalSources"`
}

// WorkerEntry is one cluster member the coordinator dials at startup.
type WorkerEntry struct {
	Address string `yaml:"address"`
	Slots   int    `yaml:"slots"`
}

// LogicalSourceEntry registers one named schema at startup.
type LogicalSourceEntry struct {
	Name   string      `yaml:"name"`
	Fields []FieldSpec `yaml:"fields"`
}

// FieldSpec is one column of a bootstrap LogicalSourceEntry's schema.
type FieldSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// PhysicalSourceEntry binds a physical source to a logical source on a
// specific worker, identified by its position in Workers above.
type PhysicalSourceEntry struct {
	WorkerIndex  int    `yaml:"workerIndex"`
	LogicalName  string `yaml:"logicalName"`
	PhysicalName string `yaml:"physicalName"`
}

// WorkerConfig configures a worker process.
type WorkerConfig struct {
	NodeID           uint64        `yaml:"workerId"`
	CoordinatorAddr  string        `yaml:"coordinatorAddr"`
	BindAddr         string        `yaml:"bindAddr"`
	DataPort         int           `yaml:"dataPort"`
	MetricsAddr      string        `yaml:"metricsAddr"`
	Slots            int           `yaml:"slots"`
	HandlerThreads   int           `yaml:"handlerThreads"`
	QueueMode        string        `yaml:"queueMode"` // "dynamic" or "per-query"
	PerQueryQueues   int           `yaml:"perQueryQueues"`
	RetryBudget      int           `yaml:"retryBudget"`
	RetryBackoffBase time.Duration `yaml:"retryBackoffBase"`
	ConfigPath       string        `yaml:"-"`
}

// DefaultCoordinatorConfig returns the baseline configuration, matching the
// defaults spec.md §5 names (10 minute termination deadline, 3 second RPC
// timeout).
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		BindAddr:        "0.0.0.0:4000",
		DataPort:        4001,
		MetricsAddr:     "0.0.0.0:9090",
		RPCTimeout:      3 * time.Second,
		RPCMaxRetries:   5,
		RPCBackoffBase:  100 * time.Millisecond,
		TerminationWait: 10 * time.Minute,
		DataDir:         "./data",
	}
}

// DefaultWorkerConfig returns the baseline worker configuration.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		BindAddr:         "0.0.0.0:5000",
		DataPort:         5001,
		MetricsAddr:      "0.0.0.0:9091",
		Slots:            8,
		HandlerThreads:   4,
		QueueMode:        "dynamic",
		PerQueryQueues:   2,
		RetryBudget:      5,
		RetryBackoffBase: 100 * time.Millisecond,
	}
}

// LoadCoordinatorConfig reads a YAML file over the defaults.
func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	cfg := DefaultCoordinatorConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coordinator config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse coordinator config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWorkerConfig reads a YAML file over the defaults.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse worker config %s: %w", path, err)
	}
	cfg.ConfigPath = path
	return cfg, nil
}

// PersistWorkerID writes the coordinator-assigned worker id back into the
// worker's YAML config file, overwriting any prior value (spec.md §6,
// "Persisted worker identity").
func PersistWorkerID(cfg *WorkerConfig, assignedID uint64) error {
	cfg.NodeID = assignedID
	if cfg.ConfigPath == "" {
		return nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal worker config: %w", err)
	}
	if err := os.WriteFile(cfg.ConfigPath, data, 0644); err != nil {
		return fmt.Errorf("failed to persist worker id to %s: %w", cfg.ConfigPath, err)
	}
	return nil
}
