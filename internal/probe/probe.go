// Package probe collects CPU and memory utilization snapshots.
//
// A Probe is the collector side of the sampling loop. Two implementations
// ship with aura: HostProbe reads the local machine through gopsutil, and
// SNMPProbe reads a remote agent's HOST-RESOURCES-MIB.
package probe

import (
	"context"
	"strings"
	"time"

	"github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/storage/types"
)

var log = logging.Component("probe")

// Probe produces one utilization snapshot per call.
type Probe interface {
	Name() string
	Collect(ctx context.Context) (types.Snapshot, error)
}

// Func adapts a plain function to Probe.
type Func func(ctx context.Context) (types.Snapshot, error)

// Name implements Probe.
func (f Func) Name() string { return "func" }

// Collect implements Probe.
func (f Func) Collect(ctx context.Context) (types.Snapshot, error) { return f(ctx) }

// =============================================================================
// Configuration
// =============================================================================

// Probe kinds accepted by Config.Kind.
const (
	KindHost = "host"
	KindSNMP = "snmp"
)

// Config selects and configures a probe.
type Config struct {
	Kind string `yaml:"kind"`

	// PrimeInterval is the gap between the host probe's two priming samples.
	PrimeInterval time.Duration `yaml:"prime_interval"`

	// TopProcesses, when > 0, logs the heaviest processes with each host
	// collection at debug level.
	TopProcesses int `yaml:"top_processes"`

	SNMP SNMPConfig `yaml:"snmp"`
}

// DefaultConfig returns a host probe configuration.
func DefaultConfig() Config {
	return Config{
		Kind:          KindHost,
		PrimeInterval: config.DefaultCPUPrimeInterval,
		SNMP: SNMPConfig{
			Port:      config.DefaultSNMPPort,
			TimeoutMs: config.DefaultSNMPTimeoutMs,
			Retries:   config.DefaultSNMPRetries,
		},
	}
}

// Validate checks the configuration for the selected kind.
func (c Config) Validate() error {
	switch strings.ToLower(c.Kind) {
	case "", KindHost:
		if c.PrimeInterval < 0 {
			return errors.NewInvalidConfig("probe.prime_interval", "must be >= 0")
		}
		if c.TopProcesses < 0 {
			return errors.NewInvalidConfig("probe.top_processes", "must be >= 0")
		}
		return nil
	case KindSNMP:
		return c.SNMP.Validate()
	default:
		return errors.NewInvalidConfig("probe.kind", "must be host or snmp, got "+c.Kind)
	}
}

// New builds the probe described by cfg.
func New(cfg Config, clock types.Clock) (Probe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Kind) {
	case KindSNMP:
		return NewSNMPProbe(cfg.SNMP, clock), nil
	default:
		h := NewHostProbe(cfg.PrimeInterval, clock)
		h.TopProcesses = cfg.TopProcesses
		return h, nil
	}
}

// clampPercent pulls rounding noise back into [0, 100]. NaN passes through
// so that snapshot validation rejects it.
func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
