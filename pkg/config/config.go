// Package config holds runtime tunables for the workflow engine.
package config

import (
	"os"
	"strconv"
)

// DefaultHashSeed seeds the deterministic bucketing hash. Changing it
// silently reshuffles every experiment assignment across all tenants,
// so treat any change as a breaking one.
const DefaultHashSeed uint64 = 0x6c6f6f6d

// DefaultMaxGatewayDecisionsPerNode bounds the per-gateway decision
// history kept inside instance context.
const DefaultMaxGatewayDecisionsPerNode = 25

// Runtime carries the engine configuration shared by all advance cycles.
type Runtime struct {
	// MaxGatewayDecisionsPerNode caps the decision history array stored
	// under each gateway's reserved context key.
	MaxGatewayDecisionsPerNode int

	// HashSeed is the process-wide seed for experiment bucketing.
	HashSeed uint64

	// VerboseDiagnostics enables extra decision metadata in gateway
	// history entries.
	VerboseDiagnostics bool
}

// DefaultRuntime returns the engine defaults.
func DefaultRuntime() Runtime {
	return Runtime{
		MaxGatewayDecisionsPerNode: DefaultMaxGatewayDecisionsPerNode,
		HashSeed:                   DefaultHashSeed,
		VerboseDiagnostics:         false,
	}
}

// RuntimeFromEnv builds a Runtime from environment variables, falling
// back to defaults for anything unset or unparsable.
func RuntimeFromEnv() Runtime {
	cfg := DefaultRuntime()

	if raw := os.Getenv("LOOM_MAX_GATEWAY_DECISIONS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.MaxGatewayDecisionsPerNode = v
		}
	}

	if raw := os.Getenv("LOOM_HASH_SEED"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			cfg.HashSeed = v
		}
	}

	if raw := os.Getenv("LOOM_VERBOSE_DIAGNOSTICS"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.VerboseDiagnostics = v
		}
	}

	return cfg
}
