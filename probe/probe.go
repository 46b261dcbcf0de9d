package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Behavior classifies how a gateway assigns external ports across a series
// of mapping requests.
type Behavior int

const (
	// BehaviorUnknown means too few samples to classify.
	BehaviorUnknown Behavior = iota
	// BehaviorPreserving means the gateway granted every requested port
	// verbatim.
	BehaviorPreserving
	// BehaviorIncremental means granted ports advanced by a constant
	// positive stride, the pattern a cursor-based allocator produces.
	BehaviorIncremental
	// BehaviorRandom means the grants followed no arithmetic pattern.
	BehaviorRandom
)

func (b Behavior) String() string {
	switch b {
	case BehaviorPreserving:
		return "preserving"
	case BehaviorIncremental:
		return "incremental"
	case BehaviorRandom:
		return "random"
	default:
		return "unknown"
	}
}

// Sample records one mapping request and its grant.
type Sample struct {
	InternalPort int
	ExternalPort int
}

// Config drives a probe run.
type Config struct {
	// Protocol is "tcp" or "udp". Defaults to "udp", where transient
	// mappings are cheapest.
	Protocol string

	// BasePort is the first internal port to request. Defaults to 42000.
	BasePort int

	// Count is the number of consecutive mappings to request. Defaults
	// to 8.
	Count int

	// Lease is the requested mapping lifetime. Short leases keep an
	// aborted probe from leaving state on the gateway. Defaults to one
	// minute.
	Lease time.Duration

	// Mapper is the gateway to probe. Nil runs Discover.
	Mapper PortMapper

	// Logger receives per-sample progress. Nil uses slog.Default.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Protocol == "" {
		c.Protocol = "udp"
	}
	if c.BasePort == 0 {
		c.BasePort = 42000
	}
	if c.Count == 0 {
		c.Count = 8
	}
	if c.Lease == 0 {
		c.Lease = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result is the outcome of a probe run.
type Result struct {
	ExternalIP string
	Samples    []Sample
	Behavior   Behavior
}

// Run requests a series of port mappings, records which external ports the
// gateway granted, classifies the allocation behavior, and releases the
// mappings. Mappings that were granted are unmapped even when a later
// request fails.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	cfg.defaults()

	mapper := cfg.Mapper
	if mapper == nil {
		m, err := Discover(ctx)
		if err != nil {
			return nil, err
		}
		mapper = m
	}

	extIP, err := mapper.GetExternalIP()
	if err != nil {
		return nil, fmt.Errorf("external IP lookup: %w", err)
	}
	cfg.Logger.Info("probing gateway allocation behavior",
		"externalIP", extIP,
		"protocol", cfg.Protocol,
		"basePort", cfg.BasePort,
		"count", cfg.Count)

	res := &Result{ExternalIP: extIP}
	defer func() {
		for _, s := range res.Samples {
			if err := mapper.UnmapPort(cfg.Protocol, s.InternalPort, s.ExternalPort); err != nil {
				cfg.Logger.Warn("failed to release probe mapping",
					"internalPort", s.InternalPort,
					"externalPort", s.ExternalPort,
					"error", err)
			}
		}
	}()

	for i := 0; i < cfg.Count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("probe cancelled after %d samples: %w", i, err)
		}

		internal := cfg.BasePort + i
		external, err := mapper.MapPort(cfg.Protocol, internal, cfg.Lease)
		if err != nil {
			return nil, fmt.Errorf("mapping %d/%d (port %d): %w", i+1, cfg.Count, internal, err)
		}
		res.Samples = append(res.Samples, Sample{InternalPort: internal, ExternalPort: external})
		cfg.Logger.Debug("mapping granted", "internal", internal, "external", external)
	}

	res.Behavior = classify(res.Samples)
	cfg.Logger.Info("probe finished", "behavior", res.Behavior.String(), "samples", len(res.Samples))
	return res, nil
}

// classify derives the allocation behavior from a grant series.
func classify(samples []Sample) Behavior {
	if len(samples) < 2 {
		return BehaviorUnknown
	}

	preserving := true
	for _, s := range samples {
		if s.ExternalPort != s.InternalPort {
			preserving = false
			break
		}
	}
	if preserving {
		return BehaviorPreserving
	}

	stride := samples[1].ExternalPort - samples[0].ExternalPort
	incremental := stride > 0
	for i := 2; i < len(samples) && incremental; i++ {
		if samples[i].ExternalPort-samples[i-1].ExternalPort != stride {
			incremental = false
		}
	}
	if incremental {
		return BehaviorIncremental
	}
	return BehaviorRandom
}
