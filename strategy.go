package natsim

import (
	"fmt"
	"sort"

	"golang.org/x/exp/rand"
)

// Strategy predicts the external port a peer's NAT will allocate next. One
// instance usually plays both parties of a traversal attempt, which lets the
// two sides stay coordinated the way a shared algorithm would in practice.
//
// Reset is called once per simulation round, before any traffic. Silent
// reports the duration of the silent period each side observed before
// stepping starts, plus the estimated background rate, and returns the
// starting positions the strategy derived from them. Next returns the local
// source port and the guessed remote port for the given party and step.
type Strategy interface {
	Reset(nats [2]*SymmetricNAT, sim *Simulation)
	Silent(silentA, silentB, lambda float64) [2]int
	Next(party, step int) (localPort, guessPort int)
}

// StrategyFactory builds a strategy instance around a random source.
type StrategyFactory func(rng *rand.Rand) Strategy

var strategyFactories = map[string]StrategyFactory{
	"their":   func(rng *rand.Rand) Strategy { return newFixedDeltaStrategy() },
	"ij":      func(rng *rand.Rand) Strategy { return newLinearStrategy() },
	"i2j":     func(rng *rand.Rand) Strategy { return newBabyGiantStrategy() },
	"simple":  func(rng *rand.Rand) Strategy { return newExpectedValueStrategy(rng) },
	"fibo":    func(rng *rand.Rand) Strategy { return newFiboStrategy() },
	"poisson": func(rng *rand.Rand) Strategy { return newPoissonStrategy(rng) },
	"binom":   func(rng *rand.Rand) Strategy { return newBinomialStrategy(rng) },
}

// DefaultStrategy is the variant used when no strategy name is given.
const DefaultStrategy = "poisson"

// StrategyNames lists the known strategy identifiers in sorted order.
func StrategyNames() []string {
	names := make([]string, 0, len(strategyFactories))
	for name := range strategyFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStrategy builds the named prediction strategy. An empty name selects
// DefaultStrategy; an unknown one fails with ErrInvalidConfig.
func NewStrategy(name string, rng *rand.Rand) (Strategy, error) {
	if name == "" {
		name = DefaultStrategy
	}
	factory, ok := strategyFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, name)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return factory(rng), nil
}
