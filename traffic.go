package natsim

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// TrafficSource supplies the number of competing background connections a
// NAT handles during each step of a simulation round.
type TrafficSource interface {
	// NextRound returns one connection count per step. A finite source
	// that cannot fill a whole round fails with ErrTrafficExhausted.
	NextRound(steps int) ([]int, error)
}

// PoissonTraffic draws per-step counts from a Poisson distribution with mean
// lambda * interval, the synthetic load model the simulator defaults to.
type PoissonTraffic struct {
	mean float64
	rng  *rand.Rand
}

// NewPoissonTraffic builds a Poisson load source for a given connection rate
// (per millisecond) and sampling interval.
func NewPoissonTraffic(lambda, interval float64, rng *rand.Rand) *PoissonTraffic {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &PoissonTraffic{mean: lambda * interval, rng: rng}
}

func (p *PoissonTraffic) NextRound(steps int) ([]int, error) {
	counts := make([]int, steps)
	for i := range counts {
		counts[i] = poissonDraw(p.rng, p.mean)
	}
	return counts, nil
}

// TraceTraffic replays a recorded sequence of per-step connection counts,
// typically sampled from netflow captures. Each round consumes the next
// chunk of the trace.
type TraceTraffic struct {
	counts []int
	pos    int
}

// NewTraceTraffic wraps a recorded count sequence. The slice is not copied.
func NewTraceTraffic(counts []int) *TraceTraffic {
	return &TraceTraffic{counts: counts}
}

func (t *TraceTraffic) NextRound(steps int) ([]int, error) {
	if len(t.counts)-t.pos < steps {
		return nil, fmt.Errorf("%d samples left, %d needed: %w", len(t.counts)-t.pos, steps, ErrTrafficExhausted)
	}
	chunk := t.counts[t.pos : t.pos+steps]
	t.pos += steps
	return chunk, nil
}

// Remaining reports how many samples are left in the trace.
func (t *TraceTraffic) Remaining() int { return len(t.counts) - t.pos }
