package natsim

import (
	"math"

	"golang.org/x/exp/rand"
)

func clampStep(step, n int) int {
	if step >= n {
		return n - 1
	}
	return step
}

// fixedDeltaStrategy advances its guess by a fixed number of ports per step,
// anchored at the port the peer's NAT reported as next before the round
// began. With a well chosen delta it tracks an incremental allocator under a
// constant background rate; it ignores observed silent periods entirely.
type fixedDeltaStrategy struct {
	delta [2]int
	base  [2]int
}

func newFixedDeltaStrategy() *fixedDeltaStrategy {
	return &fixedDeltaStrategy{delta: [2]int{900, 900}}
}

func (s *fixedDeltaStrategy) Reset(nats [2]*SymmetricNAT, sim *Simulation) {
	for party := 0; party < 2; party++ {
		if nats[party^1] == nil {
			continue
		}
		if port, err := nats[party^1].PeekNext(0); err == nil {
			s.base[party] = port
		}
	}
}

func (s *fixedDeltaStrategy) Silent(silentA, silentB, lambda float64) [2]int {
	return s.delta
}

func (s *fixedDeltaStrategy) Next(party, step int) (int, int) {
	return step, s.base[party] + s.delta[party]*step
}

// linearStrategy guesses ports growing by two per step from the pool floor.
// The factor two accounts for the peer itself consuming one port per step on
// top of roughly one background allocation.
type linearStrategy struct {
	start [2]int
	b     []int
}

func newLinearStrategy() *linearStrategy {
	s := &linearStrategy{start: [2]int{1025, 1025}}
	s.Reset([2]*SymmetricNAT{}, nil)
	return s
}

func (s *linearStrategy) Reset(nats [2]*SymmetricNAT, sim *Simulation) {
	s.b = make([]int, 1500)
	c := 0
	for step := range s.b {
		s.b[step] = c
		c += 2
	}
}

func (s *linearStrategy) Silent(silentA, silentB, lambda float64) [2]int {
	return s.start
}

func (s *linearStrategy) Next(party, step int) (int, int) {
	return 1025, s.start[party] + s.b[clampStep(step, len(s.b))]
}

// babyGiantStrategy walks one party in unit steps and the other in double
// steps from a shared origin, so the slow walker cannot be overtaken without
// being crossed. Reliable on quiet links; noise quickly breaks the invariant.
type babyGiantStrategy struct {
	start [2]int
}

func newBabyGiantStrategy() *babyGiantStrategy {
	return &babyGiantStrategy{start: [2]int{1025, 1025}}
}

func (s *babyGiantStrategy) Reset(nats [2]*SymmetricNAT, sim *Simulation) {}

func (s *babyGiantStrategy) Silent(silentA, silentB, lambda float64) [2]int {
	return s.start
}

func (s *babyGiantStrategy) Next(party, step int) (int, int) {
	if party == 0 {
		return 1025, s.start[0] + step
	}
	return 1025, s.start[0] + 2*step
}

// expectedValueStrategy guesses the expected port position under a Poisson
// background process, E = step * (1 + lambda*T), with probabilistic rounding
// so the guesses stay unbiased across steps.
type expectedValueStrategy struct {
	rng   *rand.Rand
	start [2]int
	b     []int
}

func newExpectedValueStrategy(rng *rand.Rand) *expectedValueStrategy {
	s := &expectedValueStrategy{rng: rng, start: [2]int{1025, 1025}}
	s.Reset([2]*SymmetricNAT{}, nil)
	return s
}

func (s *expectedValueStrategy) Reset(nats [2]*SymmetricNAT, sim *Simulation) {
	lambda, interval := 0.1, 10.0
	if sim != nil {
		lambda, interval = sim.Lambda, sim.ScanInterval
	}
	s.b = make([]int, 1000)
	for step := range s.b {
		s.b[step] = probRound(s.rng, float64(step)*(1+lambda*interval))
	}
}

func (s *expectedValueStrategy) Silent(silentA, silentB, lambda float64) [2]int {
	s.start = [2]int{int(lambda*silentA) + 1025, int(lambda*silentB) + 1025}
	return s.start
}

func (s *expectedValueStrategy) Next(party, step int) (int, int) {
	return 1025, s.start[party] + s.b[clampStep(step, len(s.b))]
}

// fiboStrategy spaces guesses in nested Fibonacci intervals: within the
// window opened by each Fibonacci number it scans linearly, and windows grow
// with the sequence. Party one doubles the offsets to cover the same ground
// at twice the pace.
type fiboStrategy struct {
	start [2]int
	b     []int
}

func newFiboStrategy() *fiboStrategy {
	s := &fiboStrategy{}
	fibn := fibNumbers(22)
	for i := 1; i < len(fibn)-1; i++ {
		for j := 0; j < fibn[i-1]; j++ {
			s.b = append(s.b, fibn[i+1]+j)
		}
	}
	return s
}

func (s *fiboStrategy) Reset(nats [2]*SymmetricNAT, sim *Simulation) {}

func (s *fiboStrategy) Silent(silentA, silentB, lambda float64) [2]int {
	return s.start
}

func (s *fiboStrategy) Next(party, step int) (int, int) {
	offset := s.b[clampStep(step, len(s.b))]
	if party == 1 {
		offset *= 2
	}
	return 0, s.start[party] + offset
}

// growthCoef is the per-step growth coefficient used by the Poisson
// strategy, fitted empirically for lambda*T roughly in [0.04, 0.15].
func growthCoef(x float64) float64 {
	return 1.0 / (0.163321 * math.Log(64.2568*x))
}

// poissonStrategy samples its own Poisson process as the guess sequence,
// assuming the peer NAT's allocations follow one. The sampled path is
// deduplicated so repeated values do not waste steps; different runs skip
// different steps, which is intended.
type poissonStrategy struct {
	rng      *rand.Rand
	lambda   float64
	interval float64
	start    [2]int
	b        [2][]int
}

func newPoissonStrategy(rng *rand.Rand) *poissonStrategy {
	s := &poissonStrategy{rng: rng, lambda: 0.1, interval: 10}
	s.gen()
	return s
}

func (s *poissonStrategy) gen() {
	for party := 0; party < 2; party++ {
		s.b[party] = s.genPath()
	}
}

func (s *poissonStrategy) genPath() []int {
	coef := growthCoef(s.lambda * s.interval)
	seen := make(map[int]struct{})
	var b []int
	for step := 0; step < 3001; step++ {
		mean := s.lambda * s.interval * (1.0 + float64(step)*coef)
		x := poissonDraw(s.rng, mean)
		if _, dup := seen[x]; dup {
			continue
		}
		seen[x] = struct{}{}
		b = append(b, x)
		if len(b) > 1100 {
			break
		}
	}
	return b
}

func (s *poissonStrategy) Reset(nats [2]*SymmetricNAT, sim *Simulation) {
	if sim != nil {
		s.lambda, s.interval = sim.Lambda, sim.ScanInterval
	}
	s.gen()
}

func (s *poissonStrategy) Silent(silentA, silentB, lambda float64) [2]int {
	s.lambda = lambda
	s.start = [2]int{int(lambda*silentA) + 1025, int(lambda*silentB) + 1025}
	s.gen()
	return s.start
}

func (s *poissonStrategy) Next(party, step int) (int, int) {
	path := s.b[party]
	return 1025, s.start[party] + path[clampStep(step, len(path))]
}

// binomialStrategy approximates the port distribution at step s with a
// binomial of mean 2s and variance s/2 and samples it for party one, while
// party zero tracks the midpoint 1.5s. Sampling the distribution instead of
// taking its expectation performed worse in practice, which is why the
// expected-value variant exists.
type binomialStrategy struct {
	rng   *rand.Rand
	start [2]int
	b     [2][]int
}

func newBinomialStrategy(rng *rand.Rand) *binomialStrategy {
	s := &binomialStrategy{rng: rng}
	s.Reset([2]*SymmetricNAT{}, nil)
	return s
}

func (s *binomialStrategy) Reset(nats [2]*SymmetricNAT, sim *Simulation) {
	for party := 0; party < 2; party++ {
		s.b[party] = s.genPath(party)
	}
}

func (s *binomialStrategy) genPath(party int) []int {
	b := make([]int, 1000)
	for step := range b {
		if party == 1 && step > 0 {
			ex := 2.0 * float64(step)
			vx := float64(step) / 2.0
			p := (ex - vx) / ex
			n := ex / p
			b[step] = binomialDraw(s.rng, n, p)
			continue
		}
		b[step] = int(math.Round(1.5 * float64(step)))
	}
	return b
}

func (s *binomialStrategy) Silent(silentA, silentB, lambda float64) [2]int {
	s.start = [2]int{int(lambda * silentA), int(lambda * silentB)}
	return s.start
}

func (s *binomialStrategy) Next(party, step int) (int, int) {
	path := s.b[party]
	return 0, s.start[party] + path[clampStep(step, len(path))]
}
