package natsim

import (
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/exp/rand"
)

// partyAddr names the two endpoints for quartet bookkeeping inside the NATs.
var partyAddr = [2]string{"A", "B"}

// Simulation drives two NAT models and a prediction strategy through timed
// traversal rounds and measures how often the port guesses intersect.
type Simulation struct {
	// Lambda is the background connection rate per millisecond, shared by
	// both sides.
	Lambda float64

	// ScanInterval is the pause between consecutive port scans in
	// milliseconds. Zero defaults to 10.
	ScanInterval float64

	// SilentPeriodBase and SilentPeriodLambda shape the pause before
	// stepping starts: each side waits base + Pois(lambda) milliseconds
	// while background traffic keeps allocating ports.
	SilentPeriodBase   float64
	SilentPeriodLambda float64

	// Rounds is the number of traversal attempts to run. A single-round
	// simulation records a full trace and scans all steps instead of
	// stopping at the first match. Zero defaults to 1000.
	Rounds int

	// FastRounds is the early-abort checkpoint: when the round counter
	// reaches it with a success rate below one half, the run stops. Zero
	// defaults to 100.
	FastRounds int

	// Steps is the number of port scans per round. Zero defaults to 1000.
	Steps int

	// Rand drives silent period jitter and the default traffic model. Nil
	// falls back to a fixed-seed source.
	Rand *rand.Rand

	// Logger receives per-round debug output. Nil uses slog.Default.
	Logger *slog.Logger
}

// Validate fills in defaults and rejects parameters the engine cannot run
// with. Run calls it implicitly.
func (s *Simulation) Validate() error {
	if s.Lambda <= 0 {
		return fmt.Errorf("%w: lambda %v must be positive", ErrInvalidConfig, s.Lambda)
	}
	if s.ScanInterval == 0 {
		s.ScanInterval = DefaultScanInterval
	}
	if s.ScanInterval < 0 {
		return fmt.Errorf("%w: negative scan interval %v", ErrInvalidConfig, s.ScanInterval)
	}
	if s.SilentPeriodBase < 0 || s.SilentPeriodLambda < 0 {
		return fmt.Errorf("%w: negative silent period parameters", ErrInvalidConfig)
	}
	if s.Rounds == 0 {
		s.Rounds = DefaultRounds
	}
	if s.FastRounds == 0 {
		s.FastRounds = DefaultFastRounds
	}
	if s.Steps == 0 {
		s.Steps = DefaultSteps
	}
	if s.Rounds < 0 || s.FastRounds < 0 || s.Steps < 0 {
		return fmt.Errorf("%w: negative round or step counts", ErrInvalidConfig)
	}
	if s.Rand == nil {
		s.Rand = rand.New(rand.NewSource(1))
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return nil
}

// Result aggregates a simulation run.
type Result struct {
	// SuccessRate is successes over attempted rounds.
	SuccessRate float64

	// Successes counts rounds where the guess sets intersected.
	Successes int

	// Rounds is the number of rounds actually attempted, which is lower
	// than configured when the early-abort checkpoint fired.
	Rounds int

	// AvgStepsA and AvgStepsB are the mean step indices at which the first
	// matching port was allocated on each side, over successful rounds.
	AvgStepsA float64
	AvgStepsB float64

	// Exhausted counts rounds aborted by NAT pool exhaustion. Those rounds
	// count as failures.
	Exhausted int

	// Trace holds the full record of a single-round run, nil otherwise.
	Trace *RoundTrace
}

type roundOutcome struct {
	matched   bool
	exhausted bool
	stepA     int
	stepB     int
}

// Run executes the configured number of traversal rounds. Both parties use
// the strategies in strats; passing the same instance twice keeps the sides
// coordinated, which is the common setup. Nil traffic sources default to
// Poisson load at the simulation's lambda.
func (s *Simulation) Run(nats [2]*SymmetricNAT, strats [2]Strategy, traffic [2]TrafficSource) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	for party := 0; party < 2; party++ {
		if nats[party] == nil {
			return nil, fmt.Errorf("%w: nil NAT for party %d", ErrInvalidConfig, party)
		}
		if strats[party] == nil {
			return nil, fmt.Errorf("%w: nil strategy for party %d", ErrInvalidConfig, party)
		}
		if traffic[party] == nil {
			traffic[party] = NewPoissonTraffic(s.Lambda, s.ScanInterval, s.Rand)
		}
	}

	stopOnFirstMatch := s.Rounds != 1
	shared := strats[0] == strats[1]

	res := &Result{Rounds: s.Rounds}
	stepAcc := [2]int{}

	for sn := 0; sn < s.Rounds; sn++ {
		nats[0].Reset()
		nats[1].Reset()
		strats[0].Reset(nats, s)
		if !shared {
			strats[1].Reset(nats, s)
		}

		silentA := s.SilentPeriodBase + float64(poissonDraw(s.Rand, s.SilentPeriodLambda))
		silentB := s.SilentPeriodBase + float64(poissonDraw(s.Rand, s.SilentPeriodLambda))

		outcome := roundOutcome{}

		kA := poissonDraw(s.Rand, s.Lambda*silentA)
		kB := poissonDraw(s.Rand, s.Lambda*silentB)
		if nats[0].Occupy(kA, 0) != nil || nats[1].Occupy(kB, 0) != nil {
			outcome.exhausted = true
		}

		if !outcome.exhausted {
			strats[0].Silent(silentA, silentB, s.Lambda)
			if !shared {
				strats[1].Silent(silentA, silentB, s.Lambda)
			}

			var samples [2][]int
			for party := 0; party < 2; party++ {
				counts, err := traffic[party].NextRound(s.Steps)
				if err != nil {
					return nil, fmt.Errorf("round %d, party %d: %w", sn, party, err)
				}
				samples[party] = counts
			}

			var trace *RoundTrace
			if s.Rounds == 1 {
				trace = newRoundTrace()
				res.Trace = trace
			}
			outcome = s.runRound(nats, strats, samples, stopOnFirstMatch, trace)
		}

		s.Logger.Debug("round finished",
			"round", sn,
			"matched", outcome.matched,
			"exhausted", outcome.exhausted,
			"silentA", silentA,
			"silentB", silentB)

		// Performance checkpoint: a strategy below 50% success at this
		// point is not worth the remaining rounds. The checkpoint round
		// itself still counts as attempted, but its outcome does not.
		if sn == s.FastRounds && 2*res.Successes < s.FastRounds {
			res.Rounds = sn + 1
			break
		}

		if outcome.exhausted {
			res.Exhausted++
			continue
		}
		if !outcome.matched {
			continue
		}
		res.Successes++
		stepAcc[0] += outcome.stepA
		stepAcc[1] += outcome.stepB
	}

	if res.Rounds > 0 {
		res.SuccessRate = float64(res.Successes) / float64(res.Rounds)
	}
	if res.Successes > 0 {
		res.AvgStepsA = float64(stepAcc[0]) / float64(res.Successes)
		res.AvgStepsB = float64(stepAcc[1]) / float64(res.Successes)
	}
	return res, nil
}

// runRound plays both parties through one round of timed port scanning. Each
// step a party asks its strategy for a (local, guess) pair, allocates an
// external port on its own NAT, and absorbs the background load for that
// interval. Pairs are normalized to (portA, portB) orientation so a match is
// a plain set intersection.
func (s *Simulation) runRound(nats [2]*SymmetricNAT, strats [2]Strategy, samples [2][]int, stopOnFirstMatch bool, trace *RoundTrace) roundOutcome {
	steps := len(samples[0])
	if len(samples[1]) < steps {
		steps = len(samples[1])
	}

	var scan [2]map[[2]int]struct{}
	var portStep [2]map[int]int
	for party := 0; party < 2; party++ {
		scan[party] = make(map[[2]int]struct{})
		portStep[party] = make(map[int]int)
	}

	found := false
	for i := 0; i < steps && !found; i++ {
		now := int64(float64(i) * s.ScanInterval)
		for party := 0; party < 2; party++ {
			local, guess := strats[party].Next(party, i)
			cur, err := nats[party].Alloc(partyAddr[party], local, partyAddr[party^1], guess, now, now, false)
			if err != nil {
				return roundOutcome{exhausted: true}
			}
			if err := nats[party].Occupy(samples[party][i], now); err != nil {
				return roundOutcome{exhausted: true}
			}

			pair := [2]int{cur, guess}
			if party == 1 {
				pair = [2]int{guess, cur}
			}
			scan[party][pair] = struct{}{}
			portStep[party][cur] = i

			if trace != nil {
				trace.Steps[party] = append(trace.Steps[party], StepRecord{Local: local, Guess: guess, Allocated: cur})
				trace.Ports[party][cur] = struct{}{}
				trace.PortStep[party][cur] = i
			}

			if stopOnFirstMatch {
				if _, ok := scan[party^1][pair]; ok {
					found = true
				}
			}
		}
	}

	var matches [][2]int
	for pair := range scan[0] {
		if _, ok := scan[1][pair]; ok {
			matches = append(matches, pair)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		mi, mj := matches[i], matches[j]
		lo := func(p [2]int) int {
			if p[0] < p[1] {
				return p[0]
			}
			return p[1]
		}
		if lo(mi) != lo(mj) {
			return lo(mi) < lo(mj)
		}
		if mi[0] != mj[0] {
			return mi[0] < mj[0]
		}
		return mi[1] < mj[1]
	})

	if trace != nil {
		trace.Matches = matches
	}
	if len(matches) == 0 {
		return roundOutcome{}
	}
	first := matches[0]
	return roundOutcome{
		matched: true,
		stepA:   portStep[0][first[0]],
		stepB:   portStep[1][first[1]],
	}
}
