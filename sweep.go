package natsim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

// LambdaGrid returns the background-rate grid a benchmark sweeps: a fine
// band below 0.01 where strategy behavior changes quickly, a coarse band up
// to 0.25, and optionally an extra fine band around 0.02-0.07. The grid is
// deduplicated at four decimal places and sorted.
func LambdaGrid(fine bool) []float64 {
	var grid []float64
	for i := 1; i < 10; i++ {
		grid = append(grid, float64(i)*0.001)
	}
	for i := 1; i < 26; i++ {
		grid = append(grid, float64(i)*0.01)
	}
	if fine {
		for i := 0; i < 50; i++ {
			grid = append(grid, 0.02+float64(i)*0.001)
		}
	}

	seen := make(map[int64]struct{}, len(grid))
	out := make([]float64, 0, len(grid))
	for _, l := range grid {
		key := int64(math.Round(l * 10000))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	sort.Float64s(out)
	return out
}

// Benchmark sweeps a strategy across the lambda grid and reports one result
// line per rate, for plotting strategy performance against background load.
type Benchmark struct {
	// Strategy is the prediction strategy name, see NewStrategy.
	Strategy string

	// Simulation parameters shared by every grid point. Zero values take
	// the Simulation defaults.
	ScanInterval       float64
	SilentPeriodBase   float64
	SilentPeriodLambda float64
	Rounds             int
	FastRounds         int
	Steps              int

	// NAT configures both NAT models. The Rand field is overridden with a
	// per-point source.
	NAT NATConfig

	// Fine extends the grid with the dense 0.02-0.07 band.
	Fine bool

	// LambdaStart skips grid points below it when positive, which lets an
	// interrupted sweep resume where it stopped.
	LambdaStart float64

	// Seed is the base for per-point random sources. Two sweeps with the
	// same seed and parameters produce identical output.
	Seed uint64

	// Workers bounds concurrent grid points. Zero uses all CPUs.
	Workers int

	// Logger receives per-point progress. Nil uses slog.Default.
	Logger *slog.Logger
}

// Run evaluates every grid point and writes the results to w in grid order,
// one line per lambda: lambda|scanInterval|successRate|avgStepsA. Points run
// concurrently but output stays ordered, and points completed before an
// error or cancellation are already written when Run returns.
func (b *Benchmark) Run(ctx context.Context, w io.Writer) error {
	if b.Workers <= 0 {
		b.Workers = runtime.GOMAXPROCS(0)
	}
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	if _, err := NewStrategy(b.Strategy, nil); err != nil {
		return err
	}

	grid := LambdaGrid(b.Fine)
	if b.LambdaStart > 0 {
		kept := grid[:0]
		for _, l := range grid {
			if l >= b.LambdaStart {
				kept = append(kept, l)
			}
		}
		grid = kept
	}
	b.Logger.Info("starting benchmark sweep",
		"strategy", b.Strategy,
		"points", len(grid),
		"workers", b.Workers,
		"fine", b.Fine)

	// Completed lines are flushed as soon as the prefix up to them is done,
	// so an interrupted sweep keeps every finished point and can resume via
	// LambdaStart.
	var mu sync.Mutex
	lines := make([]string, len(grid))
	done := make([]bool, len(grid))
	flushed := 0
	flush := func(i int, line string) error {
		mu.Lock()
		defer mu.Unlock()
		lines[i] = line
		done[i] = true
		for flushed < len(grid) && done[flushed] {
			if _, err := io.WriteString(w, lines[flushed]); err != nil {
				return fmt.Errorf("write benchmark output: %w", err)
			}
			flushed++
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Workers)
	for i, lambda := range grid {
		i, lambda := i, lambda
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			line, err := b.runPoint(i, lambda)
			if err != nil {
				return fmt.Errorf("lambda %.4f: %w", lambda, err)
			}
			return flush(i, line)
		})
	}
	return g.Wait()
}

func (b *Benchmark) runPoint(idx int, lambda float64) (string, error) {
	rng := rand.New(rand.NewSource(b.Seed + uint64(idx) + 1))

	var nats [2]*SymmetricNAT
	for party := range nats {
		cfg := b.NAT
		cfg.Rand = rng
		nat, err := NewSymmetricNAT(cfg)
		if err != nil {
			return "", err
		}
		nats[party] = nat
	}

	strat, err := NewStrategy(b.Strategy, rng)
	if err != nil {
		return "", err
	}

	sim := &Simulation{
		Lambda:             lambda,
		ScanInterval:       b.ScanInterval,
		SilentPeriodBase:   b.SilentPeriodBase,
		SilentPeriodLambda: b.SilentPeriodLambda,
		Rounds:             b.Rounds,
		FastRounds:         b.FastRounds,
		Steps:              b.Steps,
		Rand:               rng,
		Logger:             b.Logger,
	}
	res, err := sim.Run(nats, [2]Strategy{strat, strat}, [2]TrafficSource{})
	if err != nil {
		return "", err
	}

	b.Logger.Info("benchmark point finished",
		"lambda", lambda,
		"successRate", res.SuccessRate,
		"rounds", res.Rounds,
		"avgStepsA", res.AvgStepsA,
		"exhausted", res.Exhausted)
	return fmt.Sprintf("%.4f|%.4f|%.4f|%.4f\n", lambda, sim.ScanInterval, res.SuccessRate, res.AvgStepsA), nil
}
