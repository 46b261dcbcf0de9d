// Command natsim evaluates NAT hole-punching strategies: it simulates
// traversal attempts against symmetric NAT models, benchmarks strategies
// across background traffic rates, estimates pool exhaustion, and probes a
// real gateway's allocation behavior.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/exp/rand"

	natsim "github.com/tvaleev/NATSimTools"
	"github.com/tvaleev/NATSimTools/probe"
)

func main() {
	flag.Bool("sim", false, "run a traversal simulation (default mode)")
	var (
		benchmarkMode = flag.Bool("benchmark", false, "sweep the strategy across the lambda grid")
		probeMode     = flag.Bool("probe", false, "probe the local gateway's port allocation behavior")
		exhaustMode   = flag.Bool("exhaust", false, "estimate port pool exhaustion for the given lambda")

		strategy = flag.String("strategy", natsim.DefaultStrategy, fmt.Sprintf("prediction strategy %v", natsim.StrategyNames()))
		lmbd     = flag.Float64("lmbd", 0.01, "background connection rate per millisecond")
		rounds   = flag.Int("rounds", natsim.DefaultRounds, "number of simulation rounds (1 renders a trace)")
		errors   = flag.Int("errors", natsim.DefaultSteps, "number of port scans per round")
		space    = flag.Float64("space", natsim.DefaultScanInterval, "milliseconds between consecutive port scans")

		natPolicy = flag.String("nat", "incremental", "NAT port allocation policy (incremental, random)")
		poolMin   = flag.Int("pool-min", natsim.DefaultPoolMin, "lowest port in the NAT pool")
		poolMax   = flag.Int("pool-max", natsim.DefaultPoolMax, "highest port in the NAT pool")
		timeout   = flag.Int64("timeout", natsim.DefaultTimeout, "NAT mapping timeout in milliseconds")

		silentBase = flag.Float64("silent-base", 500, "base silent period before stepping starts, milliseconds")
		silentLmbd = flag.Float64("silent-lmbd", 10, "Poisson jitter of the silent period")

		seed      = flag.Uint64("seed", 0, "random seed (0 derives one from the clock)")
		workers   = flag.Int("workers", 0, "concurrent benchmark points (0 = all CPUs)")
		fine      = flag.Bool("fine", false, "benchmark the dense lambda band too")
		lmbdStart = flag.Float64("lmbd-start", -1, "skip benchmark lambdas below this value")
		output    = flag.String("output", "", "benchmark output file (default stdout)")

		exhaustProb = flag.Float64("exhaust-p", 0.9, "target probability for the exhaustion rate search")

		probeProto = flag.String("probe-proto", "udp", "protocol to probe with (tcp, udp)")
		probeCount = flag.Int("probe-count", 8, "number of probe mappings to request")
		probePort  = flag.Int("probe-port", 42000, "first internal port to probe with")

		verbose = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	policy, err := parsePolicy(*natPolicy)
	if err != nil {
		logger.Error("invalid NAT policy", "error", err)
		os.Exit(1)
	}
	natCfg := natsim.NATConfig{
		PoolMin: *poolMin,
		PoolMax: *poolMax,
		Timeout: *timeout,
		Policy:  policy,
	}

	switch {
	case *benchmarkMode:
		err = runBenchmark(ctx, logger, benchmarkOpts{
			strategy:   *strategy,
			interval:   *space,
			silentBase: *silentBase,
			silentLmbd: *silentLmbd,
			rounds:     *rounds,
			steps:      *errors,
			nat:        natCfg,
			fine:       *fine,
			lmbdStart:  *lmbdStart,
			seed:       *seed,
			workers:    *workers,
			output:     *output,
		})
	case *probeMode:
		err = runProbe(ctx, logger, *probeProto, *probePort, *probeCount)
	case *exhaustMode:
		err = runExhaust(logger, *lmbd, natCfg, *exhaustProb, *seed)
	default:
		// -sim is the default mode when no other mode flag is given.
		err = runSim(logger, simOpts{
			strategy:   *strategy,
			lambda:     *lmbd,
			interval:   *space,
			silentBase: *silentBase,
			silentLmbd: *silentLmbd,
			rounds:     *rounds,
			steps:      *errors,
			nat:        natCfg,
			seed:       *seed,
		})
	}
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func parsePolicy(name string) (natsim.AllocationPolicy, error) {
	switch name {
	case "incremental":
		return natsim.PolicyIncremental, nil
	case "random":
		return natsim.PolicyRandom, nil
	default:
		return 0, fmt.Errorf("unknown allocation policy %q (want incremental or random)", name)
	}
}

type simOpts struct {
	strategy   string
	lambda     float64
	interval   float64
	silentBase float64
	silentLmbd float64
	rounds     int
	steps      int
	nat        natsim.NATConfig
	seed       uint64
}

func runSim(logger *slog.Logger, opts simOpts) error {
	rng := rand.New(rand.NewSource(opts.seed))

	var nats [2]*natsim.SymmetricNAT
	for party := range nats {
		cfg := opts.nat
		cfg.Rand = rng
		nat, err := natsim.NewSymmetricNAT(cfg)
		if err != nil {
			return err
		}
		nats[party] = nat
	}

	strat, err := natsim.NewStrategy(opts.strategy, rng)
	if err != nil {
		return err
	}

	sim := &natsim.Simulation{
		Lambda:             opts.lambda,
		ScanInterval:       opts.interval,
		SilentPeriodBase:   opts.silentBase,
		SilentPeriodLambda: opts.silentLmbd,
		Rounds:             opts.rounds,
		Steps:              opts.steps,
		Rand:               rng,
		Logger:             logger,
	}

	start := time.Now()
	res, err := sim.Run(nats, [2]natsim.Strategy{strat, strat}, [2]natsim.TrafficSource{})
	if err != nil {
		return err
	}

	fmt.Printf("Success rate: %.3f; cnt=%d; rounds=%d; lmbd=%.4f; scanInterval=%.1f ms; average steps: %.3f %.3f; exhausted=%d; elapsed=%.3f s\n",
		res.SuccessRate, res.Successes, res.Rounds, opts.lambda, sim.ScanInterval,
		res.AvgStepsA, res.AvgStepsB, res.Exhausted, time.Since(start).Seconds())

	if res.Trace != nil {
		renderMatch(os.Stdout, res.Trace, sim.Steps)
	}
	return nil
}

type benchmarkOpts struct {
	strategy   string
	interval   float64
	silentBase float64
	silentLmbd float64
	rounds     int
	steps      int
	nat        natsim.NATConfig
	fine       bool
	lmbdStart  float64
	seed       uint64
	workers    int
	output     string
}

func runBenchmark(ctx context.Context, logger *slog.Logger, opts benchmarkOpts) error {
	out := os.Stdout
	if opts.output != "" {
		f, err := os.OpenFile(opts.output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	b := &natsim.Benchmark{
		Strategy:           opts.strategy,
		ScanInterval:       opts.interval,
		SilentPeriodBase:   opts.silentBase,
		SilentPeriodLambda: opts.silentLmbd,
		Rounds:             opts.rounds,
		Steps:              opts.steps,
		NAT:                opts.nat,
		Fine:               opts.fine,
		LambdaStart:        opts.lmbdStart,
		Seed:               opts.seed,
		Workers:            opts.workers,
		Logger:             logger,
	}
	return b.Run(ctx, out)
}

func runExhaust(logger *slog.Logger, lambda float64, nat natsim.NATConfig, prob float64, seed uint64) error {
	tmpl := nat
	tmpl.Rand = rand.New(rand.NewSource(seed))
	model, err := natsim.NewSymmetricNAT(tmpl)
	if err != nil {
		return err
	}
	poolSize := model.PoolSize()
	timeout := model.Timeout()

	t, err := natsim.ExhaustionTime(tmpl.Rand, lambda, poolSize)
	if err != nil {
		return err
	}
	fmt.Printf("Port pool exhausts in %.3f ms = %.3f s = %.3f min = %.3f h\n",
		t, t/1000, t/1000/60, t/1000/60/60)

	p := natsim.ExhaustionProbability(lambda, timeout, poolSize)
	fmt.Printf("P(X > %d) = %.18f, X ~ Poisson(lambda * timeout = %.4f * %d)\n",
		poolSize, p, lambda, timeout)

	lx, err := natsim.LambdaForExhaustion(prob, timeout, poolSize)
	if err != nil {
		return err
	}
	fmt.Printf("Lambda reaching exhaustion probability %.3f: %.6f\n", prob, lx)

	logger.Debug("exhaustion estimate finished", "lambda", lambda, "poolSize", poolSize)
	return nil
}

func runProbe(ctx context.Context, logger *slog.Logger, proto string, basePort, count int) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := probe.Run(ctx, probe.Config{
		Protocol: proto,
		BasePort: basePort,
		Count:    count,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("External IP: %s\n", res.ExternalIP)
	for _, s := range res.Samples {
		fmt.Printf("  %05d -> %05d\n", s.InternalPort, s.ExternalPort)
	}
	fmt.Printf("Allocation behavior: %s\n", res.Behavior)
	return nil
}
