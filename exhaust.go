package natsim

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// ExhaustionTime samples how long it takes to exhaust a port pool under a
// Poisson arrival process with the given rate, ignoring expiry. The result
// is milliseconds of exponential inter-arrival times summed until the pool
// size is exceeded; compare it against the NAT timeout to judge whether
// expiry can keep up with the load.
func ExhaustionTime(rng *rand.Rand, lambda float64, poolSize int) (float64, error) {
	if lambda <= 0 {
		return 0, fmt.Errorf("%w: lambda %v must be positive", ErrInvalidConfig, lambda)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	t := 0.0
	n := 0
	for i := 0; n <= poolSize && i < 5*poolSize; i++ {
		t += -(1 / lambda) * math.Log(rng.Float64())
		n++
	}
	return t, nil
}

// ExhaustionProbability returns P(X > poolSize) for X ~ Poisson(lambda *
// timeout): the probability that more connections arrive within one expiry
// timeout than the pool can hold, i.e. that the NAT exhausts even with
// expiry working.
func ExhaustionProbability(lambda float64, timeout int64, poolSize int) float64 {
	if lambda <= 0 || timeout <= 0 {
		return 0
	}
	p := distuv.Poisson{Lambda: lambda * float64(timeout)}
	return 1 - p.CDF(float64(poolSize))
}

// LambdaForExhaustion inverts ExhaustionProbability: it finds the background
// rate at which the pool exhausts with the given probability. Doubling
// search brackets the rate, then bisection narrows it to within eps of the
// target probability.
func LambdaForExhaustion(prob float64, timeout int64, poolSize int) (float64, error) {
	if prob <= 0 || prob >= 1 {
		return 0, fmt.Errorf("%w: probability %v must be in (0, 1)", ErrInvalidConfig, prob)
	}
	if timeout <= 0 || poolSize <= 0 {
		return 0, fmt.Errorf("%w: timeout and pool size must be positive", ErrInvalidConfig)
	}

	lambda := 1.0
	left, right := -1.0, -1.0
	for left < 0 || right < 0 {
		pc := ExhaustionProbability(lambda, timeout, poolSize)
		if left < 0 {
			if pc <= prob {
				left = lambda
				lambda *= 2
			} else {
				lambda /= 2
			}
			continue
		}
		if pc > prob {
			right = lambda
		} else {
			lambda *= 2
		}
	}

	const eps = 0.0001
	mid := (left + right) / 2
	for iter := 0; iter < 1000 && left < right; iter++ {
		mid = (left + right) / 2
		pc := ExhaustionProbability(mid, timeout, poolSize)
		if pc >= prob-eps && pc <= prob+eps {
			break
		}
		if pc < prob {
			left = mid
		} else {
			right = mid
		}
	}
	return mid, nil
}
