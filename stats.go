package natsim

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// probRound rounds x to one of its neighboring integers, choosing the upper
// one with probability equal to the fractional part. Over many draws the
// expectation equals x, which plain rounding would bias.
func probRound(rng *rand.Rand, x float64) int {
	flr := math.Floor(x)
	if rng.Float64() < x-flr {
		return int(flr) + 1
	}
	return int(flr)
}

// poissonDraw samples a Poisson variate with the given mean. Non-positive
// means yield zero instead of feeding distuv an invalid parameter.
func poissonDraw(rng *rand.Rand, mean float64) int {
	if mean <= 0 {
		return 0
	}
	p := distuv.Poisson{Lambda: mean, Src: rng}
	return int(p.Rand())
}

// binomialDraw samples a Binomial(n, p) variate. Degenerate parameters yield
// zero.
func binomialDraw(rng *rand.Rand, n float64, p float64) int {
	if n < 1 || p <= 0 || p > 1 {
		return 0
	}
	b := distuv.Binomial{N: math.Floor(n), P: p, Src: rng}
	return int(b.Rand())
}

// fibNumbers returns the first n Fibonacci numbers starting from 0, 1.
func fibNumbers(n int) []int {
	fib := make([]int, n)
	a, b := 0, 1
	for i := 0; i < n; i++ {
		fib[i] = a
		a, b = b, a+b
	}
	return fib
}
