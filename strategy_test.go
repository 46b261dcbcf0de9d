package natsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(7))
}

func TestStrategyRegistry(t *testing.T) {
	t.Run("all variants resolve", func(t *testing.T) {
		for _, name := range StrategyNames() {
			s, err := NewStrategy(name, testRNG())
			require.NoError(t, err, name)
			assert.NotNil(t, s, name)
		}
	})

	t.Run("known names", func(t *testing.T) {
		assert.Equal(t, []string{"binom", "fibo", "i2j", "ij", "poisson", "simple", "their"}, StrategyNames())
	})

	t.Run("empty name means default", func(t *testing.T) {
		s, err := NewStrategy("", testRNG())
		require.NoError(t, err)
		_, ok := s.(*poissonStrategy)
		assert.True(t, ok)
	})

	t.Run("unknown name fails", func(t *testing.T) {
		_, err := NewStrategy("quantum", testRNG())
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestFixedDeltaStrategy(t *testing.T) {
	s := newFixedDeltaStrategy()

	var nats [2]*SymmetricNAT
	for i := range nats {
		nats[i] = newTestNAT(t, NATConfig{})
	}
	s.Reset(nats, nil)

	assert.Equal(t, [2]int{900, 900}, s.Silent(1000, 1000, 0.1))

	t.Run("first guess is the peer's next port", func(t *testing.T) {
		local, guess := s.Next(0, 0)
		assert.Equal(t, 0, local)
		assert.Equal(t, 1026, guess)

		_, guess = s.Next(1, 0)
		assert.Equal(t, 1026, guess)
	})

	t.Run("guess advances by delta per step", func(t *testing.T) {
		local, guess := s.Next(0, 3)
		assert.Equal(t, 3, local)
		assert.Equal(t, 1026+3*900, guess)
	})
}

func TestLinearStrategy(t *testing.T) {
	s := newLinearStrategy()
	s.Reset([2]*SymmetricNAT{}, nil)

	assert.Equal(t, [2]int{1025, 1025}, s.Silent(0, 0, 0.1))

	for step, want := range []int{1025, 1027, 1029, 1031} {
		local, guess := s.Next(0, step)
		assert.Equal(t, 1025, local)
		assert.Equal(t, want, guess, "step %d", step)
	}
}

func TestBabyGiantStrategy(t *testing.T) {
	s := newBabyGiantStrategy()

	local, guess := s.Next(0, 3)
	assert.Equal(t, 1025, local)
	assert.Equal(t, 1028, guess)

	// The fast walker doubles the step from the same origin.
	_, guess = s.Next(1, 3)
	assert.Equal(t, 1031, guess)
}

func TestExpectedValueStrategy(t *testing.T) {
	s := newExpectedValueStrategy(testRNG())
	s.Reset([2]*SymmetricNAT{}, &Simulation{Lambda: 0.1, ScanInterval: 10})

	t.Run("silent shifts the start", func(t *testing.T) {
		start := s.Silent(100, 200, 0.1)
		assert.Equal(t, [2]int{1035, 1045}, start)
	})

	t.Run("integral expectation needs no rounding", func(t *testing.T) {
		// lambda*T = 1, so the expectation step*(1+1) is exact.
		s.Silent(0, 0, 0.1)
		for step := 0; step < 10; step++ {
			_, guess := s.Next(0, step)
			assert.Equal(t, 1025+2*step, guess, "step %d", step)
		}
	})
}

func TestFiboStrategy(t *testing.T) {
	s := newFiboStrategy()

	assert.Equal(t, []int{2, 3, 5, 6, 8, 9, 10}, s.b[:7])

	local, guess := s.Next(0, 2)
	assert.Equal(t, 0, local)
	assert.Equal(t, 5, guess)

	_, guess = s.Next(1, 2)
	assert.Equal(t, 10, guess)
}

func TestPoissonStrategy(t *testing.T) {
	s := newPoissonStrategy(testRNG())

	start := s.Silent(1000, 2000, 0.1)
	assert.Equal(t, [2]int{100 + 1025, 200 + 1025}, start)

	for party := 0; party < 2; party++ {
		path := s.b[party]
		require.NotEmpty(t, path)
		assert.LessOrEqual(t, len(path), 1101)

		seen := make(map[int]struct{}, len(path))
		for _, v := range path {
			assert.GreaterOrEqual(t, v, 0)
			_, dup := seen[v]
			assert.False(t, dup, "duplicate offset %d", v)
			seen[v] = struct{}{}
		}
	}

	local, guess := s.Next(0, 0)
	assert.Equal(t, 1025, local)
	assert.Equal(t, start[0]+s.b[0][0], guess)
}

func TestBinomialStrategy(t *testing.T) {
	s := newBinomialStrategy(testRNG())

	start := s.Silent(1000, 1000, 0.01)
	assert.Equal(t, [2]int{10, 10}, start)

	t.Run("party zero tracks the midpoint", func(t *testing.T) {
		for step, want := range []int{0, 2, 3, 5, 6} {
			local, guess := s.Next(0, step)
			assert.Equal(t, 0, local)
			assert.Equal(t, start[0]+want, guess, "step %d", step)
		}
	})

	t.Run("party one samples non-negative offsets", func(t *testing.T) {
		for step := 0; step < 50; step++ {
			_, guess := s.Next(1, step)
			assert.GreaterOrEqual(t, guess, start[1])
		}
	})
}

func TestGrowthCoef(t *testing.T) {
	assert.InDelta(t, 1.4708, growthCoef(1.0), 0.001)
	// In the fitted band the coefficient stays positive and finite.
	for _, x := range []float64{0.04, 0.1, 1.0, 2.5} {
		assert.Positive(t, growthCoef(x), "x=%v", x)
	}
}
