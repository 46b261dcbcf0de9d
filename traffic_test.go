package natsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoissonTraffic(t *testing.T) {
	t.Run("counts are non-negative", func(t *testing.T) {
		src := NewPoissonTraffic(0.1, 10, testRNG())
		counts, err := src.NextRound(200)
		require.NoError(t, err)
		require.Len(t, counts, 200)
		for i, c := range counts {
			assert.GreaterOrEqual(t, c, 0, "step %d", i)
		}
	})

	t.Run("zero rate yields silence", func(t *testing.T) {
		src := NewPoissonTraffic(0, 10, testRNG())
		counts, err := src.NextRound(50)
		require.NoError(t, err)
		for _, c := range counts {
			assert.Zero(t, c)
		}
	})
}

func TestTraceTraffic(t *testing.T) {
	trace := NewTraceTraffic([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	first, err := trace.NextRound(4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, first)

	second, err := trace.NextRound(4)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 7, 8}, second)
	assert.Equal(t, 2, trace.Remaining())

	_, err = trace.NextRound(4)
	require.ErrorIs(t, err, ErrTrafficExhausted)
}
