package natsim

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLambdaGrid(t *testing.T) {
	t.Run("coarse", func(t *testing.T) {
		grid := LambdaGrid(false)
		assert.Len(t, grid, 34)
		assert.InDelta(t, 0.001, grid[0], 1e-9)
		assert.InDelta(t, 0.25, grid[len(grid)-1], 1e-9)
		assert.True(t, sort.Float64sAreSorted(grid))
		for _, l := range grid {
			assert.Positive(t, l)
		}
	})

	t.Run("fine band deduplicates against coarse", func(t *testing.T) {
		grid := LambdaGrid(true)
		assert.Len(t, grid, 79)
		assert.True(t, sort.Float64sAreSorted(grid))

		seen := make(map[int64]struct{})
		for _, l := range grid {
			key := int64(l*10000 + 0.5)
			_, dup := seen[key]
			assert.False(t, dup, "duplicate lambda %v", l)
			seen[key] = struct{}{}
		}
	})
}

func TestBenchmarkRun(t *testing.T) {
	newBench := func() *Benchmark {
		return &Benchmark{
			Strategy:    "i2j",
			Rounds:      2,
			Steps:       5,
			LambdaStart: 0.1,
			Seed:        99,
			Workers:     4,
		}
	}

	var out bytes.Buffer
	require.NoError(t, newBench().Run(context.Background(), &out))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 16, "lambdas 0.10 through 0.25")

	prev := -1.0
	for _, line := range lines {
		fields := strings.Split(line, "|")
		require.Len(t, fields, 4, "line %q", line)

		lambda, err := strconv.ParseFloat(fields[0], 64)
		require.NoError(t, err)
		assert.Greater(t, lambda, prev, "output must stay in grid order")
		prev = lambda

		rate, err := strconv.ParseFloat(fields[2], 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
	}

	t.Run("same seed reproduces the sweep", func(t *testing.T) {
		var again bytes.Buffer
		require.NoError(t, newBench().Run(context.Background(), &again))
		assert.Equal(t, out.String(), again.String())
	})
}

// cancelingWriter cancels the sweep as soon as the first result line lands,
// simulating an interrupt partway through a long run.
type cancelingWriter struct {
	buf    bytes.Buffer
	cancel context.CancelFunc
}

func (w *cancelingWriter) Write(p []byte) (int, error) {
	w.cancel()
	return w.buf.Write(p)
}

func TestBenchmarkKeepsCompletedPointsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &cancelingWriter{cancel: cancel}

	b := &Benchmark{
		Strategy:    "i2j",
		Rounds:      2,
		Steps:       5,
		LambdaStart: 0.2,
		Seed:        7,
		Workers:     1,
	}
	err := b.Run(ctx, out)
	require.ErrorIs(t, err, context.Canceled)

	lines := strings.Split(strings.TrimRight(out.buf.String(), "\n"), "\n")
	require.Len(t, lines, 1, "the point finished before the interrupt stays written")
	fields := strings.Split(lines[0], "|")
	require.Len(t, fields, 4)
	lambda, err := strconv.ParseFloat(fields[0], 64)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, lambda, 1e-9, "output follows grid order")
}

func TestBenchmarkRejectsUnknownStrategy(t *testing.T) {
	b := &Benchmark{Strategy: "quantum"}
	err := b.Run(context.Background(), &bytes.Buffer{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
