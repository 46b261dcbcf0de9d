package natsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortTableExpiry(t *testing.T) {
	t.Run("expired entries are evicted", func(t *testing.T) {
		tbl := newPortTable()
		q := &Quartet{SrcAddr: "A", SrcPort: 5000, DstAddr: "B", DstPort: 80}
		tbl.record(2000, q, 0)
		tbl.record(2001, nil, 10)

		tbl.cleanExpired(150, 100)
		assert.Empty(t, tbl.ports)
		assert.Empty(t, tbl.quartets)
	})

	t.Run("unexpired entries survive", func(t *testing.T) {
		tbl := newPortTable()
		tbl.record(2000, nil, 0)
		tbl.cleanExpired(100, 100)
		assert.Len(t, tbl.ports, 1)
	})

	t.Run("stale heap entry does not evict a refreshed port", func(t *testing.T) {
		tbl := newPortTable()
		q := &Quartet{SrcAddr: "A", SrcPort: 5000, DstAddr: "B", DstPort: 80}
		tbl.record(2000, q, 0)
		tbl.refresh(2000, q, 50)

		// The heap still holds the lastAccess=0 entry, but the record
		// says 50, so the pop must discard it without evicting.
		tbl.cleanExpired(120, 100)
		require.Contains(t, tbl.ports, 2000)
		assert.Equal(t, int64(50), tbl.ports[2000].lastAccess)
	})

	t.Run("reused port with older heap entry survives", func(t *testing.T) {
		tbl := newPortTable()
		q1 := &Quartet{SrcAddr: "A", SrcPort: 5000, DstAddr: "B", DstPort: 80}
		q2 := &Quartet{SrcAddr: "A", SrcPort: 5001, DstAddr: "B", DstPort: 80}
		tbl.record(2000, q1, 0)
		tbl.evict(2000)
		tbl.record(2000, q2, 10)

		// Pop of the (0, 2000, q1) entry must not evict q2's allocation.
		tbl.cleanExpired(105, 100)
		require.Contains(t, tbl.ports, 2000)
		assert.Equal(t, q2, tbl.ports[2000].quartet)
		assert.Contains(t, tbl.quartets, *q2)
	})
}

func TestPortTableEvict(t *testing.T) {
	tbl := newPortTable()
	q := &Quartet{SrcAddr: "A", SrcPort: 5000, DstAddr: "B", DstPort: 80}
	tbl.record(2000, q, 0)

	tbl.evict(2000)
	assert.Empty(t, tbl.ports)
	assert.Empty(t, tbl.quartets)

	// Evicting a missing port is a no-op.
	tbl.evict(2000)
}

func TestQuartetString(t *testing.T) {
	q := Quartet{SrcAddr: "10.0.0.1", SrcPort: 5000, DstAddr: "10.0.0.2", DstPort: 80}
	assert.Equal(t, "10.0.0.1:05000 --> 10.0.0.2:00080", q.String())
}
