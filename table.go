package natsim

import "container/heap"

// allocation is the authoritative record for one external port. The quartet
// is nil for anonymous background allocations, which can never be looked up
// by flow and only leave the table by expiring.
type allocation struct {
	quartet    *Quartet
	lastAccess int64
}

// expiryEntry is a reclamation hint: the state of a port's allocation at the
// time it was created or refreshed. Refreshing a port does not remove its
// older entries, so the heap may hold stale duplicates; entries are validated
// against the allocation record when popped.
type expiryEntry struct {
	lastAccess int64
	port       int
	quartet    *Quartet
}

// expiryHeap is a min-heap of expiryEntry ordered by lastAccess.
type expiryHeap []expiryEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].lastAccess < h[j].lastAccess }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// portTable holds the bidirectional port<->quartet mapping of one NAT
// together with the expiry heap. The port map is authoritative; the heap is
// only a hint for reclamation.
type portTable struct {
	ports    map[int]allocation
	quartets map[Quartet]int
	expiry   expiryHeap
}

func newPortTable() *portTable {
	t := &portTable{}
	t.clear()
	return t
}

func (t *portTable) clear() {
	t.ports = make(map[int]allocation)
	t.quartets = make(map[Quartet]int)
	t.expiry = t.expiry[:0]
}

// record stores an allocation for port and pushes a matching expiry entry.
// Earlier entries for the same port stay in the heap as stale duplicates.
func (t *portTable) record(port int, q *Quartet, lastAccess int64) {
	t.ports[port] = allocation{quartet: q, lastAccess: lastAccess}
	if q != nil {
		t.quartets[*q] = port
	}
	heap.Push(&t.expiry, expiryEntry{lastAccess: lastAccess, port: port, quartet: q})
}

// refresh updates the last access time of an existing allocation without
// touching the quartet index. The old heap entry becomes stale.
func (t *portTable) refresh(port int, q *Quartet, lastAccess int64) {
	t.ports[port] = allocation{quartet: q, lastAccess: lastAccess}
}

// evict removes a port's allocation from the table and, if the allocation
// was flow-bound, from the quartet index. Heap entries are left behind and
// invalidated lazily.
func (t *portTable) evict(port int) {
	rec, ok := t.ports[port]
	if !ok {
		return
	}
	if rec.quartet != nil {
		delete(t.quartets, *rec.quartet)
	}
	delete(t.ports, port)
}

// cleanExpired pops expiry entries older than the timeout and evicts the
// ports whose authoritative record still matches the popped entry. Stale
// duplicates (superseded by a later refresh of the same port) are discarded
// without side effects.
func (t *portTable) cleanExpired(now, timeout int64) {
	for len(t.expiry) > 0 {
		top := t.expiry[0]
		if top.lastAccess+timeout >= now {
			break
		}
		rec, ok := t.ports[top.port]
		if ok && rec.lastAccess == top.lastAccess && quartetEqual(rec.quartet, top.quartet) {
			t.evict(top.port)
		}
		heap.Pop(&t.expiry)
	}
}

func quartetEqual(a, b *Quartet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
