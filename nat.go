package natsim

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// AllocationPolicy selects how a symmetric NAT walks its port pool when
// allocating.
type AllocationPolicy int

const (
	// PolicyIncremental advances a round-robin cursor one slot per probe,
	// the behavior of most consumer routers.
	PolicyIncremental AllocationPolicy = iota
	// PolicyRandom samples a uniformly random slot per probe, with
	// replacement across probes.
	PolicyRandom
)

func (p AllocationPolicy) String() string {
	switch p {
	case PolicyIncremental:
		return "incremental"
	case PolicyRandom:
		return "random"
	default:
		return "unknown"
	}
}

// selector yields pool indices to probe. peek(-1) starts a fresh probe
// sequence from the current cursor; commit reflects the number of probes a
// successful allocation consumed back into the cursor.
type selector interface {
	peek(prev int) int
	commit(probes int)
	reset()
}

type incrementalSelector struct {
	cursor  int
	poolLen int
}

func (s *incrementalSelector) peek(prev int) int {
	if prev < 0 {
		prev = s.cursor
	}
	return (prev + 1) % s.poolLen
}

func (s *incrementalSelector) commit(probes int) {
	s.cursor = (s.cursor + probes) % s.poolLen
}

func (s *incrementalSelector) reset() { s.cursor = 0 }

type randomSelector struct {
	poolLen int
	rng     *rand.Rand
}

func (s *randomSelector) peek(prev int) int { return s.rng.Intn(s.poolLen) }
func (s *randomSelector) commit(probes int) {}
func (s *randomSelector) reset()            {}

// NATConfig describes a symmetric NAT model.
type NATConfig struct {
	// PoolMin and PoolMax bound the contiguous external port pool,
	// inclusive. Zero values default to 1025-65535.
	PoolMin int
	PoolMax int

	// Timeout is the idle lifetime of an allocation in simulated
	// milliseconds. Zero defaults to three minutes.
	Timeout int64

	// Policy selects the port allocation order.
	Policy AllocationPolicy

	// Rand drives the random policy and the opportunistic housekeeping
	// probability. Pass a seeded source for reproducible runs; nil falls
	// back to a fixed-seed source.
	Rand *rand.Rand
}

func (c *NATConfig) validate() error {
	if c.PoolMin == 0 && c.PoolMax == 0 {
		c.PoolMin, c.PoolMax = DefaultPoolMin, DefaultPoolMax
	}
	if c.PoolMin < 1 || c.PoolMax > 65535 || c.PoolMin > c.PoolMax {
		return fmt.Errorf("%w: port pool bounds [%d, %d]", ErrInvalidConfig, c.PoolMin, c.PoolMax)
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %d", ErrInvalidConfig, c.Timeout)
	}
	if c.Policy != PolicyIncremental && c.Policy != PolicyRandom {
		return fmt.Errorf("%w: unknown allocation policy %d", ErrInvalidConfig, c.Policy)
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(1))
	}
	return nil
}

// SymmetricNAT models a symmetric NAT's port allocation table: every flow
// gets its own external port, idle allocations expire after a timeout, and
// background traffic competes for the same pool.
type SymmetricNAT struct {
	poolMin int
	poolLen int
	timeout int64
	policy  AllocationPolicy
	sel     selector
	rng     *rand.Rand
	table   *portTable
}

// NewSymmetricNAT builds a NAT model, failing fast on invalid configuration.
func NewSymmetricNAT(cfg NATConfig) (*SymmetricNAT, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := &SymmetricNAT{
		poolMin: cfg.PoolMin,
		poolLen: cfg.PoolMax - cfg.PoolMin + 1,
		timeout: cfg.Timeout,
		policy:  cfg.Policy,
		rng:     cfg.Rand,
		table:   newPortTable(),
	}
	switch cfg.Policy {
	case PolicyRandom:
		n.sel = &randomSelector{poolLen: n.poolLen, rng: cfg.Rand}
	default:
		n.sel = &incrementalSelector{poolLen: n.poolLen}
	}
	return n, nil
}

// Reset clears all allocations and the cursor. The pool itself never
// changes size over a NAT's lifetime.
func (n *SymmetricNAT) Reset() {
	n.table.clear()
	n.sel.reset()
}

// PoolSize returns the number of ports in the pool.
func (n *SymmetricNAT) PoolSize() int { return n.poolLen }

// Timeout returns the allocation idle timeout in simulated milliseconds.
func (n *SymmetricNAT) Timeout() int64 { return n.timeout }

// Policy returns the configured allocation policy.
func (n *SymmetricNAT) Policy() AllocationPolicy { return n.policy }

// nextFreePort walks the pool per the allocation policy and returns the
// first port that is unallocated or whose allocation has expired (the
// expired one is evicted on the spot). The probe budget is the pool size;
// running past it fails with ErrPoolExhausted. For the random policy the
// budget is a heuristic exhaustion check, not a proof that no slot remains,
// since probing is with replacement.
//
// Worst case is O(poolLen), which is how a router without extra free-list
// state behaves; the average case is fast unless a long run of live
// allocations sits under the cursor. With peek set the cursor is left
// untouched so the call reports what the next allocation would return.
func (n *SymmetricNAT) nextFreePort(now int64, peek bool) (int, error) {
	tries := 0
	port := -1
	prev := -1
	for tries <= n.poolLen {
		idx := n.sel.peek(prev)
		prev = idx
		port = n.poolMin + idx
		tries++
		if rec, ok := n.table.ports[port]; ok {
			if rec.lastAccess+n.timeout < now {
				n.table.evict(port)
				break // slot reclaimed, take it
			}
			continue // live, keep probing
		}
		break // free slot
	}
	if tries >= n.poolLen || port == -1 {
		return -1, ErrPoolExhausted
	}
	if !peek {
		n.sel.commit(tries)
	}
	return port, nil
}

// Alloc maps a flow to an external port at simulated time now.
//
// An existing unexpired mapping is refreshed (lastSeen becomes its new last
// access time) and its port returned: a NAT keeps one external port per live
// flow. An expired mapping is evicted first. If the flow is unknown and
// refreshOnly is set, Alloc returns -1 without touching any state; this
// models a reply packet for a flow the NAT never saw, which must not create
// a mapping. Otherwise a port is selected per the allocation policy and
// recorded. Allocation failure surfaces as ErrPoolExhausted.
func (n *SymmetricNAT) Alloc(srcAddr string, srcPort int, dstAddr string, dstPort int, now, lastSeen int64, refreshOnly bool) (int, error) {
	q := Quartet{SrcAddr: srcAddr, SrcPort: srcPort, DstAddr: dstAddr, DstPort: dstPort}

	if port, ok := n.table.quartets[q]; ok {
		rec := n.table.ports[port]
		if rec.lastAccess+n.timeout < now {
			n.table.evict(port)
		} else {
			n.table.refresh(port, rec.quartet, lastSeen)
			return port, nil
		}
	}

	if refreshOnly {
		return -1, nil
	}

	port, err := n.nextFreePort(now, false)
	if err != nil {
		return -1, err
	}
	n.table.record(port, &q, lastSeen)

	// Housekeeping pass with ~1% probability, mirroring a router timing
	// out idle entries as a side effect of unrelated work.
	if n.rng.Intn(100) == 0 {
		n.table.cleanExpired(now, n.timeout)
	}
	return port, nil
}

// Occupy creates count anonymous allocations at simulated time now. They
// model background traffic sharing the pool: they cannot be looked up by
// quartet and only leave the table by expiring.
func (n *SymmetricNAT) Occupy(count int, now int64) error {
	for i := 0; i < count; i++ {
		port, err := n.nextFreePort(now, false)
		if err != nil {
			return err
		}
		n.table.record(port, nil, now)
	}
	return nil
}

// FreePorts returns pool size minus recorded allocations. Expired entries
// that have not been cleaned yet still count, so the occupied side can
// overcount live allocations; TrulyFreePorts forces the cleanup first.
func (n *SymmetricNAT) FreePorts() int {
	return n.poolLen - len(n.table.ports)
}

// TrulyFreePorts forces an expiry cleanup and returns the exact free count
// at simulated time now.
func (n *SymmetricNAT) TrulyFreePorts(now int64) int {
	n.table.cleanExpired(now, n.timeout)
	return n.FreePorts()
}

// PeekNext reports which port the next Alloc call would return, without
// advancing the allocation cursor. For the random policy the answer is a
// sample, not a commitment.
func (n *SymmetricNAT) PeekNext(now int64) (int, error) {
	return n.nextFreePort(now, true)
}
