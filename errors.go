package natsim

import "errors"

var (
	// ErrPoolExhausted is returned when the allocator cannot find a free or
	// expired port within its bounded probe budget. It aborts the current
	// simulation round; the round is counted as a non-match.
	ErrPoolExhausted = errors.New("port pool exhausted")

	// ErrInvalidConfig is wrapped by all construction-time configuration
	// failures: bad pool bounds, non-positive lambda, unknown strategy keys.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTrafficExhausted is returned by a finite TrafficSource once it can
	// no longer supply a full round of per-step connection counts.
	ErrTrafficExhausted = errors.New("traffic source exhausted")
)
