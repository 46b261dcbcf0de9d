// Package natsim evaluates hole-punching strategies against symmetric NATs.
//
// A symmetric NAT allocates a fresh external port per flow, so two peers
// behind such NATs cannot connect directly unless each one guesses the port
// the other side's NAT will hand out next. The package models the NAT's
// port-allocation and expiry behavior under background load, and drives two
// NAT models plus two prediction strategies through timed rounds, measuring
// whether and when the guesses intersect.
//
// The building blocks are SymmetricNAT (the allocator model), Strategy (the
// pluggable port predictor, see NewStrategy for the known variants),
// TrafficSource (per-step background connection counts, synthetic or
// trace-derived) and Simulation (the round/step matching engine). The probe
// subpackage measures allocation behavior of a real gateway via UPnP or
// NAT-PMP for comparison against the model.
//
// All time values in the simulation are milliseconds of simulated traffic
// time, not wall-clock time.
package natsim
