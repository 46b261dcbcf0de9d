package natsim

// Default NAT model parameters: the registered-port range of a typical
// consumer router and a three minute mapping timeout.
const (
	DefaultPoolMin = 1025
	DefaultPoolMax = 65535
	DefaultTimeout = 3 * 60 * 1000
)

// Default simulation parameters. The scan interval and silent period values
// are in simulated milliseconds.
const (
	DefaultScanInterval       = 10.0
	DefaultSilentPeriodBase   = 1000.0
	DefaultSilentPeriodLambda = 100.0
	DefaultRounds             = 1000
	DefaultFastRounds         = 100
	DefaultSteps              = 1000
)
