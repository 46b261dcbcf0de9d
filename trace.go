package natsim

// StepRecord captures what one party did at one step of a round: the local
// source port it used, the remote port it guessed, and the external port its
// own NAT allocated for the attempt.
type StepRecord struct {
	Local     int
	Guess     int
	Allocated int
}

// RoundTrace is the full record of a single simulation round, kept only for
// single-round runs where inspection and rendering are the point. Ports and
// PortStep index the allocated external ports per party; Matches holds the
// intersecting (portA, portB) pairs sorted by their lower coordinate.
type RoundTrace struct {
	Steps    [2][]StepRecord
	Ports    [2]map[int]struct{}
	PortStep [2]map[int]int
	Matches  [][2]int
}

func newRoundTrace() *RoundTrace {
	t := &RoundTrace{}
	for party := 0; party < 2; party++ {
		t.Ports[party] = make(map[int]struct{})
		t.PortStep[party] = make(map[int]int)
	}
	return t
}
