package main

import (
	"fmt"
	"io"

	natsim "github.com/tvaleev/NATSimTools"
)

// renderMatch draws a per-step hit map of a single traversal round, two
// characters per step (one per party) plus a separator:
//
//	.  guess missed entirely
//	+  guess hit a port the peer allocated at some step
//	K  guess hit the port the peer allocated at the same step
//	M  guess belongs to a matched pair
//
// A space means the round stopped before that step. Hit counters per party
// follow the map.
func renderMatch(w io.Writer, trace *natsim.RoundTrace, steps int) {
	var cnt [2][3]int

	for i := 0; i < steps; i++ {
		for party := 0; party < 2; party++ {
			peer := party ^ 1
			c := byte('.')

			if len(trace.Steps[party]) <= i {
				c = ' '
			} else {
				guess := trace.Steps[party][i].Guess

				if _, ok := trace.Ports[peer][guess]; ok {
					cnt[party][0]++
					c = '+'
				}
				if len(trace.Steps[peer]) > i && guess == trace.Steps[peer][i].Allocated {
					cnt[party][1]++
					c = 'K'
				}
				for _, m := range trace.Matches {
					if m[peer] == guess {
						cnt[party][2]++
						c = 'M'
						break
					}
				}
			}
			fmt.Fprintf(w, "%c", c)
		}
		fmt.Fprint(w, "|")
		if i%40 == 39 {
			fmt.Fprintln(w)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Hits: %v\n", cnt)
}
