package natsim

import "fmt"

// Quartet identifies one flow through a NAT: source address and port on the
// inside, destination address and port on the outside. It is a comparable
// value type so it can be used directly as a map key.
type Quartet struct {
	SrcAddr string
	SrcPort int
	DstAddr string
	DstPort int
}

// String renders the quartet in "src:port --> dst:port" form.
func (q Quartet) String() string {
	return fmt.Sprintf("%s:%05d --> %s:%05d", q.SrcAddr, q.SrcPort, q.DstAddr, q.DstPort)
}
