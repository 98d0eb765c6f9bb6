package queue

import (
	"fmt"

	"github.com/gogpu/gpuqueue/backend"
)

// kindShift is the bit position of the queue kind inside a Ticket.
const kindShift = 56

const valueMask = 1<<kindShift - 1

// Ticket is a completion ticket: the fence value a queue signals once a
// submitted batch has executed. The high 8 bits carry the issuing queue kind,
// so any ticket can be routed back to its tracker.
//
// Tickets of one queue are strictly increasing in submission order.
type Ticket uint64

// MakeTicket builds a ticket from a queue kind and a per-queue counter.
func MakeTicket(kind backend.QueueKind, value uint64) Ticket {
	return Ticket(uint64(kind)<<kindShift | value&valueMask)
}

// Queue returns the kind of the queue that issued t.
func (t Ticket) Queue() backend.QueueKind {
	return backend.QueueKind(t >> kindShift)
}

// Value returns the per-queue counter of t.
func (t Ticket) Value() uint64 {
	return uint64(t) & valueMask
}

// String formats t as kind:value.
func (t Ticket) String() string {
	return fmt.Sprintf("%s:%d", t.Queue(), t.Value())
}
