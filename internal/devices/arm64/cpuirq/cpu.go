package cpuirq

import "sync/atomic"

// InterruptFlags is the set of interrupt-pending bits of a software vCPU.
type InterruptFlags uint32

const (
	InterruptHard InterruptFlags = 1 << iota
	InterruptFIQ
)

func (f InterruptFlags) String() string {
	switch f {
	case 0:
		return "none"
	case InterruptHard:
		return "irq"
	case InterruptFIQ:
		return "fiq"
	case InterruptHard | InterruptFIQ:
		return "irq|fiq"
	default:
		return "invalid"
	}
}

// InterruptTarget is the pending-interrupt state of one vCPU as seen by the
// software dispatcher.
type InterruptTarget interface {
	ID() int
	RaiseInterrupt(mask InterruptFlags)
	ClearInterrupt(mask InterruptFlags)
}

// CPU holds the interrupt-pending flags of a software-emulated vCPU.
type CPU struct {
	id      int
	pending atomic.Uint32
}

// NewCPU returns a vCPU with no interrupts pending.
func NewCPU(id int) *CPU {
	return &CPU{id: id}
}

// ID implements InterruptTarget.
func (c *CPU) ID() int { return c.id }

// RaiseInterrupt implements InterruptTarget.
func (c *CPU) RaiseInterrupt(mask InterruptFlags) {
	c.pending.Or(uint32(mask))
}

// ClearInterrupt implements InterruptTarget.
func (c *CPU) ClearInterrupt(mask InterruptFlags) {
	c.pending.And(^uint32(mask))
}

// Pending returns the current interrupt-pending flags.
func (c *CPU) Pending() InterruptFlags {
	return InterruptFlags(c.pending.Load())
}

var _ InterruptTarget = (*CPU)(nil)
