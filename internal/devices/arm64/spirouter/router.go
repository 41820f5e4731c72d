// Package spirouter latches SPI assertions and drives one vCPU IRQ line
// while any SPI is pending. Routing is the identity: every SPI goes to the
// same vCPU and there are no priorities.
package spirouter

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/tinyrange/irqfabric/internal/chipset"
)

const (
	// FirstSPI is the lowest INTID the router accepts.
	FirstSPI = 32

	// DefaultNumIRQs covers the whole GICv2 INTID space.
	DefaultNumIRQs = 1020
)

// Router is a pending latch in front of a vCPU IRQ input.
type Router struct {
	mu sync.Mutex

	numIRQs int
	pending []uint64
	count   int

	out    chipset.LineInterrupt
	outLvl bool

	eoi map[uint32][]func()
}

// New returns a router for INTIDs below numIRQs driving out.
func New(numIRQs int, out chipset.LineInterrupt) *Router {
	if numIRQs <= FirstSPI {
		numIRQs = DefaultNumIRQs
	}
	if out == nil {
		out = chipset.LineInterruptDetached()
	}
	return &Router{
		numIRQs: numIRQs,
		pending: make([]uint64, (numIRQs+63)/64),
		out:     out,
		eoi:     make(map[uint32][]func()),
	}
}

// SetIRQ implements chipset.InterruptSink. A high level latches the INTID;
// a low level is ignored because the latch, not the source, owns the state.
func (r *Router) SetIRQ(intid uint32, level bool) {
	if intid < FirstSPI || int(intid) >= r.numIRQs {
		slog.Warn("spirouter: INTID out of range", "intid", intid, "max", r.numIRQs-1)
		return
	}
	if !level {
		return
	}

	r.mu.Lock()
	word, bit := intid/64, uint64(1)<<(intid%64)
	if r.pending[word]&bit == 0 {
		r.pending[word] |= bit
		r.count++
	}
	r.mu.Unlock()

	r.update()
}

// Pending reports whether intid is latched.
func (r *Router) Pending(intid uint32) bool {
	if int(intid) >= r.numIRQs {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[intid/64]&(uint64(1)<<(intid%64)) != 0
}

// PendingList returns every latched INTID in ascending order.
func (r *Router) PendingList() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint32, 0, r.count)
	for w, word := range r.pending {
		for word != 0 {
			b := bits.TrailingZeros64(word)
			out = append(out, uint32(w*64+b))
			word &^= 1 << b
		}
	}
	return out
}

// Acknowledge takes the lowest pending INTID out of the latch. The vCPU line
// stays asserted while anything else is pending.
func (r *Router) Acknowledge() (uint32, bool) {
	r.mu.Lock()
	var (
		intid uint32
		found bool
	)
	for w, word := range r.pending {
		if word == 0 {
			continue
		}
		b := bits.TrailingZeros64(word)
		r.pending[w] &^= 1 << b
		r.count--
		intid, found = uint32(w*64+b), true
		break
	}
	r.mu.Unlock()

	if found {
		r.update()
	}
	return intid, found
}

// Clear drops intid from the latch without acknowledging it.
func (r *Router) Clear(intid uint32) {
	if int(intid) >= r.numIRQs {
		return
	}
	r.mu.Lock()
	word, bit := intid/64, uint64(1)<<(intid%64)
	if r.pending[word]&bit != 0 {
		r.pending[word] &^= bit
		r.count--
	}
	r.mu.Unlock()

	r.update()
}

// RegisterEOICallback registers fn to run when EOI is signalled for intid.
func (r *Router) RegisterEOICallback(intid uint32, fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eoi[intid] = append(r.eoi[intid], fn)
}

// EOI notifies listeners that the guest finished handling intid.
func (r *Router) EOI(intid uint32) {
	r.mu.Lock()
	callbacks := append([]func(){}, r.eoi[intid]...)
	r.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// update drives the output from the latch without holding the lock across
// the line call.
func (r *Router) update() {
	r.mu.Lock()
	want := r.count > 0
	changed := want != r.outLvl
	r.outLvl = want
	out := r.out
	r.mu.Unlock()

	if changed {
		out.SetLevel(want)
	}
}

// String summarises the latch for diagnostics.
func (r *Router) String() string {
	return fmt.Sprintf("spirouter(pending=%v, out=%t)", r.PendingList(), r.outLevel())
}

func (r *Router) outLevel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outLvl
}

var _ chipset.InterruptSink = (*Router)(nil)
