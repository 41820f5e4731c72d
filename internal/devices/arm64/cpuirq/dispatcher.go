// Package cpuirq drives the IRQ and FIQ inputs of an arm64 vCPU.
//
// Each Dispatcher owns a two-line chipset.LineSet: line 0 is the IRQ pin and
// line 1 the FIQ pin. Level changes are delivered either by flipping the
// vCPU's software pending flags or by injecting a KVM_IRQ_LINE event; the
// backend is chosen once when the dispatcher is built.
package cpuirq

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/irqfabric/internal/chipset"
	"github.com/tinyrange/irqfabric/internal/hv"
)

const (
	LineIRQ = 0
	LineFIQ = 1

	numLines = 2
)

// Backend delivers a pin level change to a vCPU.
type Backend interface {
	SetPin(index int, level bool)
	CPUIndex() int
}

type softwareBackend struct {
	cpu InterruptTarget
}

// Software returns a backend that mutates the pending flags of cpu.
func Software(cpu InterruptTarget) Backend {
	if cpu == nil {
		panic("cpuirq: software backend requires a vCPU")
	}
	return &softwareBackend{cpu: cpu}
}

func (b *softwareBackend) CPUIndex() int { return b.cpu.ID() }

func (b *softwareBackend) SetPin(index int, level bool) {
	var mask InterruptFlags
	switch index {
	case LineIRQ:
		mask = InterruptHard
	case LineFIQ:
		mask = InterruptFIQ
	default:
		panic(fmt.Sprintf("cpuirq: bad interrupt line %d", index))
	}

	if level {
		b.cpu.RaiseInterrupt(mask)
	} else {
		b.cpu.ClearInterrupt(mask)
	}
}

type acceleratedBackend struct {
	channel hv.IRQLineSetter
	cpu     int
}

// Accelerated returns a backend that injects pin changes for vCPU cpu through
// the accelerator channel.
func Accelerated(channel hv.IRQLineSetter, cpu int) Backend {
	if channel == nil {
		panic("cpuirq: accelerated backend requires an IRQ channel")
	}
	if cpu < 0 || cpu > hv.Arm64MaxVCPUIndex {
		panic(fmt.Sprintf("cpuirq: vCPU index %d not addressable", cpu))
	}
	return &acceleratedBackend{channel: channel, cpu: cpu}
}

func (b *acceleratedBackend) CPUIndex() int { return b.cpu }

func (b *acceleratedBackend) SetPin(index int, level bool) {
	irq, err := EncodeCPULine(b.cpu, index)
	if err != nil {
		panic(err.Error())
	}

	// Injection is fire-and-forget.
	if err := b.channel.SetIRQ(irq, level); err != nil {
		slog.Error("cpuirq: inject failed",
			"cpu", b.cpu,
			"irq", fmt.Sprintf("%#x", irq),
			"level", level,
			"err", err,
		)
	}
}

// EncodeCPULine returns the KVM_IRQ_LINE identifier that drives pin index of
// vCPU cpu.
func EncodeCPULine(cpu int, index int) (uint32, error) {
	var num uint32
	switch index {
	case LineIRQ:
		num = hv.Arm64IRQCPUIRQ
	case LineFIQ:
		num = hv.Arm64IRQCPUFIQ
	default:
		return 0, fmt.Errorf("cpuirq: bad interrupt line %d", index)
	}
	if cpu < 0 {
		return 0, fmt.Errorf("cpuirq: negative vCPU index %d", cpu)
	}
	return hv.Arm64IRQLine{
		Type: hv.Arm64IRQTypeCPU,
		VCPU: uint32(cpu),
		Num:  num,
	}.Encode()
}

// Dispatcher owns the IRQ and FIQ lines of one vCPU.
type Dispatcher struct {
	backend Backend
	lines   *chipset.LineSet
}

// New binds a fresh pair of lines to backend.
func New(backend Backend) *Dispatcher {
	if backend == nil {
		panic("cpuirq: nil backend")
	}
	d := &Dispatcher{backend: backend}
	d.lines = chipset.NewLineSet(numLines, d)
	return d
}

// ForCPU picks the accelerated backend when accel is non-nil and the
// software backend otherwise.
func ForCPU(cpu InterruptTarget, accel hv.IRQLineSetter) *Dispatcher {
	if accel != nil {
		return New(Accelerated(accel, cpu.ID()))
	}
	return New(Software(cpu))
}

// HandleIRQ implements chipset.IRQHandler. Indices other than LineIRQ and
// LineFIQ are wiring bugs and panic.
func (d *Dispatcher) HandleIRQ(index int, level bool) {
	if index != LineIRQ && index != LineFIQ {
		panic(fmt.Sprintf("cpuirq: cpu%d: bad interrupt line %d", d.backend.CPUIndex(), index))
	}
	d.backend.SetPin(index, level)
}

// Lines returns the two-line array for external wiring.
func (d *Dispatcher) Lines() *chipset.LineSet { return d.lines }

// IRQ returns the normal interrupt input.
func (d *Dispatcher) IRQ() chipset.LineInterrupt { return d.lines.Line(LineIRQ) }

// FIQ returns the fast interrupt input.
func (d *Dispatcher) FIQ() chipset.LineInterrupt { return d.lines.Line(LineFIQ) }

// CPUIndex returns the vCPU the dispatcher drives.
func (d *Dispatcher) CPUIndex() int { return d.backend.CPUIndex() }

var _ chipset.IRQHandler = (*Dispatcher)(nil)
