// Package machine assembles CPUs, CPU interrupt dispatchers, the SPI router
// and GICv2m frames into one chipset.
package machine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/irqfabric/internal/chipset"
	"github.com/tinyrange/irqfabric/internal/devices/arm64/cpuirq"
	"github.com/tinyrange/irqfabric/internal/devices/arm64/gicv2m"
	"github.com/tinyrange/irqfabric/internal/devices/arm64/spirouter"
	"github.com/tinyrange/irqfabric/internal/hv"
	"github.com/tinyrange/irqfabric/internal/hv/kvm"
)

// Machine is a built interrupt topology.
type Machine struct {
	cfg Config

	vm          hv.VirtualMachine
	hypervisor  hv.Hypervisor
	cpus        []*cpuirq.CPU
	dispatchers []*cpuirq.Dispatcher
	router      *spirouter.Router
	frames      map[string]*gicv2m.Frame
	chipset     *chipset.Chipset
}

// OpenAccelerator opens the host accelerator named by accel. It returns nil
// channels for AccelNone.
type OpenAccelerator func(accel string, numCPUs int) (hv.Hypervisor, hv.VirtualMachine, error)

// OpenKVM opens /dev/kvm and creates a VM with numCPUs vCPUs.
func OpenKVM(accel string, numCPUs int) (hv.Hypervisor, hv.VirtualMachine, error) {
	if accel != AccelKVM {
		return nil, nil, nil
	}
	h, err := kvm.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open kvm: %w", err)
	}
	if err := checkArchitecture(h); err != nil {
		h.Close()
		return nil, nil, err
	}
	vm, err := h.NewVirtualMachine(numCPUs)
	if err != nil {
		h.Close()
		return nil, nil, fmt.Errorf("create kvm vm: %w", err)
	}
	return h, vm, nil
}

// checkArchitecture rejects accelerators that cannot drive arm64 vCPU
// IRQ/FIQ pins.
func checkArchitecture(h hv.Hypervisor) error {
	if h == nil {
		return fmt.Errorf("accelerator has no hypervisor: %w", hv.ErrHypervisorUnsupported)
	}
	if arch := h.Architecture(); arch != hv.ArchitectureARM64 {
		return fmt.Errorf("accelerator architecture %s cannot drive arm64 vCPU lines: %w", arch, hv.ErrHypervisorUnsupported)
	}
	return nil
}

func traceInjections(vm hv.VirtualMachine) hv.IRQLineSetter {
	return hv.IRQLineSetterFunc(func(irqLine uint32, level bool) error {
		slog.Debug("machine: inject", "irq", hv.DecodeArm64IRQLine(irqLine).String(), "level", level)
		return vm.SetIRQ(irqLine, level)
	})
}

// New builds the machine described by cfg using KVM for acceleration.
func New(cfg Config) (*Machine, error) {
	return NewWithAccelerator(cfg, OpenKVM)
}

// NewWithAccelerator builds the machine described by cfg, obtaining the
// acceleration channel from open.
func NewWithAccelerator(cfg Config, open OpenAccelerator) (*Machine, error) {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("machine: %w", err)
	}

	m := &Machine{
		cfg:    cfg,
		frames: make(map[string]*gicv2m.Frame, len(cfg.Frames)),
	}

	var accel hv.IRQLineSetter
	if cfg.Accel != AccelNone {
		if open == nil {
			return nil, fmt.Errorf("machine: accel %q requested without an accelerator", cfg.Accel)
		}
		h, vm, err := open(cfg.Accel, cfg.CPUs)
		if err != nil {
			return nil, fmt.Errorf("machine: %w", err)
		}
		m.hypervisor, m.vm = h, vm
		if err := checkArchitecture(h); err != nil {
			m.Close()
			return nil, fmt.Errorf("machine: %w", err)
		}
		if vm != nil {
			accel = traceInjections(vm)
		}
	}

	for i := 0; i < cfg.CPUs; i++ {
		cpu := cpuirq.NewCPU(i)
		m.cpus = append(m.cpus, cpu)
		m.dispatchers = append(m.dispatchers, cpuirq.ForCPU(cpu, accel))
	}

	m.router = spirouter.New(cfg.Router.NumIRQs, m.dispatchers[cfg.Router.TargetCPU].IRQ())

	b := chipset.NewBuilder()
	for _, fc := range cfg.Frames {
		frame := gicv2m.New(fc.Frame())
		if err := frame.Realize(); err != nil {
			m.Close()
			return nil, fmt.Errorf("machine: frame %q: %w", fc.Name, err)
		}
		if err := frame.ConnectSink(m.router); err != nil {
			m.Close()
			return nil, fmt.Errorf("machine: frame %q: %w", fc.Name, err)
		}
		if err := b.RegisterDevice(fc.Name, frame); err != nil {
			m.Close()
			return nil, fmt.Errorf("machine: %w", err)
		}
		fcfg := frame.Config()
		if err := b.WithInterruptRange(fcfg.FirstINTID(), fcfg.NumSPI, m.router); err != nil {
			m.Close()
			return nil, fmt.Errorf("machine: frame %q: %w", fc.Name, err)
		}
		m.frames[fc.Name] = frame
		if err := m.lowerOnEOI(frame); err != nil {
			m.Close()
			return nil, fmt.Errorf("machine: frame %q: %w", fc.Name, err)
		}
	}

	cs, err := b.Build()
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("machine: %w", err)
	}
	m.chipset = cs

	if err := cs.Start(); err != nil {
		m.Close()
		return nil, fmt.Errorf("machine: %w", err)
	}

	slog.Info("machine: built",
		"cpus", cfg.CPUs,
		"accel", cfg.Accel,
		"frames", len(cfg.Frames),
		"target_cpu", cfg.Router.TargetCPU,
	)
	return m, nil
}

// lowerOnEOI drops a frame output once the guest signals EOI for its INTID,
// so the output level tracks interrupts still in service.
func (m *Machine) lowerOnEOI(frame *gicv2m.Frame) error {
	first := frame.Config().FirstINTID()
	for i := 0; i < frame.NumOutputs(); i++ {
		line, err := frame.Output(i)
		if err != nil {
			return err
		}
		intid := first + uint32(i)
		m.router.RegisterEOICallback(intid, func() {
			slog.Debug("machine: eoi", "intid", intid, "was_asserted", line.Level())
			line.SetLevel(false)
		})
	}
	return nil
}

// Config returns the normalized configuration the machine was built from.
func (m *Machine) Config() Config { return m.cfg }

// Accelerated reports whether CPU interrupts go through the host accelerator.
func (m *Machine) Accelerated() bool { return m.vm != nil }

var errClosed = errors.New("machine: closed")

// HandleMMIO dispatches a guest access.
func (m *Machine) HandleMMIO(addr uint64, data []byte, isWrite bool) error {
	if m.chipset == nil {
		return errClosed
	}
	return m.chipset.HandleMMIO(addr, data, isWrite)
}

// SignalMSI delivers an MSI as a 32-bit store of data to addr.
func (m *Machine) SignalMSI(addr uint64, data uint32) error {
	if m.chipset == nil {
		return errClosed
	}
	return m.chipset.SignalMSI(addr, data)
}

// SetIRQ asserts or deasserts a wired SPI directly.
func (m *Machine) SetIRQ(intid uint32, level bool) error {
	if m.chipset == nil {
		return errClosed
	}
	return m.chipset.SetIRQ(intid, level)
}

// NumCPUs returns the number of vCPUs.
func (m *Machine) NumCPUs() int { return len(m.cpus) }

// CPU returns the software state of vCPU i.
func (m *Machine) CPU(i int) (*cpuirq.CPU, error) {
	if i < 0 || i >= len(m.cpus) {
		return nil, fmt.Errorf("machine: cpu %d out of range [0,%d)", i, len(m.cpus))
	}
	return m.cpus[i], nil
}

// Dispatcher returns the interrupt dispatcher of vCPU i.
func (m *Machine) Dispatcher(i int) (*cpuirq.Dispatcher, error) {
	if i < 0 || i >= len(m.dispatchers) {
		return nil, fmt.Errorf("machine: cpu %d out of range [0,%d)", i, len(m.dispatchers))
	}
	return m.dispatchers[i], nil
}

// Router returns the SPI router.
func (m *Machine) Router() *spirouter.Router { return m.router }

// Frame returns the frame registered under name.
func (m *Machine) Frame(name string) (*gicv2m.Frame, bool) {
	f, ok := m.frames[name]
	return f, ok
}

// Close stops the chipset and releases the accelerator.
func (m *Machine) Close() error {
	var errs []error
	if m.chipset != nil {
		if err := m.chipset.Stop(); err != nil {
			errs = append(errs, err)
		}
		m.chipset = nil
	}
	if m.vm != nil {
		if err := m.vm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close vm: %w", err))
		}
		m.vm = nil
	}
	if m.hypervisor != nil {
		if err := m.hypervisor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close hypervisor: %w", err))
		}
		m.hypervisor = nil
	}
	return errors.Join(errs...)
}
