package hv

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrHypervisorUnsupported = errors.New("hypervisor unsupported on this platform")
)

type CpuArchitecture string

const (
	ArchitectureInvalid CpuArchitecture = "invalid"
	ArchitectureX86_64  CpuArchitecture = "x86_64"
	ArchitectureARM64   CpuArchitecture = "arm64"
)

type MMIORegion struct {
	Address uint64
	Size    uint64
}

// Contains reports whether an access of size bytes at addr falls entirely
// inside the region.
func (r MMIORegion) Contains(addr uint64, size uint64) bool {
	end := addr + size
	if end < addr {
		return false
	}
	return addr >= r.Address && end <= r.Address+r.Size
}

// IRQLineSetter injects an encoded interrupt line into the host accelerator.
// The encoding of irqLine is accelerator specific.
type IRQLineSetter interface {
	SetIRQ(irqLine uint32, level bool) error
}

// IRQLineSetterFunc adapts a function to IRQLineSetter.
type IRQLineSetterFunc func(irqLine uint32, level bool) error

// SetIRQ implements IRQLineSetter.
func (f IRQLineSetterFunc) SetIRQ(irqLine uint32, level bool) error {
	if f == nil {
		return fmt.Errorf("irq line setter is nil")
	}
	return f(irqLine, level)
}

type VirtualMachine interface {
	io.Closer
	IRQLineSetter

	Hypervisor() Hypervisor
	CPUCount() int
}

type Hypervisor interface {
	io.Closer

	Architecture() CpuArchitecture

	NewVirtualMachine(numCPUs int) (VirtualMachine, error)
}
