//go:build linux

package kvm

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/tinyrange/irqfabric/internal/hv"
	"golang.org/x/sys/unix"
)

type hypervisor struct {
	fd int
}

// Architecture implements hv.Hypervisor.
func (h *hypervisor) Architecture() hv.CpuArchitecture {
	switch runtime.GOARCH {
	case "arm64":
		return hv.ArchitectureARM64
	case "amd64":
		return hv.ArchitectureX86_64
	default:
		return hv.ArchitectureInvalid
	}
}

// Close implements hv.Hypervisor.
func (h *hypervisor) Close() error {
	return unix.Close(h.fd)
}

// NewVirtualMachine creates a VM with numCPUs initialised vCPUs and no
// in-kernel interrupt controller, so the vCPU IRQ/FIQ pins are driven
// directly through KVM_IRQ_LINE.
func (h *hypervisor) NewVirtualMachine(numCPUs int) (hv.VirtualMachine, error) {
	if numCPUs <= 0 {
		return nil, fmt.Errorf("kvm: invalid vCPU count %d", numCPUs)
	}
	if arch := h.Architecture(); arch != hv.ArchitectureARM64 {
		return nil, fmt.Errorf("kvm: vCPU IRQ lines need an arm64 host, have %s: %w", arch, hv.ErrHypervisorUnsupported)
	}

	vmFd, err := createVm(h.fd)
	if err != nil {
		return nil, fmt.Errorf("create KVM VM: %w", err)
	}

	vm := &virtualMachine{
		hv:   h,
		vmFd: vmFd,
	}

	if n, err := checkExtension(vmFd, kvmCapARMIRQLineLayout2); err == nil && n > 0 {
		vm.irqLineLayout2 = true
	}

	for i := 0; i < numCPUs; i++ {
		vcpuFd, err := createVCPU(vmFd, i)
		if err != nil {
			vm.Close()
			return nil, fmt.Errorf("create vCPU %d: %w", i, err)
		}
		vm.vcpuFds = append(vm.vcpuFds, vcpuFd)

		if err := h.archVCPUInit(vm, vcpuFd); err != nil {
			vm.Close()
			return nil, fmt.Errorf("initialize vCPU %d: %w", i, err)
		}
	}

	slog.Debug("kvm: created virtual machine",
		"vcpus", numCPUs,
		"irq_line_layout2", vm.irqLineLayout2,
	)

	return vm, nil
}

type virtualMachine struct {
	mu sync.Mutex

	hv      *hypervisor
	vmFd    int
	vcpuFds []int

	irqLineLayout2 bool
}

// Hypervisor implements hv.VirtualMachine.
func (v *virtualMachine) Hypervisor() hv.Hypervisor { return v.hv }

// CPUCount implements hv.VirtualMachine.
func (v *virtualMachine) CPUCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.vcpuFds)
}

// SetIRQ implements hv.IRQLineSetter.
func (v *virtualMachine) SetIRQ(irqLine uint32, level bool) error {
	if v == nil {
		return fmt.Errorf("kvm: virtual machine is nil")
	}

	v.mu.Lock()
	vmFd := v.vmFd
	numCPUs := len(v.vcpuFds)
	v.mu.Unlock()

	if vmFd < 0 {
		return fmt.Errorf("kvm: virtual machine closed")
	}

	if v.hv.Architecture() == hv.ArchitectureARM64 {
		line := hv.DecodeArm64IRQLine(irqLine)
		if line.Type == hv.Arm64IRQTypeCPU {
			if int(line.VCPU) >= numCPUs {
				return fmt.Errorf("kvm: irq %s targets missing vCPU (have %d)", line, numCPUs)
			}
			if line.VCPU > 0xff && !v.irqLineLayout2 {
				return fmt.Errorf("kvm: irq %s needs KVM_CAP_ARM_IRQ_LINE_LAYOUT_2", line)
			}
		}
	}

	if err := irqLevel(vmFd, irqLine, level); err != nil {
		return fmt.Errorf("kvm: setting IRQ line %#x: %w", irqLine, err)
	}

	return nil
}

// Close implements hv.VirtualMachine.
func (v *virtualMachine) Close() error {
	v.mu.Lock()
	vcpus := v.vcpuFds
	v.vcpuFds = nil
	vmFd := v.vmFd
	v.vmFd = -1
	v.mu.Unlock()

	var firstErr error
	for _, fd := range vcpus {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close vCPU fd: %w", err)
		}
	}
	if vmFd >= 0 {
		if err := unix.Close(vmFd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close VM fd: %w", err)
		}
	}
	return firstErr
}

// Open opens /dev/kvm and validates the API version.
func Open() (hv.Hypervisor, error) {
	fd, err := unix.Open("/dev/kvm", unix.O_CLOEXEC|unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/kvm: %w", err)
	}

	// validate API version
	version, err := getApiVersion(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("get KVM API version: %w", err)
	}
	if version != kvmApiVersion {
		unix.Close(fd)
		return nil, fmt.Errorf("kvm: unsupported API version %d, want %d", version, kvmApiVersion)
	}

	return &hypervisor{fd: fd}, nil
}

var (
	_ hv.Hypervisor     = (*hypervisor)(nil)
	_ hv.VirtualMachine = (*virtualMachine)(nil)
)
