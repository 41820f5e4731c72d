//go:build linux && !arm64

package kvm

func (h *hypervisor) archVCPUInit(vm *virtualMachine, vcpuFd int) error {
	return nil
}
