//go:build linux && arm64

package kvm

import "fmt"

func (h *hypervisor) archVCPUInit(vm *virtualMachine, vcpuFd int) error {
	init, err := armPreferredTarget(vm.vmFd)
	if err != nil {
		return fmt.Errorf("kvm: get preferred target: %w", err)
	}

	if err := armVcpuInit(vcpuFd, &init); err != nil {
		return fmt.Errorf("kvm: init vCPU (target=%d): %w", init.Target, err)
	}

	return nil
}
