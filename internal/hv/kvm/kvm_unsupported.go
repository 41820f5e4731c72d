//go:build !linux

package kvm

import "github.com/tinyrange/irqfabric/internal/hv"

// Open reports that KVM is not available on this platform.
func Open() (hv.Hypervisor, error) {
	return nil, hv.ErrHypervisorUnsupported
}
