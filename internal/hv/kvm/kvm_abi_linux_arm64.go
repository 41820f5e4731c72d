//go:build linux && arm64

package kvm

const (
	kvmArmVcpuInitFeatureWords = 7
)

type kvmVcpuInit struct {
	Target   uint32
	Features [kvmArmVcpuInitFeatureWords]uint32
}
