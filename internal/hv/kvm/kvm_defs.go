//go:build linux

package kvm

const (
	kvmApiVersion = 12

	kvmGetApiVersion      = 0xae00
	kvmCreateVm           = 0xae01
	kvmCheckExtension     = 0xae03
	kvmCreateVcpu         = 0xae41
	kvmIrqLine            = 0x4008ae61
	kvmArmVcpuInitIoctl   = 0x4020aeae
	kvmArmPreferredTarget = 0x8020aeaf

	kvmCapARMIRQLineLayout2 = 174
)
