//go:build linux

package kvm

type kvmIRQLevel struct {
	IRQOrStatus uint32
	Level       uint32
}
