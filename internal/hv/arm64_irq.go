package hv

import "fmt"

// ARM64 KVM_IRQ_LINE encoding.
//
//	bits 31-28: vcpu2 index (vcpu id bits 11-8)
//	bits 27-24: irq type
//	bits 23-16: vcpu index (vcpu id bits 7-0)
//	bits 15-0:  irq id
const (
	Arm64IRQTypeCPU = 0 // IRQ/FIQ pin of a single vCPU
	Arm64IRQTypeSPI = 1
	Arm64IRQTypePPI = 2

	Arm64IRQCPUIRQ = 0
	Arm64IRQCPUFIQ = 1

	arm64IRQVCPU2Shift = 28
	arm64IRQVCPU2Mask  = 0xf
	arm64IRQTypeShift  = 24
	arm64IRQTypeMask   = 0xf
	arm64IRQVCPUShift  = 16
	arm64IRQVCPUMask   = 0xff
	arm64IRQNumMask    = 0xffff

	// Arm64MaxVCPUIndex is the largest vCPU id the encoding can address.
	Arm64MaxVCPUIndex = (arm64IRQVCPU2Mask << 8) | arm64IRQVCPUMask
)

// Arm64IRQLine is a decoded KVM_IRQ_LINE identifier.
type Arm64IRQLine struct {
	Type uint32
	VCPU uint32
	Num  uint32
}

// Encode packs the line into the KVM_IRQ_LINE irq field.
func (l Arm64IRQLine) Encode() (uint32, error) {
	if l.Type > arm64IRQTypeMask {
		return 0, fmt.Errorf("arm64 irq type %d out of range", l.Type)
	}
	if l.VCPU > Arm64MaxVCPUIndex {
		return 0, fmt.Errorf("arm64 irq vcpu %d out of range", l.VCPU)
	}
	if l.Num > arm64IRQNumMask {
		return 0, fmt.Errorf("arm64 irq number %d out of range", l.Num)
	}

	v := l.Type << arm64IRQTypeShift
	v |= (l.VCPU & arm64IRQVCPUMask) << arm64IRQVCPUShift
	v |= ((l.VCPU >> 8) & arm64IRQVCPU2Mask) << arm64IRQVCPU2Shift
	v |= l.Num
	return v, nil
}

// DecodeArm64IRQLine unpacks a KVM_IRQ_LINE irq field.
func DecodeArm64IRQLine(v uint32) Arm64IRQLine {
	vcpu := (v >> arm64IRQVCPUShift) & arm64IRQVCPUMask
	vcpu |= ((v >> arm64IRQVCPU2Shift) & arm64IRQVCPU2Mask) << 8
	return Arm64IRQLine{
		Type: (v >> arm64IRQTypeShift) & arm64IRQTypeMask,
		VCPU: vcpu,
		Num:  v & arm64IRQNumMask,
	}
}

func (l Arm64IRQLine) String() string {
	switch l.Type {
	case Arm64IRQTypeCPU:
		pin := "irq"
		if l.Num == Arm64IRQCPUFIQ {
			pin = "fiq"
		}
		return fmt.Sprintf("cpu%d/%s", l.VCPU, pin)
	case Arm64IRQTypeSPI:
		return fmt.Sprintf("spi/%d", l.Num)
	case Arm64IRQTypePPI:
		return fmt.Sprintf("cpu%d/ppi%d", l.VCPU, l.Num)
	default:
		return fmt.Sprintf("type%d/cpu%d/%d", l.Type, l.VCPU, l.Num)
	}
}
