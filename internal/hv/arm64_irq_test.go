package hv

import "testing"

func TestArm64IRQLineEncode(t *testing.T) {
	tests := []struct {
		name string
		line Arm64IRQLine
		want uint32
	}{
		{"cpu0 irq", Arm64IRQLine{Type: Arm64IRQTypeCPU, VCPU: 0, Num: Arm64IRQCPUIRQ}, 0x00000000},
		{"cpu0 fiq", Arm64IRQLine{Type: Arm64IRQTypeCPU, VCPU: 0, Num: Arm64IRQCPUFIQ}, 0x00000001},
		{"cpu3 fiq", Arm64IRQLine{Type: Arm64IRQTypeCPU, VCPU: 3, Num: Arm64IRQCPUFIQ}, 0x00030001},
		{"cpu 0x1ab irq", Arm64IRQLine{Type: Arm64IRQTypeCPU, VCPU: 0x1ab, Num: Arm64IRQCPUIRQ}, 0x10ab0000},
		{"spi 40", Arm64IRQLine{Type: Arm64IRQTypeSPI, Num: 40}, 0x01000028},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.line.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Encode = %#x, want %#x", got, tt.want)
			}
			if back := DecodeArm64IRQLine(got); back != tt.line {
				t.Fatalf("DecodeArm64IRQLine(%#x) = %+v, want %+v", got, back, tt.line)
			}
		})
	}
}

func TestArm64IRQLineEncodeRejectsLargeVCPU(t *testing.T) {
	line := Arm64IRQLine{Type: Arm64IRQTypeCPU, VCPU: Arm64MaxVCPUIndex + 1}
	if _, err := line.Encode(); err == nil {
		t.Fatalf("expected error for vcpu %d", line.VCPU)
	}
}

func TestArm64IRQLineString(t *testing.T) {
	line := Arm64IRQLine{Type: Arm64IRQTypeCPU, VCPU: 2, Num: Arm64IRQCPUFIQ}
	if got, want := line.String(), "cpu2/fiq"; got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
}
