package chipset

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/tinyrange/irqfabric/internal/hv"
)

type testDevice struct {
	region hv.MMIORegion

	started int
	stopped int
	resets  int

	writes map[uint64]uint32
}

func newTestDevice(base, size uint64) *testDevice {
	return &testDevice{
		region: hv.MMIORegion{Address: base, Size: size},
		writes: make(map[uint64]uint32),
	}
}

func (d *testDevice) Start() error { d.started++; return nil }
func (d *testDevice) Stop() error  { d.stopped++; return nil }
func (d *testDevice) Reset() error { d.resets++; return nil }

func (d *testDevice) SupportsMmio() *MmioIntercept {
	return &MmioIntercept{Regions: []hv.MMIORegion{d.region}, Handler: d}
}

func (d *testDevice) ReadMMIO(addr uint64, data []byte) error {
	binary.LittleEndian.PutUint32(data, d.writes[addr-d.region.Address])
	return nil
}

func (d *testDevice) WriteMMIO(addr uint64, data []byte) error {
	d.writes[addr-d.region.Address] = binary.LittleEndian.Uint32(data)
	return nil
}

func TestBuilderRejectsOverlappingRegions(t *testing.T) {
	b := NewBuilder()
	if err := b.RegisterDevice("a", newTestDevice(0x1000, 0x1000)); err != nil {
		t.Fatalf("register a: %v", err)
	}
	err := b.RegisterDevice("b", newTestDevice(0x1800, 0x1000))
	if err == nil || !strings.Contains(err.Error(), "overlaps") {
		t.Fatalf("register b err = %v, want overlap error", err)
	}
	if err := b.RegisterDevice("a", newTestDevice(0x8000, 0x1000)); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestBuilderRejectsBadRegions(t *testing.T) {
	b := NewBuilder()
	dev := newTestDevice(0, 0)
	if err := b.WithMmioRegion(0x1000, 0, dev); err == nil {
		t.Fatalf("expected zero size error")
	}
	if err := b.WithMmioRegion(^uint64(0), 0x10, dev); err == nil {
		t.Fatalf("expected overflow error")
	}
	if err := b.WithMmioRegion(0x1000, 0x10, nil); err == nil {
		t.Fatalf("expected nil handler error")
	}
}

func TestChipsetDispatchesMMIO(t *testing.T) {
	b := NewBuilder()
	dev := newTestDevice(0x4000, 0x100)
	if err := b.RegisterDevice("dev", dev); err != nil {
		t.Fatalf("register: %v", err)
	}
	cs, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := cs.SignalMSI(0x4040, 0xdeadbeef); err != nil {
		t.Fatalf("SignalMSI: %v", err)
	}
	if got := dev.writes[0x40]; got != 0xdeadbeef {
		t.Fatalf("doorbell write = 0x%x, want 0xdeadbeef", got)
	}

	buf := make([]byte, 4)
	if err := cs.HandleMMIO(0x4040, buf, false); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := binary.LittleEndian.Uint32(buf); got != 0xdeadbeef {
		t.Fatalf("read back 0x%x", got)
	}

	// The device owning the first byte receives accesses that run past
	// its region.
	binary.LittleEndian.PutUint32(buf, 0x1234)
	if err := cs.HandleMMIO(0x40fe, buf, true); err != nil {
		t.Fatalf("straddling write: %v", err)
	}
	if got := dev.writes[0xfe]; got != 0x1234 {
		t.Fatalf("straddling write = 0x%x, want 0x1234", got)
	}
	if err := cs.HandleMMIO(0x3ffe, buf, false); err == nil {
		t.Fatalf("expected error for access starting before the region")
	}
	if err := cs.SignalMSI(0x9000, 1); err == nil {
		t.Fatalf("expected error for unmapped MSI address")
	}
}

func TestChipsetLifecycle(t *testing.T) {
	b := NewBuilder()
	dev := newTestDevice(0, 0x10)
	if err := b.RegisterDevice("dev", dev); err != nil {
		t.Fatalf("register: %v", err)
	}
	cs, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := cs.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := cs.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := cs.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if dev.started != 1 || dev.resets != 1 || dev.stopped != 1 {
		t.Fatalf("lifecycle counts start=%d reset=%d stop=%d", dev.started, dev.resets, dev.stopped)
	}
	if got, ok := cs.Device("dev"); !ok || got != dev {
		t.Fatalf("Device lookup failed")
	}
}

func TestChipsetInterruptSinks(t *testing.T) {
	var got []uint32
	sink := InterruptSinkFunc(func(line uint32, level bool) {
		if level {
			got = append(got, line)
		}
	})

	b := NewBuilder()
	if err := b.WithInterruptRange(32, 4, sink); err != nil {
		t.Fatalf("WithInterruptRange: %v", err)
	}
	if err := b.WithInterruptLine(33, sink); err == nil {
		t.Fatalf("expected duplicate line error")
	}
	cs, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := cs.SetIRQ(35, true); err != nil {
		t.Fatalf("SetIRQ: %v", err)
	}
	if err := cs.SetIRQ(36, true); err == nil {
		t.Fatalf("expected error for unregistered line")
	}
	if len(got) != 1 || got[0] != 35 {
		t.Fatalf("sink saw %v, want [35]", got)
	}
}
