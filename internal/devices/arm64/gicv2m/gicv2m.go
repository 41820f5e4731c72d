// Package gicv2m implements a GICv2m MSI frame: a 4 KiB register block that
// turns doorbell writes into assertions of a window of GIC SPIs.
package gicv2m

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/irqfabric/internal/chipset"
	"github.com/tinyrange/irqfabric/internal/hv"
)

const deviceName = "gicv2m"

// Register offsets
const (
	V2M_MSI_TYPER     = 0x008 // MSI type register (RO)
	V2M_MSI_SETSPI_NS = 0x040 // doorbell (WO)
	V2M_MSI_IIDR      = 0xFCC // interface identification (RO)
	V2M_IIDR0         = 0xFD0 // first peripheral ID register
	V2M_IIDR_LAST     = 0xFFC // last peripheral ID register
)

const (
	// MaxSPIs is the largest number of SPIs one frame can own.
	MaxSPIs = 128

	// SPIBase is the GIC INTID of SPI 0.
	SPIBase = 32

	// MaxINTID bounds the global SPI numbering of the GIC the frame feeds.
	MaxINTID = 1020

	// FrameSize is the size of the register window.
	FrameSize = 0x1000

	setSPIMask = 0x3ff

	DefaultBaseSPI = 0
	DefaultNumSPI  = 64
)

var (
	ErrTooManySPIs      = errors.New("gicv2m: too many SPIs")
	ErrSPIRangeOverflow = errors.New("gicv2m: SPI range exceeds GIC numbering")
	ErrNotRealized      = errors.New("gicv2m: frame not realized")
)

// Config holds the construction-time properties of a frame.
type Config struct {
	Base    uint64 `yaml:"base"`
	BaseSPI uint32 `yaml:"baseSPI"`
	NumSPI  uint32 `yaml:"numSPI"`
}

// DefaultConfig returns the properties a frame has when none are set.
func DefaultConfig(base uint64) Config {
	return Config{
		Base:    base,
		BaseSPI: DefaultBaseSPI,
		NumSPI:  DefaultNumSPI,
	}
}

// Validate checks the SPI window against the frame and GIC limits.
func (c Config) Validate() error {
	if c.NumSPI > MaxSPIs {
		return fmt.Errorf("%w: requested %d SPIs exceeds GICv2m frame maximum %d",
			ErrTooManySPIs, c.NumSPI, MaxSPIs)
	}
	// Compared in 64 bits so a huge BaseSPI cannot wrap.
	if uint64(c.BaseSPI)+SPIBase > MaxINTID-uint64(c.NumSPI) {
		return fmt.Errorf("%w: requested base SPI %d+%d exceeds max. number %d",
			ErrSPIRangeOverflow, uint64(c.BaseSPI)+SPIBase, c.NumSPI, MaxINTID)
	}
	return nil
}

// FirstINTID returns the GIC INTID of the frame's first output.
func (c Config) FirstINTID() uint32 {
	return c.BaseSPI + SPIBase
}

// Frame is a GICv2m MSI frame.
type Frame struct {
	mu sync.Mutex

	cfg Config

	realized bool
	outputs  *chipset.LineSet
	sinks    []chipset.LineInterrupt
}

// New creates an unrealized frame. Call Realize before wiring its outputs.
func New(cfg Config) *Frame {
	return &Frame{cfg: cfg}
}

// Realize validates the configuration and allocates the output lines. A
// failure means the machine description is wrong and must not be ignored.
func (f *Frame) Realize() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.realized {
		return fmt.Errorf("gicv2m: frame at 0x%x already realized", f.cfg.Base)
	}
	if err := f.cfg.Validate(); err != nil {
		return err
	}

	n := int(f.cfg.NumSPI)
	f.sinks = make([]chipset.LineInterrupt, n)
	for i := range f.sinks {
		f.sinks[i] = chipset.LineInterruptDetached()
	}
	f.outputs = chipset.NewLineSet(n, chipset.IRQHandlerFunc(f.forward))
	f.realized = true

	slog.Debug("gicv2m: realized",
		"base", fmt.Sprintf("0x%x", f.cfg.Base),
		"first_intid", f.cfg.FirstINTID(),
		"num_spi", f.cfg.NumSPI,
	)
	return nil
}

func (f *Frame) forward(index int, level bool) {
	f.mu.Lock()
	sink := f.sinks[index]
	f.mu.Unlock()
	sink.SetLevel(level)
}

// Config returns the frame properties.
func (f *Frame) Config() Config {
	return f.cfg
}

// NumOutputs returns the number of allocated output lines, zero before Realize.
func (f *Frame) NumOutputs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.realized {
		return 0
	}
	return f.outputs.Len()
}

// Output returns output line index for inspection.
func (f *Frame) Output(index int) (*chipset.Line, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.realized {
		return nil, ErrNotRealized
	}
	if index < 0 || index >= f.outputs.Len() {
		return nil, fmt.Errorf("gicv2m: output %d out of range [0,%d)", index, f.outputs.Len())
	}
	return f.outputs.Line(index), nil
}

// Connect routes output index to sink.
func (f *Frame) Connect(index int, sink chipset.LineInterrupt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.realized {
		return ErrNotRealized
	}
	if index < 0 || index >= len(f.sinks) {
		return fmt.Errorf("gicv2m: output %d out of range [0,%d)", index, len(f.sinks))
	}
	if sink == nil {
		sink = chipset.LineInterruptDetached()
	}
	f.sinks[index] = sink
	return nil
}

// ConnectSink routes every output to sink using the output's global INTID.
func (f *Frame) ConnectSink(sink chipset.InterruptSink) error {
	if sink == nil {
		return fmt.Errorf("gicv2m: interrupt sink is nil")
	}
	first := f.cfg.FirstINTID()
	for i := 0; i < int(f.cfg.NumSPI); i++ {
		intid := first + uint32(i)
		line := chipset.LineInterruptFromFunc(func(level bool) {
			sink.SetIRQ(intid, level)
		})
		if err := f.Connect(i, line); err != nil {
			return err
		}
	}
	return nil
}

// Start implements chipset.ChangeDeviceState.
func (f *Frame) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.realized {
		return ErrNotRealized
	}
	return nil
}

// Stop implements chipset.ChangeDeviceState.
func (f *Frame) Stop() error {
	return nil
}

// Reset implements chipset.ChangeDeviceState. The frame keeps no register
// state beyond its configuration, so there is nothing to clear.
func (f *Frame) Reset() error {
	return nil
}

// SupportsMmio implements chipset.ChipsetDevice.
func (f *Frame) SupportsMmio() *chipset.MmioIntercept {
	return &chipset.MmioIntercept{
		Regions: []hv.MMIORegion{
			{
				Address: f.cfg.Base,
				Size:    FrameSize,
			},
		},
		Handler: f,
	}
}

func (f *Frame) offset(addr uint64) (uint64, error) {
	if addr < f.cfg.Base || addr >= f.cfg.Base+FrameSize {
		return 0, fmt.Errorf("gicv2m: address 0x%x out of bounds", addr)
	}
	return addr - f.cfg.Base, nil
}

// ReadMMIO implements chipset.MmioHandler.
func (f *Frame) ReadMMIO(addr uint64, data []byte) error {
	offset, err := f.offset(addr)
	if err != nil {
		return err
	}
	clear(data)

	if len(data) != 4 {
		chipset.LogGuestError(deviceName, "bad read size",
			"offset", fmt.Sprintf("0x%x", offset), "size", len(data))
		return nil
	}
	if offset+4 > FrameSize {
		chipset.LogGuestError(deviceName, "read past end of frame",
			"offset", fmt.Sprintf("0x%x", offset))
		return nil
	}
	binary.LittleEndian.PutUint32(data, f.readRegister(offset))
	return nil
}

// WriteMMIO implements chipset.MmioHandler.
func (f *Frame) WriteMMIO(addr uint64, data []byte) error {
	offset, err := f.offset(addr)
	if err != nil {
		return err
	}

	if len(data) != 4 {
		chipset.LogGuestError(deviceName, "bad write size",
			"offset", fmt.Sprintf("0x%x", offset), "size", len(data))
		return nil
	}
	if offset+4 > FrameSize {
		chipset.LogGuestError(deviceName, "write past end of frame",
			"offset", fmt.Sprintf("0x%x", offset))
		return nil
	}
	f.writeRegister(offset, binary.LittleEndian.Uint32(data))
	return nil
}

func (f *Frame) readRegister(offset uint64) uint32 {
	switch {
	case offset == V2M_MSI_TYPER:
		return f.cfg.FirstINTID()<<16 | f.cfg.NumSPI
	case offset == V2M_MSI_IIDR:
		return 0
	case offset >= V2M_IIDR0 && offset <= V2M_IIDR_LAST && offset%4 == 0:
		return 0
	case offset == V2M_MSI_SETSPI_NS:
		chipset.LogGuestError(deviceName, "read of write-only register",
			"offset", fmt.Sprintf("0x%x", offset))
		return 0
	default:
		chipset.LogGuestError(deviceName, "bad read offset",
			"offset", fmt.Sprintf("0x%x", offset))
		return 0
	}
}

func (f *Frame) writeRegister(offset uint64, value uint32) {
	switch offset {
	case V2M_MSI_SETSPI_NS:
		f.doorbell(value)
	case V2M_MSI_TYPER, V2M_MSI_IIDR:
		chipset.LogGuestError(deviceName, "write to read-only register",
			"offset", fmt.Sprintf("0x%x", offset),
			"value", fmt.Sprintf("0x%x", value))
	default:
		chipset.LogGuestError(deviceName, "bad write offset",
			"offset", fmt.Sprintf("0x%x", offset),
			"value", fmt.Sprintf("0x%x", value))
	}
}

// doorbell asserts the output matching the INTID in value. The frame never
// deasserts: the GIC latches the edge and owns the pending state from then on.
func (f *Frame) doorbell(value uint32) {
	f.mu.Lock()
	realized := f.realized
	outputs := f.outputs
	f.mu.Unlock()

	intid := int(value & setSPIMask)
	spi := intid - int(f.cfg.FirstINTID())

	if !realized || spi < 0 || spi >= int(f.cfg.NumSPI) {
		// Doorbells for INTIDs outside this frame's window are legal on a
		// shared bus and dropped without a guest error.
		slog.Debug("gicv2m: doorbell outside frame window",
			"intid", intid,
			"first_intid", f.cfg.FirstINTID(),
			"num_spi", f.cfg.NumSPI,
		)
		return
	}

	outputs.Line(spi).SetLevel(true)
}

// Base returns the MMIO base address.
func (f *Frame) Base() uint64 {
	return f.cfg.Base
}

// Size returns the MMIO region size.
func (f *Frame) Size() uint64 {
	return FrameSize
}

var (
	_ chipset.ChipsetDevice     = (*Frame)(nil)
	_ chipset.MmioHandler       = (*Frame)(nil)
	_ chipset.ChangeDeviceState = (*Frame)(nil)
)
