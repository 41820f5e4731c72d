package chipset

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Start activates all registered devices.
func (c *Chipset) Start() error {
	for _, name := range c.deviceNames() {
		if err := c.devices[name].Start(); err != nil {
			return fmt.Errorf("chipset: start device %q: %w", name, err)
		}
	}
	return nil
}

// Stop deactivates all registered devices.
func (c *Chipset) Stop() error {
	for _, name := range c.deviceNames() {
		if err := c.devices[name].Stop(); err != nil {
			return fmt.Errorf("chipset: stop device %q: %w", name, err)
		}
	}
	return nil
}

// Reset resets all registered devices.
func (c *Chipset) Reset() error {
	for _, name := range c.deviceNames() {
		if err := c.devices[name].Reset(); err != nil {
			return fmt.Errorf("chipset: reset device %q: %w", name, err)
		}
	}
	return nil
}

// Device returns the device registered under name.
func (c *Chipset) Device(name string) (ChipsetDevice, bool) {
	dev, ok := c.devices[name]
	return dev, ok
}

// HandleMMIO dispatches an MMIO access to the device whose region holds the
// first byte of the access. Accesses running past the region end are the
// device's to reject.
func (c *Chipset) HandleMMIO(addr uint64, data []byte, isWrite bool) error {
	accessEnd := addr + uint64(len(data))
	if accessEnd < addr {
		return fmt.Errorf("chipset: MMIO access overflow at 0x%016x", addr)
	}

	for _, binding := range c.mmio {
		if binding.region.Contains(addr, 1) {
			if isWrite {
				return binding.handler.WriteMMIO(addr, data)
			}
			return binding.handler.ReadMMIO(addr, data)
		}
	}

	return fmt.Errorf("chipset: no handler for MMIO address 0x%016x", addr)
}

// SignalMSI delivers a message-signalled interrupt as a single 32-bit
// little-endian store of data to addr, the way a bus without native MSI
// support presents it to the doorbell device.
func (c *Chipset) SignalMSI(addr uint64, data uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], data)
	if err := c.HandleMMIO(addr, buf[:], true); err != nil {
		return fmt.Errorf("chipset: signal MSI addr=0x%x data=0x%x: %w", addr, data, err)
	}
	return nil
}

// SetIRQ forwards a level change to the sink registered for line.
func (c *Chipset) SetIRQ(line uint32, level bool) error {
	sink, ok := c.interrupts[line]
	if !ok {
		return fmt.Errorf("chipset: no sink for interrupt line %d", line)
	}
	sink.SetIRQ(line, level)
	return nil
}

func (c *Chipset) deviceNames() []string {
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
