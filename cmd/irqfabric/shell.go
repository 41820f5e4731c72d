package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tinyrange/irqfabric/internal/machine"
)

const commandHelp = `  read ADDR [SIZE]         load SIZE bytes (default 4) from ADDR
  write ADDR VALUE [SIZE]  store VALUE as SIZE bytes (default 4) at ADDR
  msi ADDR DATA            deliver an MSI as a 32-bit store of DATA to ADDR
  irq INTID 0|1            drive a wired SPI directly
  ack                      acknowledge the lowest pending SPI
  eoi INTID                signal end of interrupt for INTID, lowering its frame output
  status                   print CPU pending flags, latched SPIs and asserted frame outputs
  quit                     exit`

var errQuit = errors.New("quit")

type shell struct {
	m   *machine.Machine
	out io.Writer
}

func newShell(m *machine.Machine, out io.Writer) *shell {
	return &shell{m: m, out: out}
}

func (s *shell) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}

	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "read":
		return s.read(args)
	case "write":
		return s.write(args)
	case "msi":
		return s.msi(args)
	case "irq":
		return s.irq(args)
	case "ack":
		intid, ok := s.m.Router().Acknowledge()
		if !ok {
			fmt.Fprintln(s.out, "ack: none pending")
			return nil
		}
		fmt.Fprintf(s.out, "ack: %d\n", intid)
		return nil
	case "eoi":
		if len(args) != 1 {
			return fmt.Errorf("usage: eoi INTID")
		}
		intid, err := parseUint(args[0], 32)
		if err != nil {
			return err
		}
		s.m.Router().EOI(uint32(intid))
		return nil
	case "status":
		return s.status()
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parseUint(s string, bitSize int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bitSize)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return v, nil
}

func parseSize(args []string, idx int) (int, error) {
	if len(args) <= idx {
		return 4, nil
	}
	size, err := parseUint(args[idx], 8)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1, 2, 4, 8:
		return int(size), nil
	default:
		return 0, fmt.Errorf("invalid access size %d", size)
	}
}

func (s *shell) read(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: read ADDR [SIZE]")
	}
	addr, err := parseUint(args[0], 64)
	if err != nil {
		return err
	}
	size, err := parseSize(args, 1)
	if err != nil {
		return err
	}

	buf := make([]byte, 8)
	if err := s.m.HandleMMIO(addr, buf[:size], false); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "0x%x: 0x%x\n", addr, binary.LittleEndian.Uint64(buf))
	return nil
}

func (s *shell) write(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: write ADDR VALUE [SIZE]")
	}
	addr, err := parseUint(args[0], 64)
	if err != nil {
		return err
	}
	value, err := parseUint(args[1], 64)
	if err != nil {
		return err
	}
	size, err := parseSize(args, 2)
	if err != nil {
		return err
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return s.m.HandleMMIO(addr, buf[:size], true)
}

func (s *shell) msi(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: msi ADDR DATA")
	}
	addr, err := parseUint(args[0], 64)
	if err != nil {
		return err
	}
	data, err := parseUint(args[1], 32)
	if err != nil {
		return err
	}
	return s.m.SignalMSI(addr, uint32(data))
}

func (s *shell) irq(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: irq INTID 0|1")
	}
	intid, err := parseUint(args[0], 32)
	if err != nil {
		return err
	}
	level, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("invalid level %q: %w", args[1], err)
	}
	return s.m.SetIRQ(uint32(intid), level)
}

func (s *shell) status() error {
	for i := 0; i < s.m.NumCPUs(); i++ {
		cpu, err := s.m.CPU(i)
		if err != nil {
			return err
		}
		if s.m.Accelerated() {
			fmt.Fprintf(s.out, "cpu%d: accelerated\n", i)
			continue
		}
		fmt.Fprintf(s.out, "cpu%d: %s\n", i, cpu.Pending())
	}

	pending := s.m.Router().PendingList()
	parts := make([]string, len(pending))
	for i, intid := range pending {
		parts[i] = strconv.FormatUint(uint64(intid), 10)
	}
	fmt.Fprintf(s.out, "pending: [%s]\n", strings.Join(parts, " "))

	for _, fc := range s.m.Config().Frames {
		frame, ok := s.m.Frame(fc.Name)
		if !ok {
			continue
		}
		first := frame.Config().FirstINTID()
		var asserted []string
		for i := 0; i < frame.NumOutputs(); i++ {
			line, err := frame.Output(i)
			if err != nil {
				return err
			}
			if line.Level() {
				asserted = append(asserted, strconv.FormatUint(uint64(first)+uint64(i), 10))
			}
		}
		fmt.Fprintf(s.out, "%s asserted: [%s]\n", fc.Name, strings.Join(asserted, " "))
	}
	return nil
}
