package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tinyrange/irqfabric/internal/machine"
)

func newTestShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	m, err := machine.NewWithAccelerator(machine.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewWithAccelerator: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	out := &bytes.Buffer{}
	return newShell(m, out), out
}

func TestShellMSIAndStatus(t *testing.T) {
	sh, out := newTestShell(t)

	for _, line := range []string{
		"# comment",
		"",
		"msi 0x08020040 32",
		"write 0x08020040 33",
		"status",
	} {
		if err := sh.exec(line); err != nil {
			t.Fatalf("exec %q: %v", line, err)
		}
	}

	got := out.String()
	if !strings.Contains(got, "cpu0: irq") {
		t.Fatalf("status output %q missing cpu0: irq", got)
	}
	if !strings.Contains(got, "pending: [32 33]") {
		t.Fatalf("status output %q missing pending list", got)
	}
}

func TestShellReadTyper(t *testing.T) {
	sh, out := newTestShell(t)
	if err := sh.exec("read 0x08020008"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got, want := out.String(), "0x8020008: 0x200040\n"; got != want {
		t.Fatalf("read output = %q, want %q", got, want)
	}
}

func TestShellAck(t *testing.T) {
	sh, out := newTestShell(t)
	for _, line := range []string{"irq 40 1", "ack", "ack", "eoi 40"} {
		if err := sh.exec(line); err != nil {
			t.Fatalf("exec %q: %v", line, err)
		}
	}
	if got, want := out.String(), "ack: 40\nack: none pending\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestShellEOILowersFrameOutput(t *testing.T) {
	sh, out := newTestShell(t)
	for _, line := range []string{"msi 0x08020040 33", "status", "ack", "eoi 33", "status"} {
		if err := sh.exec(line); err != nil {
			t.Fatalf("exec %q: %v", line, err)
		}
	}
	got := out.String()
	if !strings.Contains(got, "v2m0 asserted: [33]\n") {
		t.Fatalf("output %q missing asserted output before EOI", got)
	}
	if !strings.HasSuffix(got, "pending: []\nv2m0 asserted: []\n") {
		t.Fatalf("output %q still shows output after EOI", got)
	}
}

func TestShellErrors(t *testing.T) {
	sh, _ := newTestShell(t)
	for _, line := range []string{
		"bogus",
		"read",
		"read 0x08020008 3",
		"write 0x08020040",
		"msi 0x08020040",
		"msi 0x1 32",
		"irq 40 maybe",
		"eoi",
	} {
		if err := sh.exec(line); err == nil {
			t.Fatalf("exec %q: expected error", line)
		}
	}
	if err := sh.exec("quit"); err != errQuit {
		t.Fatalf("quit err = %v, want errQuit", err)
	}
}

func TestShellServe(t *testing.T) {
	sh, out := newTestShell(t)
	in := strings.NewReader("msi 0x08020040 34\nstatus\nquit\nstatus\n")
	if err := sh.serve(in, false); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if got := strings.Count(out.String(), "pending:"); got != 1 {
		t.Fatalf("status ran %d times, want 1 (quit should stop)", got)
	}

	sh, _ = newTestShell(t)
	if err := sh.serve(strings.NewReader("bogus\n"), false); err == nil {
		t.Fatalf("non-interactive serve should fail on bad command")
	}
}
