package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/tinyrange/irqfabric/internal/machine"
	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "irqfabric: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Machine topology YAML (default: one CPU, one frame)")
	accel := flag.String("accel", "", "Override accelerator (none, kvm)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [command; command; ...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Build an interrupt topology and drive it with guest accesses.\n")
		fmt.Fprintf(os.Stderr, "Commands are read from the arguments, or from stdin when none are given.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "%s\n", commandHelp)
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s 'msi 0x08020040 32; status'\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config machine.yaml -accel kvm < script.txt\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := machine.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = machine.LoadConfig(*configPath)
		if err != nil {
			return err
		}
	}
	if *accel != "" {
		cfg.Accel = *accel
	}

	m, err := machine.New(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	sh := newShell(m, os.Stdout)

	if flag.NArg() > 0 {
		script := strings.Join(flag.Args(), " ")
		for _, line := range strings.Split(script, ";") {
			if err := sh.exec(line); err != nil {
				if err == errQuit {
					return nil
				}
				return err
			}
		}
		return nil
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	return sh.serve(os.Stdin, interactive)
}

func (s *shell) serve(in io.Reader, interactive bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(s.out, "irqfabric> ")
		}
		if !scanner.Scan() {
			break
		}
		err := s.exec(scanner.Text())
		if err == errQuit {
			return nil
		}
		if err != nil {
			if !interactive {
				return err
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}
