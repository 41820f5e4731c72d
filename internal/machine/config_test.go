package machine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrange/irqfabric/internal/devices/arm64/gicv2m"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("{}"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.CPUs != 1 {
		t.Fatalf("CPUs = %d, want 1", cfg.CPUs)
	}
	if cfg.Accel != AccelNone {
		t.Fatalf("Accel = %q, want %q", cfg.Accel, AccelNone)
	}
	if len(cfg.Frames) != 1 {
		t.Fatalf("Frames = %d, want 1", len(cfg.Frames))
	}
	frame := cfg.Frames[0].Frame()
	if frame.Base != DefaultFrameBase || frame.BaseSPI != gicv2m.DefaultBaseSPI || frame.NumSPI != gicv2m.DefaultNumSPI {
		t.Fatalf("default frame = %+v", frame)
	}
	if cfg.Frames[0].Name != DefaultFrameName {
		t.Fatalf("default frame name = %q", cfg.Frames[0].Name)
	}
}

func TestParseConfigFrames(t *testing.T) {
	const doc = `
cpus: 2
frames:
  - name: a
    base: 0x08020000
    baseSPI: 64
    numSPI: 32
  - base: 0x08030000
    numSPI: 0
router:
  targetCPU: 1
`
	cfg, err := ParseConfig([]byte(doc))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.CPUs != 2 || cfg.Router.TargetCPU != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
	a := cfg.Frames[0].Frame()
	if a.Base != 0x08020000 || a.BaseSPI != 64 || a.NumSPI != 32 {
		t.Fatalf("frame a = %+v", a)
	}
	b := cfg.Frames[1].Frame()
	if cfg.Frames[1].Name != "v2m1" {
		t.Fatalf("frame 1 name = %q, want v2m1", cfg.Frames[1].Name)
	}
	if b.BaseSPI != 0 || b.NumSPI != 0 {
		t.Fatalf("explicit numSPI 0 not preserved: %+v", b)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad yaml", "cpus: [", "parse machine config"},
		{"bad accel", "accel: hvf", "unknown accel"},
		{"bad target", "cpus: 2\nrouter:\n  targetCPU: 2", "targetCPU"},
		{"negative cpus", "cpus: -1", "cpus must be positive"},
		{"duplicate frame", "frames:\n  - name: x\n    base: 0\n  - name: x\n    base: 0x1000", "duplicate frame"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.yaml")
	if err := os.WriteFile(path, []byte("cpus: 4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CPUs != 4 {
		t.Fatalf("CPUs = %d, want 4", cfg.CPUs)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
