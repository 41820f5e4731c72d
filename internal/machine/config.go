package machine

import (
	"fmt"
	"os"

	"github.com/tinyrange/irqfabric/internal/devices/arm64/gicv2m"
	"gopkg.in/yaml.v3"
)

const (
	AccelNone = "none"
	AccelKVM  = "kvm"

	DefaultFrameName = "v2m0"
	DefaultFrameBase = 0x08020000
)

// Config describes the interrupt topology of a machine.
type Config struct {
	CPUs   int           `yaml:"cpus,omitempty"`
	Accel  string        `yaml:"accel,omitempty"`
	Frames []FrameConfig `yaml:"frames,omitempty"`
	Router RouterConfig  `yaml:"router,omitempty"`
}

// FrameConfig places one GICv2m frame.
type FrameConfig struct {
	Name    string  `yaml:"name"`
	Base    uint64  `yaml:"base"`
	BaseSPI *uint32 `yaml:"baseSPI,omitempty"`
	NumSPI  *uint32 `yaml:"numSPI,omitempty"`
}

// RouterConfig selects where latched SPIs are delivered.
type RouterConfig struct {
	TargetCPU int `yaml:"targetCPU"`
	NumIRQs   int `yaml:"numIRQs,omitempty"`
}

// Frame returns the device configuration with defaults applied.
func (f FrameConfig) Frame() gicv2m.Config {
	cfg := gicv2m.DefaultConfig(f.Base)
	if f.BaseSPI != nil {
		cfg.BaseSPI = *f.BaseSPI
	}
	if f.NumSPI != nil {
		cfg.NumSPI = *f.NumSPI
	}
	return cfg
}

func (c *Config) normalize() {
	if c.CPUs == 0 {
		c.CPUs = 1
	}
	if c.Accel == "" {
		c.Accel = AccelNone
	}
	if len(c.Frames) == 0 {
		c.Frames = []FrameConfig{{Name: DefaultFrameName, Base: DefaultFrameBase}}
	}
	for i := range c.Frames {
		if c.Frames[i].Name == "" {
			c.Frames[i].Name = fmt.Sprintf("v2m%d", i)
		}
	}
}

// Validate checks the topology without building it. Frame SPI windows are
// checked again when each frame is realized.
func (c Config) Validate() error {
	if c.CPUs < 0 {
		return fmt.Errorf("cpus must be positive, got %d", c.CPUs)
	}
	switch c.Accel {
	case AccelNone, AccelKVM:
	default:
		return fmt.Errorf("unknown accel %q (want %q or %q)", c.Accel, AccelNone, AccelKVM)
	}
	if c.Router.TargetCPU < 0 || c.Router.TargetCPU >= c.CPUs {
		return fmt.Errorf("router targetCPU %d out of range [0,%d)", c.Router.TargetCPU, c.CPUs)
	}
	names := make(map[string]bool, len(c.Frames))
	for _, f := range c.Frames {
		if names[f.Name] {
			return fmt.Errorf("duplicate frame name %q", f.Name)
		}
		names[f.Name] = true
	}
	return nil
}

// DefaultConfig returns a single-CPU software machine with one frame.
func DefaultConfig() Config {
	var cfg Config
	cfg.normalize()
	return cfg
}

// ParseConfig decodes a YAML topology and applies defaults.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse machine config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid machine config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a YAML topology from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseConfig(data)
}
