package relay

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/w1xm/valve_relay/gpio"
	"github.com/w1xm/valve_relay/scpv"
)

// SerialConfig describes an optional Modbus RTU listener.
type SerialConfig struct {
	// Port is the serial device, e.g. /dev/ttyUSB0. Empty disables RTU.
	Port string `koanf:"port" yaml:"port"`
	Baud int    `koanf:"baud" yaml:"baud"`
}

type GPIOConfig struct {
	// Driver is "rpio" for Raspberry Pi header pins or "sim" for an
	// in-memory simulator.
	Driver string `koanf:"driver" yaml:"driver"`
	// Direction, Step and Enable are BCM pin numbers.
	Direction int `koanf:"direction" yaml:"direction"`
	Step      int `koanf:"step" yaml:"step"`
	Enable    int `koanf:"enable" yaml:"enable"`
	// CloseHigh selects the Direction level that closes the valve.
	CloseHigh bool `koanf:"close_high" yaml:"close_high"`
}

// Pins returns the pins in [Direction, Step, Enable] order.
func (g GPIOConfig) Pins() gpio.PinSet {
	return gpio.PinSet{g.Direction, g.Step, g.Enable}
}

func (g GPIOConfig) CloseLevel() gpio.Level {
	return gpio.Level(g.CloseHigh)
}

type Config struct {
	// Addr is the Modbus TCP address to listen at
	Addr   string       `koanf:"addr" yaml:"addr"`
	Serial SerialConfig `koanf:"serial" yaml:"serial"`
	// HTTPAddr serves the status API; empty disables it
	HTTPAddr string `koanf:"http_addr" yaml:"http_addr"`

	// BlockSize is the number of entries in each register table
	BlockSize int `koanf:"block_size" yaml:"block_size"`
	// ZeroMode maps wire address a to table address a; otherwise a+1
	ZeroMode bool `koanf:"zero_mode" yaml:"zero_mode"`
	// MonitoredAddress is the holding register (table address) whose
	// writes move the valve
	MonitoredAddress int `koanf:"monitored_address" yaml:"monitored_address"`

	StepsPerUnit  int           `koanf:"steps_per_unit" yaml:"steps_per_unit"`
	HalfCycle     time.Duration `koanf:"half_cycle" yaml:"half_cycle"`
	ShutdownGrace time.Duration `koanf:"shutdown_grace" yaml:"shutdown_grace"`

	GPIO GPIOConfig `koanf:"gpio" yaml:"gpio"`
}

func DefaultConfig() Config {
	return Config{
		Addr:             ":502",
		Serial:           SerialConfig{Baud: 19200},
		HTTPAddr:         "127.0.0.1:8502",
		BlockSize:        100,
		MonitoredAddress: 16,
		StepsPerUnit:     scpv.DefaultStepsPerUnit,
		HalfCycle:        scpv.DefaultHalfCycle,
		ShutdownGrace:    5 * time.Second,
		GPIO: GPIOConfig{
			Driver: "rpio",
			// BOARD pins 40, 38 and 36.
			Direction: 21,
			Step:      20,
			Enable:    16,
			CloseHigh: true,
		},
	}
}

// LoadConfig layers the YAML file at path over DefaultConfig. A missing file
// yields the defaults.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("loading defaults: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			log.Printf("no config at %q; using defaults", path)
		} else if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading %q: %w", path, err)
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return c, c.Validate()
}

// statusBase is the table address of wire input register 0.
func (c Config) statusBase() int {
	if c.ZeroMode {
		return 0
	}
	return 1
}

func (c Config) Validate() error {
	if min := c.statusBase() + statusRegisters; c.BlockSize < min || c.BlockSize > 1<<16 {
		return fmt.Errorf("block_size %d not in [%d,65536]", c.BlockSize, min)
	}
	if c.MonitoredAddress < 0 || c.MonitoredAddress >= c.BlockSize {
		return fmt.Errorf("monitored_address %d outside table of %d", c.MonitoredAddress, c.BlockSize)
	}
	if c.StepsPerUnit < 1 {
		return fmt.Errorf("steps_per_unit must be positive, got %d", c.StepsPerUnit)
	}
	if c.HalfCycle <= 0 {
		return fmt.Errorf("half_cycle must be positive, got %v", c.HalfCycle)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown_grace must not be negative, got %v", c.ShutdownGrace)
	}
	if c.Addr == "" && c.Serial.Port == "" {
		return errors.New("neither addr nor serial.port is set")
	}
	switch c.GPIO.Driver {
	case "rpio", "sim":
	default:
		return fmt.Errorf("unknown gpio.driver %q", c.GPIO.Driver)
	}
	return c.GPIO.Pins().Validate()
}
