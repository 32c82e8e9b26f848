package gpio

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

// maxBCMPin is the highest GPIO line on the Raspberry Pi header (BCM numbering).
const maxBCMPin = 27

// RPIO drives Raspberry Pi header pins through /dev/gpiomem.
// Pin numbers are BCM numbers.
type RPIO struct {
	mu    sync.Mutex
	modes map[int]Mode
}

// OpenRPIO maps the GPIO registers. It fails with ErrConfiguration when the
// host has no GPIO memory to map.
func OpenRPIO() (*RPIO, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("%w: opening gpio memory: %v", ErrConfiguration, err)
	}
	return &RPIO{modes: make(map[int]Mode)}, nil
}

func (r *RPIO) Close() error {
	return rpio.Close()
}

func (r *RPIO) Configure(pin int, mode Mode) error {
	if pin < 0 || pin > maxBCMPin {
		return fmt.Errorf("%w: pin %d out of range", ErrConfiguration, pin)
	}
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("%w: pin %d: unknown mode %v", ErrConfiguration, pin, mode)
	}
	r.mu.Lock()
	r.modes[pin] = mode
	r.mu.Unlock()
	return nil
}

func (r *RPIO) mode(pin int) (Mode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modes[pin]
	return m, ok
}

// Read returns the pin level. Output pins read back the level they drive.
func (r *RPIO) Read(pin int) (Level, error) {
	if _, ok := r.mode(pin); !ok {
		return Low, fmt.Errorf("%w: read from unconfigured pin %d", ErrIO, pin)
	}
	return rpio.Pin(pin).Read() == rpio.High, nil
}

func (r *RPIO) Write(pin int, level Level) error {
	if m, ok := r.mode(pin); !ok || m != Output {
		return fmt.Errorf("%w: write to pin %d not configured as output", ErrIO, pin)
	}
	if level == High {
		rpio.Pin(pin).High()
	} else {
		rpio.Pin(pin).Low()
	}
	return nil
}
