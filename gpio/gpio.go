// Package gpio describes the three digital pins a step/direction motor driver
// needs and the drivers that can toggle them.
package gpio

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when a pin or mode cannot be set up.
	ErrConfiguration = errors.New("gpio: invalid configuration")
	// ErrIO is returned when a pin cannot be read or written.
	ErrIO = errors.New("gpio: i/o failure")
)

type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

type Mode int

const (
	Input Mode = iota
	Output
)

func (m Mode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Driver is implemented by anything that owns physical pins.
type Driver interface {
	// Configure sets the mode of a pin. Configuring a pin twice is allowed.
	Configure(pin int, mode Mode) error
	// Read returns the level of a configured pin.
	Read(pin int) (Level, error)
	// Write drives an output pin.
	Write(pin int, level Level) error
}

// Role names one of the pins of a step/direction driver.
type Role int

const (
	Direction Role = iota
	Step
	Enable

	numRoles
)

func (r Role) String() string {
	switch r {
	case Direction:
		return "DIR"
	case Step:
		return "STEP"
	case Enable:
		return "EN"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// PinSet binds every Role to a physical pin number, in the order
// [Direction, Step, Enable].
type PinSet [numRoles]int

// Pin returns the physical pin bound to r.
func (p PinSet) Pin(r Role) int {
	return p[r]
}

// Validate checks that no two roles share a physical pin.
func (p PinSet) Validate() error {
	for i := Role(0); i < numRoles; i++ {
		if p[i] < 0 {
			return fmt.Errorf("%w: %v bound to negative pin %d", ErrConfiguration, i, p[i])
		}
		for j := i + 1; j < numRoles; j++ {
			if p[i] == p[j] {
				return fmt.Errorf("%w: %v and %v share pin %d", ErrConfiguration, i, j, p[i])
			}
		}
	}
	return nil
}
