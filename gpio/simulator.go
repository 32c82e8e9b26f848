package gpio

import (
	"fmt"
	"sync"
)

// Event records one level change driven on a simulated pin.
type Event struct {
	Pin   int
	Level Level
}

// Simulator is an in-memory Driver. It remembers every level change so that
// callers can inspect the waveform afterwards.
type Simulator struct {
	// MaxPin bounds the valid pin numbers; zero means maxBCMPin.
	MaxPin int
	// FailWrite, if set, is consulted before every write. A non-nil return
	// is wrapped in ErrIO and the write is not applied.
	FailWrite func(pin int, level Level) error

	mu     sync.Mutex
	modes  map[int]Mode
	levels map[int]Level
	events []Event
}

func NewSimulator() *Simulator {
	return &Simulator{}
}

func (s *Simulator) init() {
	if s.modes == nil {
		s.modes = make(map[int]Mode)
		s.levels = make(map[int]Level)
	}
}

func (s *Simulator) Configure(pin int, mode Mode) error {
	max := s.MaxPin
	if max == 0 {
		max = maxBCMPin
	}
	if pin < 0 || pin > max {
		return fmt.Errorf("%w: pin %d out of range", ErrConfiguration, pin)
	}
	if mode != Input && mode != Output {
		return fmt.Errorf("%w: pin %d: unknown mode %v", ErrConfiguration, pin, mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.modes[pin] = mode
	return nil
}

func (s *Simulator) Read(pin int) (Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if _, ok := s.modes[pin]; !ok {
		return Low, fmt.Errorf("%w: read from unconfigured pin %d", ErrIO, pin)
	}
	return s.levels[pin], nil
}

func (s *Simulator) Write(pin int, level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if m, ok := s.modes[pin]; !ok || m != Output {
		return fmt.Errorf("%w: write to pin %d not configured as output", ErrIO, pin)
	}
	if s.FailWrite != nil {
		if err := s.FailWrite(pin, level); err != nil {
			return fmt.Errorf("%w: pin %d: %v", ErrIO, pin, err)
		}
	}
	if s.levels[pin] != level {
		s.events = append(s.events, Event{Pin: pin, Level: level})
	}
	s.levels[pin] = level
	return nil
}

// Set forces the level of a pin without recording an event, as an external
// signal would.
func (s *Simulator) Set(pin int, level Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.levels[pin] = level
}

// Level returns the current level of a pin.
func (s *Simulator) Level(pin int) Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

// Events returns a copy of all recorded level changes.
func (s *Simulator) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Transitions counts the recorded level changes on one pin.
func (s *Simulator) Transitions(pin int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Pin == pin {
			n++
		}
	}
	return n
}

// Reset forgets the recorded events.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
