// Package scpv drives a stepper-actuated proportional valve through a
// step/direction/enable motor driver.
//
// The valve position is a logical value from 0 (closed) to 100 (open). It is
// not read back from the hardware: the actuator counts it from the pulses it
// has issued since construction, and it is not persisted across restarts.
package scpv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/w1xm/valve_relay/gpio"
)

const (
	MinPosition = 0
	MaxPosition = 100

	// DefaultStepsPerUnit is the number of Step transitions per logical unit.
	DefaultStepsPerUnit = 4
)

// InvalidPositionError is returned for a target outside [MinPosition, MaxPosition].
type InvalidPositionError struct {
	Target int
}

func (e *InvalidPositionError) Error() string {
	return fmt.Sprintf("scpv: position %d not in [%d,%d]", e.Target, MinPosition, MaxPosition)
}

type State int

const (
	Idle State = iota
	Moving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Moving:
		return "MOVING"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Direction int

const (
	Open Direction = iota
	Close
)

func (d Direction) String() string {
	if d == Close {
		return "CLOSE"
	}
	return "OPEN"
}

// ErrorCode classifies the last failed request.
type ErrorCode uint16

const (
	NoError ErrorCode = iota
	InvalidPosition
	IOFailure
	Aborted
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NONE"
	case InvalidPosition:
		return "INVALID_POSITION"
	case IOFailure:
		return "IO"
	case Aborted:
		return "ABORTED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(c))
}

func (c ErrorCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Classify maps a Move error to an ErrorCode.
func Classify(err error) ErrorCode {
	var ipe *InvalidPositionError
	switch {
	case err == nil:
		return NoError
	case errors.As(err, &ipe):
		return InvalidPosition
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Aborted
	}
	return IOFailure
}

// PulsePlan is the motion needed to go from one position to another.
type PulsePlan struct {
	Direction Direction
	Pulses    int
}

// Plan computes the direction and pulse count for a move.
func Plan(current, target, stepsPerUnit int) PulsePlan {
	if target < current {
		return PulsePlan{Direction: Close, Pulses: (current - target) * stepsPerUnit}
	}
	return PulsePlan{Direction: Open, Pulses: (target - current) * stepsPerUnit}
}

type Status struct {
	// Position is the committed logical position.
	Position int
	// Target is the last accepted target. It equals Position when idle
	// unless the last move failed.
	Target int
	State  State
	// Plan is the motion of the current or last move.
	Plan PulsePlan

	CompletedMoves uint64
	FailedMoves    uint64
	// RejectedMoves counts out of range targets.
	RejectedMoves uint64

	LastErrorCode ErrorCode
	LastError     string
	LastChange    time.Time
}

type StatusCallback func(status Status)

type Config struct {
	// Pins in the order [Direction, Step, Enable].
	Pins gpio.PinSet
	// StepsPerUnit defaults to DefaultStepsPerUnit.
	StepsPerUnit int
	// HalfCycle defaults to DefaultHalfCycle.
	HalfCycle time.Duration
	// CloseLevel is the Direction level that closes the valve.
	CloseLevel gpio.Level
	// Clock defaults to SystemClock.
	Clock Clock
}

// Actuator owns the three driver pins and the logical position.
type Actuator struct {
	drv            gpio.Driver
	pins           gpio.PinSet
	stepsPerUnit   int
	closeLevel     gpio.Level
	train          *PulseTrain
	statusCallback StatusCallback

	// moveMu serializes moves.
	moveMu sync.Mutex

	mu     sync.Mutex
	status Status
}

// New configures the pins as outputs with Enable low. The position starts at 0.
// Errors wrap gpio.ErrConfiguration or gpio.ErrIO.
func New(drv gpio.Driver, cfg Config, statusCallback StatusCallback) (*Actuator, error) {
	if err := cfg.Pins.Validate(); err != nil {
		return nil, err
	}
	if cfg.StepsPerUnit <= 0 {
		cfg.StepsPerUnit = DefaultStepsPerUnit
	}
	for _, role := range []gpio.Role{gpio.Direction, gpio.Step, gpio.Enable} {
		if err := drv.Configure(cfg.Pins.Pin(role), gpio.Output); err != nil {
			return nil, fmt.Errorf("configuring %v: %w", role, err)
		}
	}
	if err := drv.Write(cfg.Pins.Pin(gpio.Enable), gpio.Low); err != nil {
		return nil, fmt.Errorf("releasing %v: %w", gpio.Enable, err)
	}
	if statusCallback == nil {
		statusCallback = func(Status) {}
	}
	return &Actuator{
		drv:            drv,
		pins:           cfg.Pins,
		stepsPerUnit:   cfg.StepsPerUnit,
		closeLevel:     cfg.CloseLevel,
		train:          NewPulseTrain(drv, cfg.Pins.Pin(gpio.Enable), cfg.HalfCycle, cfg.Clock),
		statusCallback: statusCallback,
		status:         Status{LastChange: time.Now()},
	}, nil
}

func (a *Actuator) Position() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status.Position
}

func (a *Actuator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Move drives the valve to target and commits the new position once every
// pulse has been issued. On error the position keeps its pre-move value.
// A target equal to the current position issues no pulses. A panic in the
// driver is recorded as a failed move and then propagated.
func (a *Actuator) Move(ctx context.Context, target int) (err error) {
	if target < MinPosition || target > MaxPosition {
		err := &InvalidPositionError{Target: target}
		a.update(func(s *Status) {
			s.RejectedMoves++
			s.LastErrorCode = InvalidPosition
			s.LastError = err.Error()
		})
		return err
	}

	a.moveMu.Lock()
	defer a.moveMu.Unlock()

	current := a.Position()
	plan := Plan(current, target, a.stepsPerUnit)
	if plan.Pulses == 0 {
		if a.Status().Target != target {
			a.update(func(s *Status) { s.Target = target })
		}
		return nil
	}
	a.update(func(s *Status) {
		s.State = Moving
		s.Target = target
		s.Plan = plan
	})

	defer func() {
		p := recover()
		if p != nil {
			err = fmt.Errorf("scpv: move to %d: driver panic: %v: %w", target, p, gpio.ErrIO)
		}
		a.update(func(s *Status) {
			s.State = Idle
			if err != nil {
				s.FailedMoves++
				s.LastErrorCode = Classify(err)
				s.LastError = err.Error()
				return
			}
			s.Position = target
			s.CompletedMoves++
		})
		if p != nil {
			panic(p)
		}
	}()
	return a.run(ctx, plan)
}

func (a *Actuator) run(ctx context.Context, plan PulsePlan) error {
	level := a.closeLevel
	if plan.Direction == Open {
		level = !a.closeLevel
	}
	if err := a.drv.Write(a.pins.Pin(gpio.Direction), level); err != nil {
		return fmt.Errorf("setting direction: %w", err)
	}
	return a.train.Run(ctx, a.pins.Pin(gpio.Step), plan.Pulses)
}

func (a *Actuator) update(f func(s *Status)) {
	a.mu.Lock()
	f(&a.status)
	a.status.LastChange = time.Now()
	status := a.status
	a.mu.Unlock()
	a.statusCallback(status)
}
