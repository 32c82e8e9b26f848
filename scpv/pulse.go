package scpv

import (
	"context"
	"fmt"
	"time"

	"github.com/w1xm/valve_relay/gpio"
)

// DefaultHalfCycle gives a 200Hz toggle rate.
const DefaultHalfCycle = 5 * time.Millisecond

// PulseTrain toggles a pin at a fixed rate while holding the driver's Enable
// pin high.
type PulseTrain struct {
	drv       gpio.Driver
	enable    int
	halfCycle time.Duration
	clock     Clock
}

func NewPulseTrain(drv gpio.Driver, enable int, halfCycle time.Duration, clock Clock) *PulseTrain {
	if halfCycle <= 0 {
		halfCycle = DefaultHalfCycle
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &PulseTrain{
		drv:       drv,
		enable:    enable,
		halfCycle: halfCycle,
		clock:     clock,
	}
}

// Run produces exactly count level transitions on pin, one per half-cycle.
// Enable is raised before the first transition and always lowered on return,
// including when a pin operation fails or ctx is canceled mid-train.
// A count of zero touches no pins.
func (p *PulseTrain) Run(ctx context.Context, pin int, count int) (err error) {
	if count < 0 {
		return fmt.Errorf("negative pulse count %d", count)
	}
	if count == 0 {
		return nil
	}
	defer func() {
		if rerr := p.drv.Write(p.enable, gpio.Low); rerr != nil && err == nil {
			err = fmt.Errorf("releasing enable: %w", rerr)
		}
	}()
	if err := p.drv.Write(p.enable, gpio.High); err != nil {
		return fmt.Errorf("asserting enable: %w", err)
	}

	t := p.clock.NewTicker(p.halfCycle)
	defer t.Stop()
	for i := 0; i < count; i++ {
		level, err := p.drv.Read(pin)
		if err != nil {
			return fmt.Errorf("pulse %d/%d: %w", i+1, count, err)
		}
		if err := p.drv.Write(pin, !level); err != nil {
			return fmt.Errorf("pulse %d/%d: %w", i+1, count, err)
		}
		select {
		case <-t.C():
		case <-ctx.Done():
			if i == count-1 {
				// Every transition was issued; only the settle time was cut.
				return nil
			}
			return fmt.Errorf("pulse train aborted after %d of %d transitions: %w", i+1, count, ctx.Err())
		}
	}
	return nil
}
