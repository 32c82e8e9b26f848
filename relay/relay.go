// Package relay connects a Modbus slave to a valve actuator: writes to the
// monitored holding register are queued as commands and executed, in order,
// by a single worker that owns the GPIO pins.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cenkalti/backoff"
	"github.com/goburrow/serial"
	"github.com/w1xm/valve_relay/gpio"
	"github.com/w1xm/valve_relay/internal/modbus"
	"github.com/w1xm/valve_relay/scpv"
	"golang.org/x/sync/errgroup"
)

type Relay struct {
	cfg      Config
	actuator *scpv.Actuator
	server   *modbus.Server
	commands *Sender
	worker   *Worker
}

// New builds the actuator on drv and the Modbus tables. statusCallback, if
// not nil, is called after every actuator status change.
func New(cfg Config, drv gpio.Driver, clock scpv.Clock, statusCallback scpv.StatusCallback) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inputs := modbus.NewRegisterBlock(cfg.BlockSize, 0)
	base := cfg.statusBase()
	callback := func(s scpv.Status) {
		publishStatus(inputs, base, s)
		if statusCallback != nil {
			statusCallback(s)
		}
	}
	actuator, err := scpv.New(drv, scpv.Config{
		Pins:         cfg.GPIO.Pins(),
		StepsPerUnit: cfg.StepsPerUnit,
		HalfCycle:    cfg.HalfCycle,
		CloseLevel:   cfg.GPIO.CloseLevel(),
		Clock:        clock,
	}, callback)
	if err != nil {
		return nil, fmt.Errorf("setting up actuator: %w", err)
	}
	publishStatus(inputs, base, actuator.Status())

	commands, received := NewQueue()
	tables := modbus.Tables{
		Coils:            modbus.NewBitBlock(cfg.BlockSize),
		DiscreteInputs:   modbus.NewBitBlock(cfg.BlockSize),
		HoldingRegisters: NewIngress(modbus.NewRegisterBlock(cfg.BlockSize, 0), commands),
		InputRegisters:   inputs,
	}
	return &Relay{
		cfg:      cfg,
		actuator: actuator,
		server:   modbus.NewServer(tables, cfg.ZeroMode),
		commands: commands,
		worker:   NewWorker(received, actuator, cfg.MonitoredAddress, cfg.ShutdownGrace),
	}, nil
}

func (r *Relay) Status() scpv.Status {
	return r.actuator.Status()
}

// Run starts the command worker, then the Modbus listeners, and serves until
// ctx is canceled. On shutdown the listeners close first; an in-progress move
// gets up to ShutdownGrace to finish.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.superviseWorker(ctx)
	})
	if err := r.listen(); err != nil {
		cancel()
		g.Wait()
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Print("shutdown; closing modbus listeners")
		r.server.Close()
		r.commands.Close()
		return nil
	})
	return g.Wait()
}

func (r *Relay) listen() error {
	if r.cfg.Addr != "" {
		if err := r.server.ListenTCP(r.cfg.Addr); err != nil {
			return fmt.Errorf("listening on %q: %w", r.cfg.Addr, err)
		}
	}
	if r.cfg.Serial.Port != "" {
		err := r.server.ListenRTU(&serial.Config{
			Address:  r.cfg.Serial.Port,
			BaudRate: r.cfg.Serial.Baud,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
		})
		if err != nil {
			r.server.Close()
			return fmt.Errorf("opening %q: %w", r.cfg.Serial.Port, err)
		}
	}
	return nil
}

// superviseWorker restarts the worker with exponential backoff if it panics.
func (r *Relay) superviseWorker(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	op := func() error {
		err := r.worker.run(ctx)
		if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
			return backoff.Permanent(err)
		}
		log.Printf("%v; restarting", err)
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if ctx.Err() != nil {
		return nil
	}
	return err
}
