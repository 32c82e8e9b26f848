package relay

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Mover moves the actuator to a logical position.
type Mover interface {
	Move(ctx context.Context, target int) error
}

// Worker consumes commands and moves the actuator for every write to the
// monitored address. It is the only user of the actuator.
type Worker struct {
	commands *Receiver
	actuator Mover
	address  int
	// grace bounds how long a move may continue after shutdown begins.
	grace time.Duration
}

func NewWorker(commands *Receiver, actuator Mover, address int, grace time.Duration) *Worker {
	return &Worker{
		commands: commands,
		actuator: actuator,
		address:  address,
		grace:    grace,
	}
}

// Run processes commands until ctx is done or the queue is closed. A failed
// move is logged and does not stop the worker.
func (w *Worker) Run(ctx context.Context) error {
	motionCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-stop:
			return
		case <-ctx.Done():
		}
		select {
		case <-stop:
		case <-time.After(w.grace):
			log.Printf("move still running %v after shutdown; aborting, position is stale", w.grace)
			cancel()
		}
	}()

	for {
		cmd, err := w.commands.Receive(ctx)
		if err != nil {
			return err
		}
		w.handle(motionCtx, cmd)
	}
}

// run is Run with panics turned into errors.
func (w *Worker) run(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("command worker panic: %v", p)
		}
	}()
	return w.Run(ctx)
}

func (w *Worker) handle(ctx context.Context, cmd Command) {
	if cmd.Address != w.address {
		return
	}
	v, ok := cmd.Value(0)
	if !ok {
		log.Printf("write to %d carries no value", cmd.Address)
		return
	}
	target := int(v)
	log.Printf("moving to %d", target)
	if err := w.actuator.Move(ctx, target); err != nil {
		log.Printf("moving to %d: %v", target, err)
	}
}
