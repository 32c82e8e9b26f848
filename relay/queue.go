package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueClosed is returned once the sending side is closed and every
	// queued command has been received.
	ErrQueueClosed = errors.New("relay: command queue closed")

	errConcurrentReceive = errors.New("relay: concurrent Receive on command queue")
)

// Command is one accepted register write. It is immutable.
type Command struct {
	Address int
	values  []uint16
}

func NewCommand(address int, values []uint16) Command {
	return Command{Address: address, values: append([]uint16(nil), values...)}
}

// Values returns a copy of the written values.
func (c Command) Values() []uint16 {
	return append([]uint16(nil), c.values...)
}

// Value returns the i'th written value.
func (c Command) Value(i int) (uint16, bool) {
	if i < 0 || i >= len(c.values) {
		return 0, false
	}
	return c.values[i], true
}

type queue struct {
	mu     sync.Mutex
	items  []Command
	closed bool
	// ready holds a token whenever items or closed may have changed.
	ready     chan struct{}
	receiving int32
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Sender is the producing end of a command queue.
type Sender struct {
	q *queue
}

// Receiver is the consuming end of a command queue.
type Receiver struct {
	q *queue
}

// NewQueue returns the two ends of an unbounded FIFO of commands. The caller
// hands the Sender to the producer and the Receiver to the single consumer.
func NewQueue() (*Sender, *Receiver) {
	q := &queue{ready: make(chan struct{}, 1)}
	return &Sender{q}, &Receiver{q}
}

// Send enqueues c without waiting for the consumer.
func (s *Sender) Send(c Command) error {
	s.q.mu.Lock()
	if s.q.closed {
		s.q.mu.Unlock()
		return ErrQueueClosed
	}
	s.q.items = append(s.q.items, c)
	s.q.mu.Unlock()
	s.q.signal()
	return nil
}

// Close stops further sends. Commands already queued are still delivered.
func (s *Sender) Close() {
	s.q.mu.Lock()
	s.q.closed = true
	s.q.mu.Unlock()
	s.q.signal()
}

// Receive blocks until a command is available, the queue is closed and
// drained, or ctx is done.
func (r *Receiver) Receive(ctx context.Context) (Command, error) {
	if !atomic.CompareAndSwapInt32(&r.q.receiving, 0, 1) {
		return Command{}, errConcurrentReceive
	}
	defer atomic.StoreInt32(&r.q.receiving, 0)
	for {
		if err := ctx.Err(); err != nil {
			return Command{}, err
		}
		r.q.mu.Lock()
		if len(r.q.items) > 0 {
			c := r.q.items[0]
			r.q.items[0] = Command{}
			r.q.items = r.q.items[1:]
			if len(r.q.items) == 0 {
				r.q.items = nil
			}
			r.q.mu.Unlock()
			return c, nil
		}
		closed := r.q.closed
		r.q.mu.Unlock()
		if closed {
			return Command{}, ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return Command{}, ctx.Err()
		case <-r.q.ready:
		}
	}
}

// Len returns the number of queued commands.
func (r *Receiver) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.items)
}
