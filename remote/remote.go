// Package remote talks to a running valve relay over Modbus TCP.
package remote

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/w1xm/valve_relay/internal/modbus"
	"github.com/w1xm/valve_relay/relay"
	"github.com/w1xm/valve_relay/scpv"
)

// DefaultRegister is the wire address of the position register when the
// relay runs with its default numbering.
const DefaultRegister = 15

type Status struct {
	Position       int
	Moving         bool
	Target         int
	CompletedMoves int
	FailedMoves    int
	LastError      scpv.ErrorCode
}

type StatusCallback func(status Status)

type Valve struct {
	statusCallback StatusCallback
	register       int
	mu             sync.Mutex
	client         *modbus.Client
	last           Status
}

// Connect polls the relay at addr in the background and reports every
// status change to statusCallback.
func Connect(ctx context.Context, addr string, register int, interval time.Duration, statusCallback StatusCallback) (*Valve, error) {
	v := &Valve{
		client: &modbus.Client{
			Addr:         addr,
			SlaveId:      1,
			PollInterval: interval,
		},
		register:       register,
		statusCallback: statusCallback,
	}
	v.client.Poll = v.pollOnce
	return v, v.client.Connect(ctx)
}

// Dial opens a single connection for a few requests.
func Dial(addr string, register int) (*Valve, error) {
	v := &Valve{
		client:   &modbus.Client{Addr: addr, SlaveId: 1},
		register: register,
	}
	if err := v.client.Dial(); err != nil {
		return nil, fmt.Errorf("opening %q: %w", addr, err)
	}
	return v, nil
}

func (v *Valve) Close() error {
	return v.client.Close()
}

func (v *Valve) pollOnce() error {
	status, err := v.ReadStatus()
	if err != nil {
		return err
	}
	v.mu.Lock()
	changed := status != v.last
	v.last = status
	v.mu.Unlock()
	if changed {
		v.statusCallback(status)
	}
	return nil
}

func (v *Valve) ReadStatus() (Status, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	results, err := v.client.ReadInputRegisters(0, relay.StatusLastError+1)
	if err != nil {
		return Status{}, err
	}
	if len(results) < 2*(relay.StatusLastError+1) {
		return Status{}, fmt.Errorf("short status response: %d bytes", len(results))
	}
	reg := func(i int) uint16 {
		return binary.BigEndian.Uint16(results[2*i:])
	}
	return Status{
		Position:       int(reg(relay.StatusPosition)),
		Moving:         scpv.State(reg(relay.StatusState)) == scpv.Moving,
		Target:         int(reg(relay.StatusTarget)),
		CompletedMoves: int(reg(relay.StatusCompletedMoves)),
		FailedMoves:    int(reg(relay.StatusFailedMoves)),
		LastError:      scpv.ErrorCode(reg(relay.StatusLastError)),
	}, nil
}

// SetPosition writes the target position. The relay acknowledges before the
// valve moves; watch the status for completion.
func (v *Valve) SetPosition(position int) error {
	if position < scpv.MinPosition || position > scpv.MaxPosition {
		return &scpv.InvalidPositionError{Target: position}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.client.WriteRegister(v.register, uint16(position))
}

// Position reads back the last written target from the holding register.
func (v *Valve) Position() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	results, err := v.client.ReadHoldingRegisters(uint16(v.register), 1)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(results)), nil
}
