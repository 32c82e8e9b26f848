package relay

import (
	"log"

	"github.com/w1xm/valve_relay/internal/modbus"
	"github.com/w1xm/valve_relay/scpv"
)

// Input register layout of the actuator status, as wire addresses.
const (
	StatusPosition = iota
	StatusState
	StatusTarget
	StatusCompletedMoves
	StatusFailedMoves
	StatusLastError

	statusRegisters
)

// StatusRegisters encodes s for the input register table.
func StatusRegisters(s scpv.Status) []uint16 {
	regs := make([]uint16, statusRegisters)
	regs[StatusPosition] = uint16(s.Position)
	regs[StatusState] = uint16(s.State)
	regs[StatusTarget] = uint16(s.Target)
	regs[StatusCompletedMoves] = uint16(s.CompletedMoves)
	regs[StatusFailedMoves] = uint16(s.FailedMoves + s.RejectedMoves)
	regs[StatusLastError] = uint16(s.LastErrorCode)
	return regs
}

func publishStatus(table modbus.Registers, base int, s scpv.Status) {
	if err := table.Set(base, StatusRegisters(s)); err != nil {
		log.Printf("publishing status: %v", err)
	}
}
