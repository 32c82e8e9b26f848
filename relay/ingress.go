package relay

import (
	"log"

	"github.com/w1xm/valve_relay/internal/modbus"
)

// Ingress is a holding register table that relays every accepted write as a
// Command. The write is applied to the table first, so a read issued after
// the acknowledgement sees it.
type Ingress struct {
	modbus.Registers
	commands *Sender
}

func NewIngress(store modbus.Registers, commands *Sender) *Ingress {
	return &Ingress{Registers: store, commands: commands}
}

func (i *Ingress) Set(address int, values []uint16) error {
	if err := i.Registers.Set(address, values); err != nil {
		return err
	}
	if err := i.commands.Send(NewCommand(address, values)); err != nil {
		log.Printf("relaying write to %d: %v", address, err)
	}
	return nil
}
