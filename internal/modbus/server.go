package modbus

import (
	"encoding/binary"
	"errors"
	"log"

	"github.com/goburrow/serial"
	"github.com/tbrandon/mbserver"
)

// Tables holds the four Modbus data tables served by a Server.
type Tables struct {
	Coils            Bits
	DiscreteInputs   Bits
	HoldingRegisters Registers
	InputRegisters   Registers
}

// Quantity limits from the Modbus application protocol.
const (
	maxReadBits       = 2000
	maxReadRegisters  = 125
	maxWriteBits      = 1968
	maxWriteRegisters = 123
)

// Server is a Modbus slave answering from Tables. Requests are handled one
// at a time, in arrival order, across all connections.
type Server struct {
	mb     *mbserver.Server
	tables Tables
	// offset is added to every wire address.
	offset int
}

// NewServer returns a server for t. Unless zeroMode is set, wire address a
// refers to table address a+1.
func NewServer(t Tables, zeroMode bool) *Server {
	s := &Server{mb: mbserver.NewServer(), tables: t}
	if !zeroMode {
		s.offset = 1
	}
	s.mb.RegisterFunctionHandler(1, s.readCoils)
	s.mb.RegisterFunctionHandler(2, s.readDiscreteInputs)
	s.mb.RegisterFunctionHandler(3, s.readHoldingRegisters)
	s.mb.RegisterFunctionHandler(4, s.readInputRegisters)
	s.mb.RegisterFunctionHandler(5, s.writeSingleCoil)
	s.mb.RegisterFunctionHandler(6, s.writeSingleRegister)
	s.mb.RegisterFunctionHandler(15, s.writeMultipleCoils)
	s.mb.RegisterFunctionHandler(16, s.writeMultipleRegisters)
	return s
}

func (s *Server) ListenTCP(addr string) error {
	if err := s.mb.ListenTCP(addr); err != nil {
		return err
	}
	log.Printf("modbus: listening on %s", addr)
	return nil
}

func (s *Server) ListenRTU(cfg *serial.Config) error {
	if err := s.mb.ListenRTU(cfg); err != nil {
		return err
	}
	log.Printf("modbus: listening on %s at %d baud", cfg.Address, cfg.BaudRate)
	return nil
}

func (s *Server) Close() {
	s.mb.Close()
}

func exception(err error) *mbserver.Exception {
	if errors.Is(err, ErrIllegalAddress) {
		return &mbserver.IllegalDataAddress
	}
	log.Printf("modbus: %v", err)
	return &mbserver.SlaveDeviceFailure
}

// addressAndQuantity decodes the first two words of a request PDU.
func (s *Server) addressAndQuantity(frame mbserver.Framer) (int, int, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return 0, 0, &mbserver.IllegalDataValue
	}
	address := int(binary.BigEndian.Uint16(data[0:2])) + s.offset
	quantity := int(binary.BigEndian.Uint16(data[2:4]))
	return address, quantity, &mbserver.Success
}

func (s *Server) readBits(t Bits, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, quantity, exc := s.addressAndQuantity(frame)
	if exc != &mbserver.Success {
		return nil, exc
	}
	if quantity < 1 || quantity > maxReadBits {
		return nil, &mbserver.IllegalDataValue
	}
	bits, err := t.GetBits(address, quantity)
	if err != nil {
		return nil, exception(err)
	}
	packed := BitsToBytes(bits)
	return append([]byte{byte(len(packed))}, packed...), &mbserver.Success
}

func (s *Server) readRegisters(t Registers, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, quantity, exc := s.addressAndQuantity(frame)
	if exc != &mbserver.Success {
		return nil, exc
	}
	if quantity < 1 || quantity > maxReadRegisters {
		return nil, &mbserver.IllegalDataValue
	}
	values, err := t.Get(address, quantity)
	if err != nil {
		return nil, exception(err)
	}
	return append([]byte{byte(2 * len(values))}, mbserver.Uint16ToBytes(values)...), &mbserver.Success
}

func (s *Server) readCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	return s.readBits(s.tables.Coils, frame)
}

func (s *Server) readDiscreteInputs(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	return s.readBits(s.tables.DiscreteInputs, frame)
}

func (s *Server) readHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	return s.readRegisters(s.tables.HoldingRegisters, frame)
}

func (s *Server) readInputRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	return s.readRegisters(s.tables.InputRegisters, frame)
}

func (s *Server) writeSingleCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, value, exc := s.addressAndQuantity(frame)
	if exc != &mbserver.Success {
		return nil, exc
	}
	var on bool
	switch value {
	case 0xFF00:
		on = true
	case 0x0000:
	default:
		return nil, &mbserver.IllegalDataValue
	}
	if err := s.tables.Coils.SetBits(address, []bool{on}); err != nil {
		return nil, exception(err)
	}
	return frame.GetData()[0:4], &mbserver.Success
}

func (s *Server) writeSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, value, exc := s.addressAndQuantity(frame)
	if exc != &mbserver.Success {
		return nil, exc
	}
	if err := s.tables.HoldingRegisters.Set(address, []uint16{uint16(value)}); err != nil {
		return nil, exception(err)
	}
	return frame.GetData()[0:4], &mbserver.Success
}

func (s *Server) writeMultipleCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, quantity, exc := s.addressAndQuantity(frame)
	if exc != &mbserver.Success {
		return nil, exc
	}
	data := frame.GetData()
	if quantity < 1 || quantity > maxWriteBits || len(data) < 5 {
		return nil, &mbserver.IllegalDataValue
	}
	n := int(data[4])
	if n != (quantity+7)/8 || len(data) < 5+n {
		return nil, &mbserver.IllegalDataValue
	}
	bits := BytesToBits(data[5 : 5+n])[:quantity]
	if err := s.tables.Coils.SetBits(address, bits); err != nil {
		return nil, exception(err)
	}
	return data[0:4], &mbserver.Success
}

func (s *Server) writeMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, quantity, exc := s.addressAndQuantity(frame)
	if exc != &mbserver.Success {
		return nil, exc
	}
	data := frame.GetData()
	if quantity < 1 || quantity > maxWriteRegisters || len(data) < 5 {
		return nil, &mbserver.IllegalDataValue
	}
	n := int(data[4])
	if n != 2*quantity || len(data) < 5+n {
		return nil, &mbserver.IllegalDataValue
	}
	values := mbserver.BytesToUint16(data[5 : 5+n])
	if err := s.tables.HoldingRegisters.Set(address, values); err != nil {
		return nil, exception(err)
	}
	return data[0:4], &mbserver.Success
}
