package modbus

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/goburrow/modbus"
	"github.com/google/go-cmp/cmp"
)

func TestRegisterBlock(t *testing.T) {
	b := NewRegisterBlock(10, 17)
	if err := b.Set(8, []uint16{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(9, []uint16{1, 2}); !errors.Is(err, ErrIllegalAddress) {
		t.Errorf("Set past end = %v, want ErrIllegalAddress", err)
	}
	if _, err := b.Get(-1, 1); !errors.Is(err, ErrIllegalAddress) {
		t.Errorf("Get(-1) = %v, want ErrIllegalAddress", err)
	}
	got, err := b.Get(7, 3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, []uint16{17, 1, 2}); diff != "" {
		t.Errorf("unexpected registers: got(-)/want(+):\n%s", diff)
	}
}

func TestBitPacking(t *testing.T) {
	bits := []bool{true, false, true, true, false, false, false, false, false, true}
	packed := BitsToBytes(bits)
	if diff := cmp.Diff(packed, []byte{0x0D, 0x02}); diff != "" {
		t.Errorf("unexpected bytes: got(-)/want(+):\n%s", diff)
	}
	if diff := cmp.Diff(BytesToBits(packed)[:len(bits)], bits); diff != "" {
		t.Errorf("round trip: got(-)/want(+):\n%s", diff)
	}
}

type recordingRegisters struct {
	*RegisterBlock
	mu     sync.Mutex
	writes []int
}

func (r *recordingRegisters) Set(address int, values []uint16) error {
	if err := r.RegisterBlock.Set(address, values); err != nil {
		return err
	}
	r.mu.Lock()
	r.writes = append(r.writes, address)
	r.mu.Unlock()
	return nil
}

func (r *recordingRegisters) Writes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.writes...)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().String()
}

func startServer(t *testing.T, tables Tables, zeroMode bool) *Client {
	t.Helper()
	addr := freeAddr(t)
	s := NewServer(tables, zeroMode)
	if err := s.ListenTCP(addr); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	c := &Client{Addr: addr, SlaveId: 1}
	if err := c.Dial(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func newTables() (Tables, *recordingRegisters) {
	hr := &recordingRegisters{RegisterBlock: NewRegisterBlock(100, 17)}
	return Tables{
		Coils:            NewBitBlock(100),
		DiscreteInputs:   NewBitBlock(100),
		HoldingRegisters: hr,
		InputRegisters:   NewRegisterBlock(100, 0),
	}, hr
}

func exceptionCode(err error) byte {
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return me.ExceptionCode
	}
	return 0
}

func TestServerAddressing(t *testing.T) {
	for _, test := range []struct {
		name     string
		zeroMode bool
		wire     uint16
		table    int
	}{
		{"offset", false, 15, 16},
		{"zero mode", true, 16, 16},
	} {
		t.Run(test.name, func(t *testing.T) {
			tables, hr := newTables()
			c := startServer(t, tables, test.zeroMode)
			if err := c.WriteRegister(int(test.wire), 50); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(hr.Writes(), []int{test.table}); diff != "" {
				t.Errorf("unexpected writes: got(-)/want(+):\n%s", diff)
			}
			got, _ := hr.Get(test.table, 1)
			if got[0] != 50 {
				t.Errorf("table[%d] = %d, want 50", test.table, got[0])
			}
			res, err := c.ReadHoldingRegisters(test.wire, 2)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(res, []byte{0, 50, 0, 17}); diff != "" {
				t.Errorf("unexpected read: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestServerWriteMultiple(t *testing.T) {
	tables, hr := newTables()
	c := startServer(t, tables, true)
	if _, err := c.WriteMultipleRegisters(3, 2, []byte{0, 1, 0, 2}); err != nil {
		t.Fatal(err)
	}
	got, _ := hr.Get(3, 2)
	if diff := cmp.Diff(got, []uint16{1, 2}); diff != "" {
		t.Errorf("unexpected registers: got(-)/want(+):\n%s", diff)
	}

	if _, err := c.WriteMultipleCoils(0, 10, []byte{0x0D, 0x02}); err != nil {
		t.Fatal(err)
	}
	res, err := c.ReadCoils(0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(res, []byte{0x0D, 0x02}); diff != "" {
		t.Errorf("unexpected coils: got(-)/want(+):\n%s", diff)
	}
	if _, err := c.WriteSingleCoil(1, 0xFF00); err != nil {
		t.Fatal(err)
	}
	res, _ = c.ReadCoils(0, 2)
	if res[0] != 0x03 {
		t.Errorf("coils = %#x, want 0x03", res[0])
	}
}

func TestServerExceptions(t *testing.T) {
	tables, hr := newTables()
	c := startServer(t, tables, false)
	for _, test := range []struct {
		name string
		call func() error
		code byte
	}{
		{"write past end", func() error { return c.WriteRegister(99, 1) }, modbus.ExceptionCodeIllegalDataAddress},
		{"read past end", func() error { _, err := c.ReadInputRegisters(98, 2); return err }, modbus.ExceptionCodeIllegalDataAddress},
		{"coil past end", func() error { _, err := c.ReadCoils(99, 1); return err }, modbus.ExceptionCodeIllegalDataAddress},
		{"discrete input past end", func() error { _, err := c.ReadDiscreteInputs(90, 11); return err }, modbus.ExceptionCodeIllegalDataAddress},
		{"multiple write past end", func() error { _, err := c.WriteMultipleRegisters(98, 2, []byte{0, 1, 0, 2}); return err }, modbus.ExceptionCodeIllegalDataAddress},
	} {
		t.Run(test.name, func(t *testing.T) {
			if code := exceptionCode(test.call()); code != test.code {
				t.Errorf("exception %d, want %d", code, test.code)
			}
		})
	}
	if w := hr.Writes(); len(w) != 0 {
		t.Errorf("rejected requests reached the table: %v", w)
	}
}
