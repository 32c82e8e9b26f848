package modbus

import (
	"errors"
	"fmt"
	"sync"
)

// ErrIllegalAddress is returned for an access outside a table.
var ErrIllegalAddress = errors.New("modbus: illegal data address")

// Registers is a table of 16-bit registers.
type Registers interface {
	Get(address, count int) ([]uint16, error)
	Set(address int, values []uint16) error
}

// Bits is a table of single-bit values (coils or discrete inputs).
type Bits interface {
	GetBits(address, count int) ([]bool, error)
	SetBits(address int, values []bool) error
}

func checkRange(address, count, size int) error {
	if address < 0 || count < 0 || address+count > size {
		return fmt.Errorf("%w: %d+%d outside [0,%d)", ErrIllegalAddress, address, count, size)
	}
	return nil
}

// RegisterBlock is a sequential block of registers starting at address 0.
type RegisterBlock struct {
	mu     sync.RWMutex
	values []uint16
}

// NewRegisterBlock returns a block of size registers, each set to fill.
func NewRegisterBlock(size int, fill uint16) *RegisterBlock {
	b := &RegisterBlock{values: make([]uint16, size)}
	for i := range b.values {
		b.values[i] = fill
	}
	return b
}

func (b *RegisterBlock) Get(address, count int) ([]uint16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := checkRange(address, count, len(b.values)); err != nil {
		return nil, err
	}
	return append([]uint16(nil), b.values[address:address+count]...), nil
}

func (b *RegisterBlock) Set(address int, values []uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkRange(address, len(values), len(b.values)); err != nil {
		return err
	}
	copy(b.values[address:], values)
	return nil
}

// BitBlock is a sequential block of bits starting at address 0.
type BitBlock struct {
	mu     sync.RWMutex
	values []bool
}

func NewBitBlock(size int) *BitBlock {
	return &BitBlock{values: make([]bool, size)}
}

func (b *BitBlock) GetBits(address, count int) ([]bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := checkRange(address, count, len(b.values)); err != nil {
		return nil, err
	}
	return append([]bool(nil), b.values[address:address+count]...), nil
}

func (b *BitBlock) SetBits(address int, values []bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkRange(address, len(values), len(b.values)); err != nil {
		return err
	}
	copy(b.values[address:], values)
	return nil
}

// BytesToBits unpacks bits LSB first, as Modbus packs coils.
func BytesToBits(bs []byte) []bool {
	var out []bool
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i)&1) == 1)
		}
	}
	return out
}

// BitsToBytes packs bits LSB first.
func BitsToBytes(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, v := range bits {
		if v {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}
