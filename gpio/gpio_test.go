package gpio

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPinSetValidate(t *testing.T) {
	for _, test := range []struct {
		name string
		pins PinSet
		ok   bool
	}{
		{"distinct", PinSet{21, 20, 16}, true},
		{"shared step and enable", PinSet{21, 16, 16}, false},
		{"shared direction and enable", PinSet{5, 6, 5}, false},
		{"negative", PinSet{-1, 20, 16}, false},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := test.pins.Validate()
			if test.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !test.ok && !errors.Is(err, ErrConfiguration) {
				t.Errorf("Validate() = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestPinSetOrder(t *testing.T) {
	p := PinSet{40, 38, 36}
	got := []int{p.Pin(Direction), p.Pin(Step), p.Pin(Enable)}
	if diff := cmp.Diff(got, []int{40, 38, 36}); diff != "" {
		t.Errorf("unexpected pins: got(-)/want(+):\n%s", diff)
	}
}

func TestSimulator(t *testing.T) {
	s := NewSimulator()
	if err := s.Configure(99, Output); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Configure(99) = %v, want ErrConfiguration", err)
	}
	if err := s.Write(4, High); !errors.Is(err, ErrIO) {
		t.Errorf("Write to unconfigured pin = %v, want ErrIO", err)
	}
	if _, err := s.Read(4); !errors.Is(err, ErrIO) {
		t.Errorf("Read from unconfigured pin = %v, want ErrIO", err)
	}
	if err := s.Configure(4, Input); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(4, High); !errors.Is(err, ErrIO) {
		t.Errorf("Write to input pin = %v, want ErrIO", err)
	}
	if err := s.Configure(4, Output); err != nil {
		t.Fatal(err)
	}
	// Configure is idempotent.
	if err := s.Configure(4, Output); err != nil {
		t.Fatal(err)
	}
	for _, l := range []Level{High, High, Low, High} {
		if err := s.Write(4, l); err != nil {
			t.Fatal(err)
		}
	}
	if got, err := s.Read(4); err != nil || got != High {
		t.Errorf("Read(4) = %v, %v; want high", got, err)
	}
	want := []Event{{4, High}, {4, Low}, {4, High}}
	if diff := cmp.Diff(s.Events(), want); diff != "" {
		t.Errorf("unexpected events: got(-)/want(+):\n%s", diff)
	}
	if n := s.Transitions(4); n != 3 {
		t.Errorf("Transitions(4) = %d, want 3", n)
	}
}

func TestSimulatorFailWrite(t *testing.T) {
	s := NewSimulator()
	s.Configure(2, Output)
	s.FailWrite = func(pin int, level Level) error {
		return errors.New("bus fault")
	}
	if err := s.Write(2, High); !errors.Is(err, ErrIO) {
		t.Errorf("Write = %v, want ErrIO", err)
	}
	if s.Level(2) != Low {
		t.Errorf("failed write was applied")
	}
}
