package remote

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/valve_relay/gpio"
	"github.com/w1xm/valve_relay/relay"
	"github.com/w1xm/valve_relay/scpv"
)

func startRelay(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	cfg := relay.DefaultConfig()
	cfg.Addr = addr
	cfg.GPIO.Driver = "sim"
	cfg.HalfCycle = 10 * time.Microsecond
	r, err := relay.New(cfg, gpio.NewSimulator(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return addr
}

func dial(t *testing.T, addr string) *Valve {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		v, err := Dial(addr, DefaultRegister)
		if err == nil {
			t.Cleanup(func() { v.Close() })
			return v
		}
		if time.Now().After(deadline) {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSetPosition(t *testing.T) {
	v := dial(t, startRelay(t))
	if err := v.SetPosition(30); err != nil {
		t.Fatal(err)
	}
	if p, err := v.Position(); err != nil || p != 30 {
		t.Errorf("Position() = %d, %v; want 30", p, err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		s, err := v.ReadStatus()
		if err != nil {
			t.Fatal(err)
		}
		if s.CompletedMoves == 1 {
			want := Status{Position: 30, Target: 30, CompletedMoves: 1}
			if diff := cmp.Diff(s, want); diff != "" {
				t.Errorf("unexpected status: got(-)/want(+):\n%s", diff)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("move never completed: %+v", s)
		}
		time.Sleep(5 * time.Millisecond)
	}

	var ipe *scpv.InvalidPositionError
	if err := v.SetPosition(101); !errors.As(err, &ipe) {
		t.Errorf("SetPosition(101) = %v, want InvalidPositionError", err)
	}
}

func TestConnectPolls(t *testing.T) {
	addr := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	statuses := make(chan Status, 16)
	_, err := Connect(ctx, addr, DefaultRegister, 5*time.Millisecond, func(s Status) {
		select {
		case statuses <- s:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	dial(t, addr).SetPosition(5)
	timeout := time.After(10 * time.Second)
	for {
		select {
		case s := <-statuses:
			if s.Position == 5 && !s.Moving {
				return
			}
		case <-timeout:
			t.Fatal("no status with position 5")
		}
	}
}
