// Command valvectl sets and watches a valve relay over Modbus TCP.
//
// Usage:
//
//	valvectl [-addr host:port] set <0-100>
//	valvectl [-addr host:port] get
//	valvectl [-addr host:port] watch
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/w1xm/valve_relay/remote"
)

var (
	addr     = flag.String("addr", "127.0.0.1:502", "relay Modbus TCP address")
	register = flag.Int("register", remote.DefaultRegister, "wire address of the position register")
	interval = flag.Duration("interval", 500*time.Millisecond, "poll interval for watch")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] set <0-100> | get | watch\n", os.Args[0])
	flag.PrintDefaults()
}

func formatStatus(s remote.Status) string {
	state := "idle"
	if s.Moving {
		state = fmt.Sprintf("moving to %d", s.Target)
	}
	return fmt.Sprintf("position %d (%s) completed %d failed %d last error %v",
		s.Position, state, s.CompletedMoves, s.FailedMoves, s.LastError)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "set":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		position, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("parsing position %q: %v", args[1], err)
		}
		v, err := remote.Dial(*addr, *register)
		if err != nil {
			log.Fatal(err)
		}
		defer v.Close()
		if err := v.SetPosition(position); err != nil {
			log.Fatal(err)
		}
	case "get":
		v, err := remote.Dial(*addr, *register)
		if err != nil {
			log.Fatal(err)
		}
		defer v.Close()
		s, err := v.ReadStatus()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(formatStatus(s))
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		_, err := remote.Connect(ctx, *addr, *register, *interval, func(s remote.Status) {
			log.Print(formatStatus(s))
		})
		if err != nil {
			log.Fatal(err)
		}
		<-ctx.Done()
	default:
		usage()
		os.Exit(2)
	}
}
