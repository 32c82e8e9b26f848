// Command valve_relay serves a Modbus slave whose position register drives a
// stepper valve through GPIO.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/w1xm/valve_relay/gpio"
	"github.com/w1xm/valve_relay/relay"
	"github.com/w1xm/valve_relay/scpv"
	"golang.org/x/sync/errgroup"
	yml "gopkg.in/yaml.v2"
)

var (
	configFile = flag.String("config", "valve_relay.yml", "path to YAML config")
	printConf  = flag.Bool("printconf", false, "print the effective config and exit")
)

func openDriver(cfg relay.GPIOConfig) (gpio.Driver, func(), error) {
	switch cfg.Driver {
	case "sim":
		return gpio.NewSimulator(), func() {}, nil
	default:
		d, err := gpio.OpenRPIO()
		if err != nil {
			return nil, nil, err
		}
		return d, func() {
			if err := d.Close(); err != nil {
				log.Printf("closing gpio: %v", err)
			}
		}, nil
	}
}

func main() {
	flag.Parse()
	cfg, err := relay.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	if *printConf {
		if err := yml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			log.Fatal(err)
		}
		return
	}

	drv, closeDriver, err := openDriver(cfg.GPIO)
	if err != nil {
		log.Fatal(err)
	}
	defer closeDriver()

	server := NewServer(scpv.Status{})
	r, err := relay.New(cfg, drv, nil, server.statusCallback)
	if err != nil {
		log.Fatal(err)
	}
	server.statusCallback(r.Status())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(ctx)
	})
	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Handler: server.Router(),
			Addr:    cfg.HTTPAddr,
			// Status sockets are long lived, so only the header read is bounded.
			ReadHeaderTimeout: 15 * time.Second,
		}
		g.Go(func() error {
			log.Printf("Listening on %v", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}
	if err := g.Wait(); err != nil {
		closeDriver()
		log.Fatal(err)
	}
}
