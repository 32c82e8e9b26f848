package modbus

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/goburrow/modbus"
)

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type Client struct {
	// Addr creates a Modbus TCP connection
	Addr string
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 19200
	BaudRate int
	SlaveId  byte
	// Timeout defaults to 1s
	Timeout time.Duration

	// Poll function to be called in a loop while the connection is active
	Poll func() error
	// PollInterval is the pause between calls to Poll
	PollInterval time.Duration

	handler modbusHandler
	modbus.Client
}

func (c *Client) name() string {
	if c.Addr != "" {
		return c.Addr
	}
	return c.Port
}

func (c *Client) init() {
	if c.handler != nil {
		return
	}
	if c.Timeout == 0 {
		c.Timeout = 1 * time.Second
	}
	if c.Addr != "" {
		handler := modbus.NewTCPClientHandler(c.Addr)
		handler.Timeout = c.Timeout
		handler.SlaveId = c.SlaveId
		c.handler = handler
	} else {
		handler := modbus.NewRTUClientHandler(c.Port)
		handler.BaudRate = c.BaudRate
		if handler.BaudRate == 0 {
			handler.BaudRate = 19200
		}
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
		handler.Timeout = c.Timeout
		handler.SlaveId = c.SlaveId
		c.handler = handler
	}
	c.Client = modbus.NewClient(c.handler)
}

// Dial opens the connection once, for callers that issue a few requests and exit.
func (c *Client) Dial() error {
	c.init()
	return c.handler.Connect()
}

func (c *Client) Close() error {
	if c.handler == nil {
		return nil
	}
	return c.handler.Close()
}

// Connect starts a background loop that keeps the connection open and calls
// Poll until ctx is canceled.
func (c *Client) Connect(ctx context.Context) error {
	c.init()
	go c.reconnectLoop(ctx)
	return nil
}

func (c *Client) reconnectLoop(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.NextBackOff()):
		}

		err := c.handler.Connect()
		if err != nil {
			log.Printf("opening %q: %v", c.name(), err)
			continue
		}
		b.Reset()
		if err := c.watch(ctx); err != nil && ctx.Err() == nil {
			log.Printf("watching %q: %v", c.name(), err)
		}
	}
}

func (c *Client) watch(ctx context.Context) error {
	defer c.handler.Close()
	for {
		if err := c.Poll(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

func (c *Client) WriteRegister(register int, value uint16) error {
	_, err := c.WriteSingleRegister(uint16(register), value)
	return err
}
