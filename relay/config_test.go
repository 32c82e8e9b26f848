package relay

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/valve_relay/gpio"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "valve_relay.yml")
	if err := ioutil.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, DefaultConfig()); diff != "" {
		t.Errorf("unexpected config: got(-)/want(+):\n%s", diff)
	}
	if diff := cmp.Diff(c.GPIO.Pins(), gpio.PinSet{21, 20, 16}); diff != "" {
		t.Errorf("unexpected pins: got(-)/want(+):\n%s", diff)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
addr: 127.0.0.1:5020
zero_mode: true
monitored_address: 3
half_cycle: 2ms
serial:
  port: /dev/ttyUSB0
gpio:
  driver: sim
  close_high: false
`)
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultConfig()
	want.Addr = "127.0.0.1:5020"
	want.ZeroMode = true
	want.MonitoredAddress = 3
	want.HalfCycle = 2 * time.Millisecond
	want.Serial.Port = "/dev/ttyUSB0"
	want.GPIO.Driver = "sim"
	want.GPIO.CloseHigh = false
	if diff := cmp.Diff(c, want); diff != "" {
		t.Errorf("unexpected config: got(-)/want(+):\n%s", diff)
	}
	if c.GPIO.CloseLevel() != gpio.Low {
		t.Errorf("CloseLevel() = %v, want low", c.GPIO.CloseLevel())
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	for _, body := range []string{
		"monitored_address: 100\n",
		"block_size: 3\n",
		"steps_per_unit: 0\n",
		"gpio:\n  driver: wiringpi\n",
		"gpio:\n  step: 16\n",
		"addr: \"\"\n",
	} {
		if _, err := LoadConfig(writeConfig(t, body)); err == nil {
			t.Errorf("LoadConfig(%q) succeeded", body)
		}
	}
}
