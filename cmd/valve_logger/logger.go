// Command valve_logger records valve relay status in InfluxDB.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/influxdata/influxdb-client-go/api/write"
)

// valveStatus is the JSON form of the relay's actuator status.
type valveStatus struct {
	Position int
	Target   int
	State    string
	Plan     struct {
		Direction int
		Pulses    int
	}
	CompletedMoves uint64
	FailedMoves    uint64
	RejectedMoves  uint64
	LastErrorCode  string
	LastChange     time.Time
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	client := influxdb2.NewClient(getenv("INFLUX_SERVER", "http://localhost:9999"), os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	writeApi := client.WriteApi(getenv("INFLUX_ORG", "w1xm"), getenv("INFLUX_BUCKET", "valve.raw"))
	defer writeApi.Close()
	go func() {
		for err := range writeApi.Errors() {
			log.Printf("write error: %v", err)
		}
	}()
	relay := getenv("RELAY_ADDRESS", "ws://localhost:8502/api/ws")
	for {
		if err := logData(writeApi, relay); err != nil {
			log.Print(err)
		}
		time.Sleep(1 * time.Second)
	}
}

// statusPoint tags each sample with the relay and its state so moves and
// failures can be grouped without a join.
func statusPoint(relay string, s valveStatus) *write.Point {
	ts := s.LastChange
	if ts.IsZero() {
		ts = time.Now()
	}
	direction := "open"
	if s.Plan.Direction != 0 {
		direction = "close"
	}
	return influxdb2.NewPoint("valve.status",
		map[string]string{
			"relay":      relay,
			"state":      s.State,
			"last_error": s.LastErrorCode,
		},
		map[string]interface{}{
			"position":        s.Position,
			"target":          s.Target,
			"moving":          s.State == "MOVING",
			"plan_direction":  direction,
			"plan_pulses":     s.Plan.Pulses,
			"completed_moves": int64(s.CompletedMoves),
			"failed_moves":    int64(s.FailedMoves),
			"rejected_moves":  int64(s.RejectedMoves),
		},
		ts,
	)
}

func logData(writeApi api.WriteApi, url string) error {
	defer writeApi.Flush()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dialing %q: %w", url, err)
	}
	defer conn.Close()
	for {
		var status valveStatus
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		writeApi.WritePoint(statusPoint(url, status))
	}
}
