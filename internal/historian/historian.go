// Package historian mirrors reported readings into InfluxDB.
package historian

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"thermostat/internal/logger"
	"thermostat/internal/models"
)

// Measurement is the InfluxDB measurement name for thermostat readings.
const Measurement = "thermostat_readings"

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	BatchSize     uint // points per write, default 20
	FlushInterval time.Duration
}

// Historian writes samples through the non-blocking WriteAPI; points are
// batched and sent by the client's own goroutine.
type Historian struct {
	client influxdb2.Client
	writer api.WriteAPI
	log    *logger.Logger

	errsDone chan struct{}
	once     sync.Once
}

func New(cfg Config, log *logger.Logger) *Historian {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 20
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval / time.Millisecond))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	writer := client.WriteAPI(cfg.Org, cfg.Bucket)

	h := &Historian{client: client, writer: writer, log: log, errsDone: make(chan struct{})}
	errs := writer.Errors()
	go func() {
		defer close(h.errsDone)
		for err := range errs {
			h.log.Warnw("influx write failed", "bucket", cfg.Bucket, "err", err)
		}
	}()
	return h
}

// Check asks the server for its health status.
func (h *Historian) Check(ctx context.Context) error {
	health, err := h.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influx health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influx health check failed: %s %s", health.Status, msg)
	}
	return nil
}

// WriteSample queues one reading. It never blocks on the network.
func (h *Historian) WriteSample(deviceID string, s models.Sample) {
	h.writer.WritePoint(NewPoint(deviceID, s))
}

// Close flushes pending points and releases the client.
func (h *Historian) Close() {
	h.once.Do(func() {
		h.writer.Flush()
		h.client.Close()
		select {
		case <-h.errsDone:
		case <-time.After(time.Second):
		}
	})
}

// NewPoint builds the point stored for one reading.
func NewPoint(deviceID string, s models.Sample) *write.Point {
	at := s.TakenAt
	if at.IsZero() {
		at = time.Now()
	}
	return influxdb2.NewPoint(
		Measurement,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"temperature": s.Temperature,
			"humidity":    s.Humidity,
		},
		at,
	)
}
