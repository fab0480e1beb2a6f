package service

import (
	"context"
	"time"

	"thermostat/internal/logger"
	"thermostat/internal/models"

	"github.com/google/uuid"
)

// DefaultReportInterval is the minimum time between two reports.
const DefaultReportInterval = 60 * time.Second

// SampleSource is satisfied by sensor.Reader.
type SampleSource interface {
	Sample() (models.Sample, error)
}

// TemperatureSender is satisfied by cloud.Session.
type TemperatureSender interface {
	SendTemperatureEvent(ctx context.Context, deviceID string, temperature, humidity float64) error
}

// Sink receives every successfully reported sample. WriteSample must not block.
type Sink interface {
	WriteSample(deviceID string, s models.Sample)
}

// Alerter is told about sustained sensor failure and the following recovery.
// Calls must not block.
type Alerter interface {
	SensorFailing(deviceID string, failures int, cause error)
	SensorRecovered(deviceID string, failures int)
}

// Outcome is the result of one Tick.
type Outcome int

const (
	OutcomeIdle Outcome = iota
	OutcomeSensorFailed
	OutcomeUnchanged
	OutcomeReported
	OutcomeSendFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSensorFailed:
		return "sensor_failed"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeReported:
		return "reported"
	case OutcomeSendFailed:
		return "send_failed"
	default:
		return "idle"
	}
}

type ReporterConfig struct {
	Interval         time.Duration
	Change           ChangePolicy
	Retry            RetryPolicy
	FailureThreshold int // consecutive sensor failures before alerting, 0 disables
}

// Reporter samples the sensor at most once per Interval and reports readings
// that changed. It is driven by Tick from the loop goroutine and is either
// idle or sampling; a sampling cycle always ends within the same Tick.
type Reporter struct {
	cfg     ReporterConfig
	state   *models.DeviceState
	sensor  SampleSource
	sender  TemperatureSender
	journal Recorder
	sinks   []Sink
	alerter Alerter
	log     *logger.Logger

	misses         int       // consecutive cycles that ended without a report
	nextAttempt    time.Time // earliest retry after a miss
	sensorFailures int
	sendFailures   int
	alerted        bool
}

func NewReporter(cfg ReporterConfig, state *models.DeviceState, sensor SampleSource, sender TemperatureSender, journal Recorder, log *logger.Logger) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReportInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Reporter{
		cfg:     cfg,
		state:   state,
		sensor:  sensor,
		sender:  sender,
		journal: journal,
		log:     log,
	}
}

// AddSink mirrors reported samples to s.
func (r *Reporter) AddSink(s Sink) {
	r.sinks = append(r.sinks, s)
}

func (r *Reporter) SetAlerter(a Alerter) {
	r.alerter = a
}

// Due reports whether a sampling cycle would start at now.
func (r *Reporter) Due(now time.Time) bool {
	if !r.state.LastReportAt.IsZero() && now.Sub(r.state.LastReportAt) < r.cfg.Interval {
		return false
	}
	return !now.Before(r.nextAttempt)
}

// Tick runs one sampling cycle if one is due. Device state changes only after
// a successful send.
func (r *Reporter) Tick(ctx context.Context, now time.Time) Outcome {
	if !r.Due(now) {
		return OutcomeIdle
	}

	sample, err := r.sensor.Sample()
	if err != nil {
		r.log.Warnw("DHT reading failed", "device_id", r.state.DeviceID, "err", err)
		r.sensorFailed(now, err)
		r.miss(now, false)
		return OutcomeSensorFailed
	}
	r.sensorOK(now)

	if r.state.Reported && r.cfg.Change.Unchanged(
		r.state.LastReportedTemperature, r.state.LastReportedHumidity,
		sample.Temperature, sample.Humidity,
	) {
		r.log.Debugw("reading unchanged, not reported",
			"temperature", sample.Temperature, "humidity", sample.Humidity)
		r.miss(now, true)
		return OutcomeUnchanged
	}

	if err := r.sender.SendTemperatureEvent(ctx, r.state.DeviceID, sample.Temperature, sample.Humidity); err != nil {
		r.log.Errorw("could not send temperature event", "device_id", r.state.DeviceID, "err", err)
		r.sendFailures++
		if r.sendFailures == 1 {
			r.record(now, models.EventSendError, "telemetry send failed", map[string]any{
				"temperature": sample.Temperature,
				"humidity":    sample.Humidity,
				"error":       err.Error(),
			})
		}
		r.miss(now, false)
		return OutcomeSendFailed
	}

	r.state.LastReportedTemperature = sample.Temperature
	r.state.LastReportedHumidity = sample.Humidity
	r.state.LastReportAt = now
	r.state.Reported = true
	r.misses = 0
	r.sendFailures = 0
	r.nextAttempt = time.Time{}

	r.log.Infow("Temperature reported",
		"temperature", sample.Temperature,
		"humidity", sample.Humidity,
	)
	r.record(now, models.EventTelemetry, "reading reported", map[string]any{
		"temperature": sample.Temperature,
		"humidity":    sample.Humidity,
	})
	for _, s := range r.sinks {
		s.WriteSample(r.state.DeviceID, sample)
	}
	return OutcomeReported
}

// miss schedules the next attempt. An unchanged reading waits one retry step
// without growing the delay.
func (r *Reporter) miss(now time.Time, unchanged bool) {
	if unchanged {
		r.nextAttempt = now.Add(r.cfg.Retry.Delay(1))
		return
	}
	r.misses++
	r.nextAttempt = now.Add(r.cfg.Retry.Delay(r.misses))
}

// sensorFailed journals the first failure of a streak and the threshold
// crossing. A dead sensor fails every tick, so per-tick entries only go to
// the log.
func (r *Reporter) sensorFailed(now time.Time, cause error) {
	r.sensorFailures++
	crossed := r.cfg.FailureThreshold > 0 && r.sensorFailures == r.cfg.FailureThreshold
	if r.sensorFailures == 1 || crossed {
		r.record(now, models.EventSensorError, "sensor reading failed", map[string]any{
			"consecutive_failures": r.sensorFailures,
			"error":                cause.Error(),
		})
	}

	if r.alerter == nil || r.alerted || !crossed {
		return
	}
	r.alerted = true
	r.alerter.SensorFailing(r.state.DeviceID, r.sensorFailures, cause)
}

func (r *Reporter) sensorOK(now time.Time) {
	if r.sensorFailures == 0 {
		return
	}
	r.record(now, models.EventSensorRecovered, "sensor reading recovered", map[string]any{
		"consecutive_failures": r.sensorFailures,
	})
	if r.alerted && r.alerter != nil {
		r.alerter.SensorRecovered(r.state.DeviceID, r.sensorFailures)
	}
	r.alerted = false
	r.sensorFailures = 0
}

func (r *Reporter) record(now time.Time, typ, desc string, meta map[string]any) {
	if r.journal == nil {
		return
	}
	r.journal.Record(models.DeviceEvent{
		EventID:     uuid.NewString(),
		OccurredAt:  now.UTC(),
		Type:        typ,
		Description: desc,
		Metadata:    meta,
	})
}
