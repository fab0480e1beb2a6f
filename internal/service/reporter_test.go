package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"thermostat/internal/logger"
	"thermostat/internal/models"
)

var errSensor = errors.New("invalid sensor reading")

type sampleStub struct {
	samples []models.Sample
	errs    []error
	calls   int
}

func (s *sampleStub) Sample() (models.Sample, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return models.Sample{}, s.errs[i]
	}
	if i < len(s.samples) {
		return s.samples[i], nil
	}
	return s.samples[len(s.samples)-1], nil
}

type senderStub struct {
	err   error
	sent  []models.Sample
	calls int
}

func (s *senderStub) SendTemperatureEvent(_ context.Context, _ string, temperature, humidity float64) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, models.Sample{Temperature: temperature, Humidity: humidity})
	return nil
}

type sinkStub struct {
	got []models.Sample
}

func (s *sinkStub) WriteSample(_ string, sample models.Sample) { s.got = append(s.got, sample) }

type alerterStub struct {
	failing   int
	recovered int
	lastCount int
}

func (a *alerterStub) SensorFailing(_ string, failures int, _ error) {
	a.failing++
	a.lastCount = failures
}

func (a *alerterStub) SensorRecovered(_ string, failures int) {
	a.recovered++
	a.lastCount = failures
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestReporter(cfg ReporterConfig, sensor *sampleStub, sender *senderStub) (*Reporter, *models.DeviceState, *recorderStub) {
	state := &models.DeviceState{DeviceID: "d1"}
	rec := &recorderStub{}
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	return NewReporter(cfg, state, sensor, sender, rec, nil), state, rec
}

func reading(t, h float64) models.Sample { return models.Sample{Temperature: t, Humidity: h} }

func TestReporter_FirstTickIsDue(t *testing.T) {
	t.Parallel()

	sensor := &sampleStub{samples: []models.Sample{reading(0, 0)}}
	sender := &senderStub{}
	r, state, _ := newTestReporter(ReporterConfig{}, sensor, sender)

	if out := r.Tick(context.Background(), t0); out != OutcomeReported {
		t.Fatalf("expected first tick to report, got %v", out)
	}
	if !state.Reported || !state.LastReportAt.Equal(t0) {
		t.Fatalf("state not updated: %+v", state)
	}
}

func TestReporter_IntervalGate(t *testing.T) {
	t.Parallel()

	sensor := &sampleStub{samples: []models.Sample{reading(20, 40), reading(21, 41), reading(22, 42)}}
	sender := &senderStub{}
	r, _, _ := newTestReporter(ReporterConfig{Interval: time.Minute}, sensor, sender)

	r.Tick(context.Background(), t0)
	for _, d := range []time.Duration{time.Millisecond, 30 * time.Second, time.Minute - time.Nanosecond} {
		if out := r.Tick(context.Background(), t0.Add(d)); out != OutcomeIdle {
			t.Fatalf("tick at +%v: expected idle, got %v", d, out)
		}
	}
	if sensor.calls != 1 {
		t.Fatalf("sensor sampled %d times before the interval elapsed", sensor.calls)
	}
	if out := r.Tick(context.Background(), t0.Add(time.Minute)); out != OutcomeReported {
		t.Fatalf("expected report once the interval elapsed, got %v", out)
	}
}

func TestReporter_SensorFailureLeavesStateAndRetriesNextTick(t *testing.T) {
	t.Parallel()

	sensor := &sampleStub{
		samples: []models.Sample{reading(20, 40), {}, reading(21, 40)},
		errs:    []error{nil, errSensor, nil},
	}
	sender := &senderStub{}
	r, state, rec := newTestReporter(ReporterConfig{}, sensor, sender)

	r.Tick(context.Background(), t0)
	before := *state

	due := t0.Add(time.Minute)
	if out := r.Tick(context.Background(), due); out != OutcomeSensorFailed {
		t.Fatalf("expected sensor failure, got %v", out)
	}
	if *state != before {
		t.Fatalf("state changed after sensor failure: %+v", *state)
	}
	if sender.calls != 1 {
		t.Fatalf("no send expected after sensor failure, got %d calls", sender.calls)
	}

	// Default retry policy: the very next tick tries again.
	if out := r.Tick(context.Background(), due.Add(50*time.Millisecond)); out != OutcomeReported {
		t.Fatalf("expected immediate retry to report, got %v", out)
	}

	found := false
	for _, typ := range rec.types() {
		if typ == models.EventSensorError {
			found = true
		}
	}
	if !found {
		t.Fatal("expected SENSOR_ERROR journal entry")
	}
}

func countTypes(rec *recorderStub, typ string) int {
	n := 0
	for _, got := range rec.types() {
		if got == typ {
			n++
		}
	}
	return n
}

func TestReporter_DeadSensorNeverReports(t *testing.T) {
	t.Parallel()

	const ticks = 40
	sensor := &sampleStub{samples: []models.Sample{{}}, errs: make([]error, ticks)}
	for i := range sensor.errs {
		sensor.errs[i] = errSensor
	}
	sender := &senderStub{}
	sink := &sinkStub{}
	core, logs := observer.New(zapcore.DebugLevel)
	state := &models.DeviceState{DeviceID: "d1"}
	rec := &recorderStub{}
	r := NewReporter(ReporterConfig{Interval: time.Minute, FailureThreshold: 10}, state, sensor, sender, rec, logger.FromCore(core))
	r.AddSink(sink)

	now := t0
	for i := 0; i < ticks; i++ {
		if out := r.Tick(context.Background(), now); out != OutcomeSensorFailed {
			t.Fatalf("tick %d: expected sensor failure, got %v", i, out)
		}
		now = now.Add(DefaultPumpInterval)
	}

	if sender.calls != 0 || len(sink.got) != 0 {
		t.Fatalf("nothing may be reported from a dead sensor: sends=%d sink=%d", sender.calls, len(sink.got))
	}
	if *state != (models.DeviceState{DeviceID: "d1"}) {
		t.Fatalf("state changed: %+v", *state)
	}
	if n := logs.FilterMessage("DHT reading failed").Len(); n != ticks {
		t.Fatalf("expected one failure line per tick (%d), got %d", ticks, n)
	}
	// journal: streak start and threshold crossing only
	if n := countTypes(rec, models.EventSensorError); n != 2 {
		t.Fatalf("expected 2 SENSOR_ERROR entries, got %d", n)
	}
}

func TestReporter_SensorRecoveryIsJournaledOnce(t *testing.T) {
	t.Parallel()

	sensor := &sampleStub{
		samples: []models.Sample{{}, {}, {}, reading(20, 40), reading(21, 40)},
		errs:    []error{errSensor, errSensor, errSensor, nil, nil},
	}
	r, _, rec := newTestReporter(ReporterConfig{}, sensor, &senderStub{})

	now := t0
	for i := 0; i < 4; i++ {
		r.Tick(context.Background(), now)
		now = now.Add(DefaultPumpInterval)
	}
	r.Tick(context.Background(), now.Add(time.Minute))

	if n := countTypes(rec, models.EventSensorError); n != 1 {
		t.Fatalf("expected 1 SENSOR_ERROR entry, got %d", n)
	}
	if n := countTypes(rec, models.EventSensorRecovered); n != 1 {
		t.Fatalf("expected 1 SENSOR_RECOVERED entry, got %d", n)
	}
}

func TestReporter_SendFailureStreakJournaledOnce(t *testing.T) {
	t.Parallel()

	samples := make([]models.Sample, 0, 22)
	for i := 0; i < 21; i++ {
		samples = append(samples, reading(21, 40))
	}
	sensor := &sampleStub{samples: append(samples, reading(22, 40))}
	sender := &senderStub{err: errors.New("not connected")}
	r, _, rec := newTestReporter(ReporterConfig{}, sensor, sender)

	now := t0
	for i := 0; i < 20; i++ {
		r.Tick(context.Background(), now)
		now = now.Add(DefaultPumpInterval)
	}
	if sender.calls != 20 {
		t.Fatalf("expected a send attempt per tick, got %d", sender.calls)
	}
	if n := countTypes(rec, models.EventSendError); n != 1 {
		t.Fatalf("expected 1 SEND_ERROR entry, got %d", n)
	}

	sender.err = nil
	r.Tick(context.Background(), now)
	sender.err = errors.New("not connected")
	r.Tick(context.Background(), now.Add(time.Minute))
	if n := countTypes(rec, models.EventSendError); n != 2 {
		t.Fatalf("a new streak should be journaled again, got %d", n)
	}
}

func TestReporter_UnchangedSkipsSend(t *testing.T) {
	t.Parallel()

	sensor := &sampleStub{samples: []models.Sample{reading(21.5, 40), reading(21.5, 40)}}
	sender := &senderStub{}
	r, state, _ := newTestReporter(ReporterConfig{}, sensor, sender)

	r.Tick(context.Background(), t0)
	next := t0.Add(time.Minute)
	if out := r.Tick(context.Background(), next); out != OutcomeUnchanged {
		t.Fatalf("expected unchanged, got %v", out)
	}
	if sender.calls != 1 {
		t.Fatalf("expected no second send, got %d", sender.calls)
	}
	if !state.LastReportAt.Equal(t0) {
		t.Fatalf("timestamp advanced on skip: %v", state.LastReportAt)
	}
}

func TestReporter_EitherValueChangedIsReported(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		next models.Sample
	}{
		{"temperature only", reading(22, 40)},
		{"humidity only", reading(21.5, 45)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sensor := &sampleStub{samples: []models.Sample{reading(21.5, 40), tc.next}}
			sender := &senderStub{}
			r, state, _ := newTestReporter(ReporterConfig{}, sensor, sender)

			r.Tick(context.Background(), t0)
			if out := r.Tick(context.Background(), t0.Add(time.Minute)); out != OutcomeReported {
				t.Fatalf("expected report, got %v", out)
			}
			if state.LastReportedTemperature != tc.next.Temperature || state.LastReportedHumidity != tc.next.Humidity {
				t.Fatalf("unexpected last reported values: %+v", state)
			}
		})
	}
}

func TestReporter_ToleranceSuppressesNoise(t *testing.T) {
	t.Parallel()

	sensor := &sampleStub{samples: []models.Sample{reading(21.5, 40), reading(21.6, 40.1)}}
	sender := &senderStub{}
	r, _, _ := newTestReporter(ReporterConfig{Change: ChangePolicy{Tolerance: 0.2}}, sensor, sender)

	r.Tick(context.Background(), t0)
	if out := r.Tick(context.Background(), t0.Add(time.Minute)); out != OutcomeUnchanged {
		t.Fatalf("expected noise within tolerance to be skipped, got %v", out)
	}
}

func TestReporter_SendFailureLeavesState(t *testing.T) {
	t.Parallel()

	sensor := &sampleStub{samples: []models.Sample{reading(21, 40)}}
	sender := &senderStub{err: errors.New("not connected")}
	r, state, rec := newTestReporter(ReporterConfig{}, sensor, sender)

	if out := r.Tick(context.Background(), t0); out != OutcomeSendFailed {
		t.Fatalf("expected send failure, got %v", out)
	}
	if state.Reported || !state.LastReportAt.IsZero() || state.LastReportedTemperature != 0 {
		t.Fatalf("state changed after failed send: %+v", *state)
	}
	if types := rec.types(); len(types) != 1 || types[0] != models.EventSendError {
		t.Fatalf("expected SEND_ERROR journal entry, got %v", types)
	}

	sender.err = nil
	if out := r.Tick(context.Background(), t0.Add(50*time.Millisecond)); out != OutcomeReported {
		t.Fatalf("expected retry on next tick, got %v", out)
	}
	if !state.LastReportAt.Equal(t0.Add(50 * time.Millisecond)) {
		t.Fatalf("expected timestamp of the successful tick, got %v", state.LastReportAt)
	}
}

func TestReporter_RetryPolicyBacksOff(t *testing.T) {
	t.Parallel()

	sensor := &sampleStub{samples: []models.Sample{reading(21, 40)}}
	sender := &senderStub{err: errors.New("not connected")}
	cfg := ReporterConfig{Retry: RetryPolicy{Initial: time.Second, Max: 4 * time.Second, Multiplier: 2}}
	r, _, _ := newTestReporter(cfg, sensor, sender)

	now := t0
	r.Tick(context.Background(), now) // miss 1, wait 1s

	if out := r.Tick(context.Background(), now.Add(500*time.Millisecond)); out != OutcomeIdle {
		t.Fatalf("expected idle during backoff, got %v", out)
	}
	now = now.Add(time.Second)
	if out := r.Tick(context.Background(), now); out != OutcomeSendFailed { // miss 2, wait 2s
		t.Fatalf("expected retry after 1s, got %v", out)
	}
	if out := r.Tick(context.Background(), now.Add(1500*time.Millisecond)); out != OutcomeIdle {
		t.Fatalf("expected idle, backoff should have doubled, got %v", out)
	}
	now = now.Add(2 * time.Second)
	if out := r.Tick(context.Background(), now); out != OutcomeSendFailed { // miss 3, wait 4s
		t.Fatalf("expected retry after 2s, got %v", out)
	}

	sender.err = nil
	now = now.Add(4 * time.Second)
	if out := r.Tick(context.Background(), now); out != OutcomeReported {
		t.Fatalf("expected report after backoff, got %v", out)
	}
	if r.misses != 0 || !r.nextAttempt.IsZero() {
		t.Fatalf("retry state not reset: misses=%d next=%v", r.misses, r.nextAttempt)
	}
}

func TestReporter_SinksReceiveReportedSamples(t *testing.T) {
	t.Parallel()

	sensor := &sampleStub{samples: []models.Sample{reading(21, 40), reading(21, 40)}}
	sender := &senderStub{}
	r, _, _ := newTestReporter(ReporterConfig{}, sensor, sender)
	sink := &sinkStub{}
	r.AddSink(sink)

	r.Tick(context.Background(), t0)
	r.Tick(context.Background(), t0.Add(time.Minute)) // unchanged

	if len(sink.got) != 1 || sink.got[0].Temperature != 21 {
		t.Fatalf("expected one sample in sink, got %+v", sink.got)
	}
}

func TestReporter_AlertsAfterThresholdAndRecovers(t *testing.T) {
	t.Parallel()

	sensor := &sampleStub{
		samples: []models.Sample{{}, {}, {}, {}, reading(20, 40)},
		errs:    []error{errSensor, errSensor, errSensor, errSensor, nil},
	}
	sender := &senderStub{}
	r, _, _ := newTestReporter(ReporterConfig{FailureThreshold: 3}, sensor, sender)
	alerter := &alerterStub{}
	r.SetAlerter(alerter)

	now := t0
	for i := 0; i < 4; i++ {
		r.Tick(context.Background(), now)
		now = now.Add(50 * time.Millisecond)
	}
	if alerter.failing != 1 || alerter.lastCount != 3 {
		t.Fatalf("expected a single alert at 3 failures, got failing=%d count=%d", alerter.failing, alerter.lastCount)
	}

	r.Tick(context.Background(), now)
	if alerter.recovered != 1 || alerter.lastCount != 4 {
		t.Fatalf("expected one recovery notice after 4 failures, got recovered=%d count=%d", alerter.recovered, alerter.lastCount)
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	if OutcomeReported.String() != "reported" || Outcome(99).String() != "idle" {
		t.Fatal("unexpected outcome names")
	}
}
