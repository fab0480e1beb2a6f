package historian

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"thermostat/internal/models"
)

func TestNewPoint_LineProtocol(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPoint("living-room", models.Sample{Temperature: 21.5, Humidity: 40, TakenAt: at})

	got := write.PointToLineProtocol(p, time.Second)
	want := "thermostat_readings,device_id=living-room humidity=40,temperature=21.5 1735689600\n"
	if got != want {
		t.Fatalf("line protocol mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestNewPoint_ZeroTimeUsesNow(t *testing.T) {
	before := time.Now()
	p := NewPoint("d1", models.Sample{Temperature: 1, Humidity: 2})
	if p.Time().Before(before) {
		t.Fatalf("expected current time, got %v", p.Time())
	}
}

type influxStub struct {
	mu     sync.Mutex
	writes []string
	query  []string
}

func (s *influxStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/write", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		s.mu.Lock()
		s.writes = append(s.writes, string(body))
		s.query = append(s.query, r.URL.RawQuery)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"influxdb","message":"ready for queries and writes","status":"pass","checks":[],"version":"2.7.0"}`)
	})
	return mux
}

func TestHistorian_WritesOnClose(t *testing.T) {
	stub := &influxStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	h := New(Config{URL: srv.URL, Token: "token", Org: "home", Bucket: "thermostat", BatchSize: 100, FlushInterval: time.Hour}, nil)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h.WriteSample("living-room", models.Sample{Temperature: 21.5, Humidity: 40, TakenAt: at})
	h.Close()
	h.Close()

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.writes) != 1 {
		t.Fatalf("expected one write request, got %d", len(stub.writes))
	}
	if !strings.Contains(stub.writes[0], "thermostat_readings,device_id=living-room") {
		t.Fatalf("unexpected body %q", stub.writes[0])
	}
	if !strings.Contains(stub.query[0], "bucket=thermostat") || !strings.Contains(stub.query[0], "org=home") {
		t.Fatalf("unexpected query %q", stub.query[0])
	}
}

func TestHistorian_Check(t *testing.T) {
	stub := &influxStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	h := New(Config{URL: srv.URL, Token: "token", Org: "home", Bucket: "thermostat"}, nil)
	defer h.Close()

	if err := h.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
}
