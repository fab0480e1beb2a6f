package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type mailerStub struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
	err      error
}

func (m *mailerStub) Send(_ context.Context, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	m.bodies = append(m.bodies, body)
	return m.err
}

func TestAlerter_SendsFailureAndRecovery(t *testing.T) {
	stub := &mailerStub{}
	a := NewAlerter(stub, nil)

	a.SensorFailing("living-room", 10, errors.New("checksum mismatch"))
	a.Wait()
	a.SensorRecovered("living-room", 12)
	a.Wait()

	if len(stub.subjects) != 2 {
		t.Fatalf("expected 2 mails, got %d", len(stub.subjects))
	}
	if !strings.Contains(stub.subjects[0], "sensor failing") || !strings.Contains(stub.bodies[0], "checksum mismatch") {
		t.Fatalf("unexpected failure mail: %q / %q", stub.subjects[0], stub.bodies[0])
	}
	if !strings.Contains(stub.subjects[1], "recovered") || !strings.Contains(stub.bodies[1], "12 failed attempts") {
		t.Fatalf("unexpected recovery mail: %q / %q", stub.subjects[1], stub.bodies[1])
	}
}

func TestAlerter_SendErrorIsLoggedOnly(t *testing.T) {
	stub := &mailerStub{err: errors.New("unauthorized")}
	a := NewAlerter(stub, nil)

	a.SensorFailing("d1", 3, errors.New("timeout"))
	a.Wait()

	if len(stub.subjects) != 1 {
		t.Fatalf("expected one attempt, got %d", len(stub.subjects))
	}
}

func TestNewMailgun_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  MailgunConfig
	}{
		{"missing domain", MailgunConfig{APIKey: "key", Recipients: []string{"a@b.c"}}},
		{"missing key", MailgunConfig{Domain: "mg.example.com", Recipients: []string{"a@b.c"}}},
		{"missing recipients", MailgunConfig{Domain: "mg.example.com", APIKey: "key"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMailgun(tt.cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMailgunMailer_Send(t *testing.T) {
	var gotPath, gotSubject string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			_ = r.ParseForm()
		}
		gotSubject = r.FormValue("subject")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Queued. Thank you.","id":"<20250101.1@mg.example.com>"}`))
	}))
	defer srv.Close()

	m, err := NewMailgun(MailgunConfig{
		Domain:     "mg.example.com",
		APIKey:     "key",
		Sender:     "thermostat@mg.example.com",
		Recipients: []string{"ops@example.com"},
		APIBase:    srv.URL,
	})
	if err != nil {
		t.Fatalf("NewMailgun: %v", err)
	}

	if err := m.Send(context.Background(), "hello", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/mg.example.com/messages" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotSubject != "hello" {
		t.Fatalf("unexpected subject %q", gotSubject)
	}
}
