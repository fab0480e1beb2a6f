package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"thermostat/internal/models"
	"thermostat/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	genTokenToken string
	genTokenErr   error
	parseUsername string
	parseErr      error

	lastGenUsername string
	lastGenPassword string
	lastParseToken  string
}

func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (string, error) {
	m.lastParseToken = token
	return m.parseUsername, m.parseErr
}

// mockThermostat acknowledges commands the way the dispatcher does for the
// adjust variant: it rewrites the delta to an absolute target.
type mockThermostat struct {
	mu        sync.Mutex
	ack       models.Ack
	err       error
	target    float64
	submitted []models.Command
}

func (m *mockThermostat) Submit(ctx context.Context, cmd models.Command) (models.Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, cmd)
	if m.err != nil {
		return models.Ack{}, m.err
	}
	if adj, ok := cmd.(*models.AdjustTemperatureCommand); ok {
		m.target += adj.Delta
		adj.Delta = m.target
	}
	return m.ack, nil
}

type mockMonitoring struct {
	mu    sync.Mutex
	state models.Snapshot
	err   error
	calls int
}

func (m *mockMonitoring) GetState(ctx context.Context) (models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.state, m.err
}

func (m *mockMonitoring) set(fn func(s *models.Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.state)
}

func (m *mockMonitoring) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockEventLog struct {
	resp       []models.DeviceEvent
	summary    service.LogSummary
	err        error
	lastFilter service.LogFilter
	lastFrom   time.Time
	lastTo     time.Time
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.DeviceEvent, error) {
	m.lastFilter = f
	return m.resp, m.err
}

func (m *mockEventLog) Summary(ctx context.Context, from, to time.Time) (service.LogSummary, error) {
	m.lastFrom, m.lastTo = from, to
	return m.summary, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
