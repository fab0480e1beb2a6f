package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"thermostat/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxMsgSize   = 1 << 12 // 4 KB
	pollDefault  = 1 * time.Second
	pollMax      = 10 * time.Second
	pollMaxMilli = 10_000
)

// wsEnvelope is the frame format of the snapshot stream.
type wsEnvelope struct {
	Type  string      `json:"type"` // "snapshot" | "error"
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// checkOrigin admits clients without an Origin header, same-origin pages and
// the configured cors_origins. CORS middleware does not see upgrade requests,
// so the stream enforces the list itself.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// snapshotStream pushes the loop snapshot to one client whenever the device
// state differs from what the client last saw.
type snapshotStream struct {
	h    *Handler
	conn *websocket.Conn
	last *models.Snapshot
}

// @Summary      Snapshot stream
// @Description  WebSocket. Sends a snapshot on connect and then whenever the state changes, checked every interval.
// @Tags         thermostat
// @Param        interval     query  string  false  "Poll interval, e.g. 500ms (max 10s)"
// @Param        interval_ms  query  int     false  "Poll interval in milliseconds"
// @Router       /ws [get]
func (h *Handler) wsConnect(c *gin.Context) {
	interval := h.parseInterval(c)

	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "origin", c.GetHeader("Origin"), "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.drainReads(conn, done)

	s := &snapshotStream{h: h, conn: conn}
	ctx := c.Request.Context()
	if err := s.push(ctx); err != nil {
		if h.log != nil {
			h.log.Infow("ws_write_failed_initial", "err", err)
		}
		return
	}

	poll := time.NewTicker(interval)
	ping := time.NewTicker(pingPeriod)
	defer poll.Stop()
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if h.log != nil {
					h.log.Infow("ws_ping_failed", "err", err)
				}
				return
			}
		case <-poll.C:
			if err := s.push(ctx); err != nil {
				if h.log != nil {
					h.log.Infow("ws_write_failed", "err", err)
				}
				return
			}
		}
	}
}

// push sends the current snapshot if it changed since the last frame. A
// failed state lookup is reported to the client once and ends the stream.
func (s *snapshotStream) push(ctx context.Context) error {
	snap, err := s.h.services.Monitoring.GetState(ctx)
	if err != nil {
		if s.h.log != nil {
			s.h.log.Errorw("ws_get_state_failed", "err", err)
		}
		_ = s.write(wsEnvelope{Type: "error", Error: errGetState})
		return err
	}
	if s.last != nil && sameState(*s.last, snap) {
		return nil
	}
	if err := s.write(wsEnvelope{Type: "snapshot", Data: snap}); err != nil {
		return err
	}
	s.last = &snap
	return nil
}

func (s *snapshotStream) write(env wsEnvelope) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(env)
}

// sameState compares snapshots ignoring UpdatedAt, which moves every loop
// iteration.
func sameState(a, b models.Snapshot) bool {
	return a.DeviceID == b.DeviceID &&
		a.PowerOn == b.PowerOn &&
		a.TargetTemperature == b.TargetTemperature &&
		a.Connected == b.Connected &&
		equalFloatPtr(a.Temperature, b.Temperature) &&
		equalFloatPtr(a.Humidity, b.Humidity) &&
		equalTimePtr(a.LastReportAt, b.LastReportAt)
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// parseInterval reads ?interval=2s or ?interval_ms=2000 within bounds.
func (h *Handler) parseInterval(c *gin.Context) time.Duration {
	if s := c.Query("interval"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 && d <= pollMax {
			return d
		}
	}
	if ms := c.Query("interval_ms"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 && v <= pollMaxMilli {
			return time.Duration(v) * time.Millisecond
		}
	}
	return pollDefault
}

// drainReads consumes client frames so control frames are processed, and
// closes done when the client goes away.
func (h *Handler) drainReads(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if h.log != nil {
				h.log.Infow("ws_read_closed", "err", err)
			}
			return
		}
	}
}
