package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"thermostat/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
)

// logsQuery is the query string of the journal endpoints.
type logsQuery struct {
	From  string   `form:"from"`
	To    string   `form:"to"`
	Types []string `form:"type"`
	Limit int      `form:"limit"`
}

// window parses From/To. A date-only To covers that whole day.
func (q logsQuery) window() (from, to time.Time, err error) {
	if q.From != "" {
		if from, err = parseQueryTime(q.From); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("'from': %w", err)
		}
	}
	if q.To != "" {
		if to, err = parseQueryTime(q.To); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("'to': %w", err)
		}
		if isDateOnly(q.To) {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
	}
	return from, to, nil
}

// types accepts both repeated ?type= and comma separated lists.
func (q logsQuery) types() []string {
	var out []string
	for _, v := range q.Types {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func (h *Handler) bindLogsQuery(c *gin.Context) (logsQuery, time.Time, time.Time, bool) {
	var q logsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query: " + err.Error()})
		return logsQuery{}, time.Time{}, time.Time{}, false
	}
	from, to, err := q.window()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + err.Error()})
		return logsQuery{}, time.Time{}, time.Time{}, false
	}
	return q, from, to, true
}

// @Summary      List journal entries
// @Description  Times accept RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD'; a date-only 'to' covers the whole day.
// @Tags         logs
// @Produce      json
// @Param        from   query   string  false  "Start of range"  example(2026-08-01)
// @Param        to     query   string  false  "End of range"  example(2026-08-31)
// @Param        type   query   []string  false  "Event types, repeated or comma separated"  Enums(BOOT,COMMAND,TELEMETRY,SENSOR_ERROR,SENSOR_RECOVERED,SEND_ERROR,CONNECTED,DISCONNECTED)
// @Param        limit  query   int     false  "Newest N entries (max 1000)"
// @Success      200   {object}  map[string]interface{}  "count, events"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/logs [get]
// @Security     BearerAuth
func (h *Handler) getLogs(c *gin.Context) {
	q, from, to, ok := h.bindLogsQuery(c)
	if !ok {
		return
	}
	filter := service.LogFilter{From: from, To: to, Types: q.types(), Limit: q.Limit}

	events, err := h.services.EventLog.List(c.Request.Context(), filter)
	if errors.Is(err, service.ErrInvalidLogFilter) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load logs", "logs_list_failed", err,
			"from", from, "to", to, "types", filter.Types)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

// @Summary      Journal summary
// @Description  Number of journal entries per event type in the range.
// @Tags         logs
// @Produce      json
// @Param        from  query   string  false  "Start of range"
// @Param        to    query   string  false  "End of range"
// @Success      200   {object}  service.LogSummary
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/logs/summary [get]
// @Security     BearerAuth
func (h *Handler) getLogSummary(c *gin.Context) {
	_, from, to, ok := h.bindLogsQuery(c)
	if !ok {
		return
	}
	sum, err := h.services.EventLog.Summary(c.Request.Context(), from, to)
	if errors.Is(err, service.ErrInvalidLogFilter) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to summarize logs", "logs_summary_failed", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// isDateOnly reports whether s has no time component.
func isDateOnly(s string) bool {
	return !strings.ContainsAny(s, "T ")
}

func parseQueryTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, layoutDateTime, layoutDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD'", s)
}
