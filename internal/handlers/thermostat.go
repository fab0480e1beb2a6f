package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"thermostat/internal/cloud"
	"thermostat/internal/service"

	"github.com/gin-gonic/gin"
)

// commandTimeout bounds the wait for the control loop to dispatch a command.
const commandTimeout = 5 * time.Second

const (
	statusOK       = "ok"
	statusAccepted = "accepted"
	statusRejected = "rejected"

	errGetState        = "failed to load state"
	errStaleState      = "control loop is not responding"
	errSubmitCommand   = "failed to submit command"
	errInboxFull       = "command queue is full, retry later"
	errCommandTimeout  = "command was not dispatched in time"
	errInvalidBodyPref = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// Respond with a status and include current state if available (best-effort).
func (h *Handler) respondWithStatusAndState(c *gin.Context, status string, extra gin.H) {
	ctx := c.Request.Context()
	resp := gin.H{"status": status}
	for k, v := range extra {
		resp[k] = v
	}
	st, err := h.services.Monitoring.GetState(ctx)
	if err == nil {
		resp["state"] = st
	}
	c.JSON(http.StatusOK, resp)
}

// CommandRequest is an exported model for Swagger docs of the command payload.
// The body uses the same format as cloud command messages.
type CommandRequest struct {
	// One of setPowerState, targetTemperature, adjustTargetTemperature, setThermostatMode
	Action string `json:"action" example:"targetTemperature"`
	// {"state":"On"}, {"temperature":22.5} or {"thermostatMode":"HEAT"}
	Value map[string]interface{} `json:"value" swaggertype:"object"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Get thermostat state
// @Tags         thermostat
// @Produce      json
// @Success      200  {object}  models.Snapshot
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/thermostat/state [get]
// @Security     BearerAuth
func (h *Handler) getState(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.services.Monitoring.GetState(ctx)
	if errors.Is(err, service.ErrStaleSnapshot) {
		h.logAndJSONError(c, http.StatusServiceUnavailable, errStaleState, "thermostat_state_stale", err)
		return
	}
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetState, "thermostat_get_state_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Send command
// @Description  Queues a command for the control loop and waits for its acknowledgement.
// @Tags         thermostat
// @Accept       json
// @Produce      json
// @Param        body  body   CommandRequest  true  "Command payload"
// @Success      200   {object}  map[string]interface{}  "status, action, value, state"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Failure      504   {object}  map[string]string
// @Router       /api/v1/thermostat/commands [post]
// @Security     BearerAuth
func (h *Handler) postCommand(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	req, err := cloud.DecodeCommand(body)
	if err != nil {
		if h.log != nil {
			h.log.Infow("thermostat_bad_command", "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := req.Command
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()
	ack, err := h.services.Thermostat.Submit(ctx, cmd)
	switch {
	case errors.Is(err, cloud.ErrInboxFull):
		h.logAndJSONError(c, http.StatusServiceUnavailable, errInboxFull, "thermostat_inbox_full", err, "action", cmd.Action())
		return
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.logAndJSONError(c, http.StatusGatewayTimeout, errCommandTimeout, "thermostat_command_timeout", err, "action", cmd.Action())
		return
	case err != nil:
		h.logAndJSONError(c, http.StatusInternalServerError, errSubmitCommand, "thermostat_submit_failed", err, "action", cmd.Action())
		return
	}

	status := statusAccepted
	if !ack.Accepted {
		status = statusRejected
	}
	if h.log != nil {
		h.log.Infow("thermostat_command", "username", c.GetString(usernameKey), "action", cmd.Action(), "status", status)
	}
	h.respondWithStatusAndState(c, status, gin.H{
		"action": cmd.Action(),
		"value":  cloud.CommandValue(cmd),
	})
}
