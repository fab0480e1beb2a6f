package cloud

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"thermostat/internal/logger"
	"thermostat/internal/models"
)

const (
	topicCommands     = "commands"
	topicResponses    = "responses"
	topicEvents       = "events"
	topicShadow       = "shadow"
	topicAvailability = "availability"
)

// MQTTConfig locates the broker and names this client.
type MQTTConfig struct {
	Broker         string
	TopicPrefix    string
	ClientName     string
	SendTimeout    time.Duration
	ConnectTimeout time.Duration
}

// connection is the part of autopaho.ConnectionManager the session uses.
type connection interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Subscribe(ctx context.Context, s *paho.Subscribe) (*paho.Suback, error)
	AwaitConnection(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// MQTTSession implements Session over an MQTT v5 broker.
type MQTTSession struct {
	cfg   MQTTConfig
	inbox *Inbox
	log   *logger.Logger
	now   func() time.Time

	mu             sync.Mutex
	handlers       map[string]Handler
	onUp           []func()
	onDown         []func()
	restore        bool
	restoreArmed   bool // restore is a boot-time step, armed on the first connection only
	restorePending map[string]bool
	conn           connection
	ctx            context.Context

	connected atomic.Bool

	// loop goroutine only
	shadows map[string]*Shadow
	dirty   map[string]bool // shadow changed but not yet published
}

func NewMQTTSession(cfg MQTTConfig, inbox *Inbox, log *logger.Logger) *MQTTSession {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "thermostat"
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MQTTSession{
		cfg:            cfg,
		inbox:          inbox,
		log:            log,
		now:            time.Now,
		handlers:       make(map[string]Handler),
		restorePending: make(map[string]bool),
		shadows:        make(map[string]*Shadow),
		dirty:          make(map[string]bool),
		ctx:            context.Background(),
	}
}

func (s *MQTTSession) Register(deviceID string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[deviceID] = h
}

func (s *MQTTSession) OnConnected(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUp = append(s.onUp, fn)
}

func (s *MQTTSession) OnDisconnected(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDown = append(s.onDown, fn)
}

func (s *MQTTSession) RestoreDeviceStates(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restore = enabled
}

func (s *MQTTSession) Connected() bool {
	return s.connected.Load()
}

// Begin starts the connection manager. An unreachable broker is not an error:
// autopaho keeps retrying in the background and Connected reports false.
func (s *MQTTSession) Begin(ctx context.Context, appKey, appSecret string) error {
	brokerURL, err := url.Parse(s.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	if brokerURL.Host == "" {
		return fmt.Errorf("parse mqtt broker URL: missing host in %q", s.cfg.Broker)
	}

	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	clientID := fmt.Sprintf("thermostat-%s-%s", s.cfg.ClientName, uuid.NewString()[:8])
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: appKey,
		ConnectPassword: []byte(appSecret),
		WillMessage: &paho.WillMessage{
			Topic:   s.topic(s.cfg.ClientName, topicAvailability),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			s.connectionUp(ctx, cm)
		},
		OnConnectError: func(err error) {
			s.log.Warnw("cloud connection error", "broker", s.cfg.Broker, "err", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					s.receive(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				s.connectionDown("client error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				s.connectionDown("server disconnect", fmt.Errorf("reason code %d", d.ReasonCode))
			},
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	s.mu.Lock()
	s.conn = cm
	s.mu.Unlock()

	s.log.Infow("cloud session started", "broker", s.cfg.Broker, "client_id", clientID)

	connCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		s.log.Warnw("cloud connection not up yet, retrying in background", "err", err)
	}
	return nil
}

func (s *MQTTSession) connectionUp(ctx context.Context, conn connection) {
	s.mu.Lock()
	restore := s.restore && !s.restoreArmed
	if restore {
		s.restoreArmed = true
	}
	devices := make([]string, 0, len(s.handlers))
	for id := range s.handlers {
		devices = append(devices, id)
		if restore {
			s.restorePending[id] = true
		}
	}
	callbacks := append([]func(){}, s.onUp...)
	s.mu.Unlock()

	subs := make([]paho.SubscribeOptions, 0, 2*len(devices))
	for _, id := range devices {
		subs = append(subs, paho.SubscribeOptions{Topic: s.topic(id, topicCommands), QoS: 1})
		if restore {
			subs = append(subs, paho.SubscribeOptions{Topic: s.topic(id, topicShadow), QoS: 1, NoLocal: true})
		}
	}
	if len(subs) > 0 {
		subCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		if _, err := conn.Subscribe(subCtx, &paho.Subscribe{Subscriptions: subs}); err != nil {
			s.log.Errorw("cloud subscribe failed", "topics", len(subs), "err", err)
		}
		cancel()
	}

	s.publishAvailability(ctx, conn, "online")
	s.connected.Store(true)
	s.log.Infow("cloud connected", "broker", s.cfg.Broker, "devices", len(devices))

	for _, fn := range callbacks {
		fn()
	}
}

func (s *MQTTSession) connectionDown(reason string, err error) {
	if !s.connected.Swap(false) {
		return
	}
	s.log.Warnw("cloud disconnected", "reason", reason, "err", err)

	s.mu.Lock()
	callbacks := append([]func(){}, s.onDown...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// receive runs on paho's goroutine; it only decodes and enqueues.
func (s *MQTTSession) receive(topic string, payload []byte) {
	deviceID, kind, ok := s.parseTopic(topic)
	if !ok {
		s.log.Debugw("cloud message on unexpected topic", "topic", topic)
		return
	}

	s.mu.Lock()
	_, registered := s.handlers[deviceID]
	s.mu.Unlock()
	if !registered {
		s.log.Debugw("cloud message for unknown device", "device_id", deviceID, "topic", topic)
		return
	}

	switch kind {
	case topicCommands:
		req, err := DecodeCommand(payload)
		if err != nil {
			s.log.Warnw("cloud command rejected", "device_id", deviceID, "err", err)
			s.reject(deviceID, req.RequestID, err)
			return
		}
		env := Envelope{DeviceID: deviceID, RequestID: req.RequestID, Source: SourceCloud, Command: req.Command}
		if err := s.inbox.Post(env); err != nil {
			s.log.Warnw("cloud command dropped", "device_id", deviceID, "action", req.Command.Action(), "err", err)
			s.reject(deviceID, req.RequestID, err)
		}

	case topicShadow:
		s.mu.Lock()
		pending := s.restorePending[deviceID]
		delete(s.restorePending, deviceID)
		s.mu.Unlock()
		if !pending {
			return
		}

		shadow, err := DecodeShadow(payload)
		if err != nil {
			s.log.Warnw("cloud shadow ignored", "device_id", deviceID, "err", err)
			return
		}
		for _, cmd := range shadow.Commands() {
			if err := s.inbox.Post(Envelope{DeviceID: deviceID, Source: SourceRestore, Command: cmd}); err != nil {
				s.log.Warnw("cloud restore dropped", "device_id", deviceID, "action", cmd.Action(), "err", err)
			}
		}
		s.log.Infow("cloud device state restore queued", "device_id", deviceID)
	}
}

// Handle dispatches every queued command. Cloud commands are answered on the
// responses topic; restored state is applied silently. Shadow changes that
// could not be published while offline are published once connected.
func (s *MQTTSession) Handle(ctx context.Context) int {
	n := s.inbox.Drain(func(env Envelope) models.Ack {
		s.mu.Lock()
		h := s.handlers[env.DeviceID]
		s.mu.Unlock()
		if h == nil {
			s.log.Warnw("no handler for device", "device_id", env.DeviceID, "action", env.Command.Action())
			return models.Ack{}
		}

		ack := h.Dispatch(env.Command)

		if env.Source == SourceCloud {
			s.respond(ctx, env, ack)
		}
		if !ack.Accepted || !s.shadow(env.DeviceID).Apply(env.Command) || env.Source == SourceRestore {
			return ack
		}
		// the device now holds newer state than any shadow still to be restored
		s.mu.Lock()
		delete(s.restorePending, env.DeviceID)
		s.mu.Unlock()
		s.dirty[env.DeviceID] = true
		return ack
	})
	s.flushShadows(ctx)
	return n
}

func (s *MQTTSession) flushShadows(ctx context.Context) {
	if len(s.dirty) == 0 || !s.connected.Load() {
		return
	}
	for id := range s.dirty {
		if s.publishShadow(ctx, id) {
			delete(s.dirty, id)
		}
	}
}

func (s *MQTTSession) SendTemperatureEvent(ctx context.Context, deviceID string, temperature, humidity float64) error {
	conn := s.connection()
	if conn == nil || !s.connected.Load() {
		return ErrNotConnected
	}

	payload, err := EncodeTemperatureEvent(temperature, humidity, s.now())
	if err != nil {
		return fmt.Errorf("encode temperature event: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	if _, err := conn.Publish(sendCtx, &paho.Publish{
		Topic:   s.topic(deviceID, topicEvents),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("publish temperature event: %w", err)
	}
	return nil
}

// Close marks the device offline and disconnects.
func (s *MQTTSession) Close(ctx context.Context) error {
	conn := s.connection()
	if conn == nil {
		return nil
	}
	if s.connected.Load() {
		s.publishAvailability(ctx, conn, "offline")
	}
	s.connected.Store(false)
	return conn.Disconnect(ctx)
}

func (s *MQTTSession) respond(ctx context.Context, env Envelope, ack models.Ack) {
	payload, err := EncodeResponse(env.RequestID, env.Command, ack)
	if err != nil {
		s.log.Errorw("encode command response", "action", env.Command.Action(), "err", err)
		return
	}
	s.publish(ctx, s.topic(env.DeviceID, topicResponses), payload, false)
}

func (s *MQTTSession) reject(deviceID, requestID string, cause error) {
	payload, err := EncodeRejection(requestID, "", cause)
	if err != nil {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.publish(ctx, s.topic(deviceID, topicResponses), payload, false)
}

func (s *MQTTSession) publishShadow(ctx context.Context, deviceID string) bool {
	payload, err := json.Marshal(s.shadow(deviceID))
	if err != nil {
		s.log.Errorw("encode shadow", "device_id", deviceID, "err", err)
		return true
	}
	return s.publish(ctx, s.topic(deviceID, topicShadow), payload, true)
}

func (s *MQTTSession) publishAvailability(ctx context.Context, conn connection, status string) {
	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	if _, err := conn.Publish(pubCtx, &paho.Publish{
		Topic:   s.topic(s.cfg.ClientName, topicAvailability),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		s.log.Warnw("cloud availability publish failed", "status", status, "err", err)
	}
}

// publish reports whether the broker accepted the message.
func (s *MQTTSession) publish(ctx context.Context, topic string, payload []byte, retain bool) bool {
	conn := s.connection()
	if conn == nil || !s.connected.Load() {
		s.log.Debugw("cloud publish skipped, not connected", "topic", topic)
		return false
	}
	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	if _, err := conn.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  retain,
	}); err != nil {
		s.log.Warnw("cloud publish failed", "topic", topic, "err", err)
		return false
	}
	return true
}

func (s *MQTTSession) shadow(deviceID string) *Shadow {
	sh, ok := s.shadows[deviceID]
	if !ok {
		sh = &Shadow{}
		s.shadows[deviceID] = sh
	}
	return sh
}

func (s *MQTTSession) connection() connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *MQTTSession) topic(deviceID, kind string) string {
	return s.cfg.TopicPrefix + "/" + deviceID + "/" + kind
}

func (s *MQTTSession) parseTopic(topic string) (deviceID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, s.cfg.TopicPrefix+"/")
	if !found {
		return "", "", false
	}
	deviceID, kind, found = strings.Cut(rest, "/")
	if !found || deviceID == "" || strings.Contains(kind, "/") {
		return "", "", false
	}
	return deviceID, kind, true
}
