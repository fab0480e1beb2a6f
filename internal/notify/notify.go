// Package notify mails operators about sustained sensor failure.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mailgun "github.com/mailgun/mailgun-go/v3"

	"thermostat/internal/logger"
)

const sendTimeout = 10 * time.Second

// Mailer delivers a plain-text message to the configured recipients.
type Mailer interface {
	Send(ctx context.Context, subject, body string) error
}

type MailgunConfig struct {
	Domain     string
	APIKey     string
	Sender     string
	Recipients []string
	APIBase    string // optional, for EU region or tests
}

type MailgunMailer struct {
	mg         mailgun.Mailgun
	sender     string
	recipients []string
}

func NewMailgun(cfg MailgunConfig) (*MailgunMailer, error) {
	if cfg.Domain == "" || cfg.APIKey == "" {
		return nil, errors.New("mailgun domain and api key are required")
	}
	if len(cfg.Recipients) == 0 {
		return nil, errors.New("mailgun recipients are required")
	}
	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.APIBase != "" {
		mg.SetAPIBase(cfg.APIBase)
	}
	return &MailgunMailer{mg: mg, sender: cfg.Sender, recipients: cfg.Recipients}, nil
}

func (m *MailgunMailer) Send(ctx context.Context, subject, body string) error {
	message := m.mg.NewMessage(m.sender, subject, body, m.recipients...)
	resp, id, err := m.mg.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	if id == "" {
		return fmt.Errorf("mailgun send: invalid id, response %q", resp)
	}
	return nil
}

// Alerter turns reporter callbacks into mails sent off the caller's goroutine.
type Alerter struct {
	mailer Mailer
	log    *logger.Logger
	wg     sync.WaitGroup
}

func NewAlerter(mailer Mailer, log *logger.Logger) *Alerter {
	if log == nil {
		log = logger.Nop()
	}
	return &Alerter{mailer: mailer, log: log}
}

func (a *Alerter) SensorFailing(deviceID string, failures int, cause error) {
	subject := fmt.Sprintf("[thermostat %s] sensor failing", deviceID)
	body := fmt.Sprintf("The temperature sensor of %s failed %d times in a row.\nLast error: %v\n", deviceID, failures, cause)
	a.send(subject, body)
}

func (a *Alerter) SensorRecovered(deviceID string, failures int) {
	subject := fmt.Sprintf("[thermostat %s] sensor recovered", deviceID)
	body := fmt.Sprintf("The temperature sensor of %s is reading again after %d failed attempts.\n", deviceID, failures)
	a.send(subject, body)
}

// Wait blocks until queued mails have been sent or given up.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

func (a *Alerter) send(subject, body string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := a.mailer.Send(ctx, subject, body); err != nil {
			a.log.Errorw("failed to send alert", "subject", subject, "err", err)
			return
		}
		a.log.Infow("alert sent", "subject", subject)
	}()
}
