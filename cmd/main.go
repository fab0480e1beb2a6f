package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"thermostat/internal/bootstrap"
	"thermostat/internal/cloud"
	"thermostat/internal/config"
	"thermostat/internal/handlers"
	"thermostat/internal/historian"
	"thermostat/internal/logger"
	"thermostat/internal/models"
	"thermostat/internal/network"
	"thermostat/internal/notify"
	"thermostat/internal/repository"
	"thermostat/internal/repository/db"
	"thermostat/internal/sensor"
	"thermostat/internal/server"
	"thermostat/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// load configs/config.yml, .env and THERMOSTAT_* overrides
	cfg, err := config.Load(".env", "configs", ".")
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.Get(cfg.LogLevel)
	log.Infow("thermostat starting", "device_id", cfg.Device.ID, "sensor", cfg.Sensor.Model)

	// open journal DB
	conn, err := openDB(cfg.Journal.Path, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	repos := repository.NewRepository(conn)

	// context for background goroutines, cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal := service.NewJournal(repos.EventRepo, 0, cfg.Journal.Retention, log)
	journalDone := make(chan struct{})
	go func() {
		defer close(journalDone)
		journal.Run(ctx)
	}()

	reader, err := openSensor(cfg.Sensor, log)
	if err != nil {
		log.Fatalw("failed to open sensor", "err", err)
	}

	// device state, owned by the loop goroutine from here on
	state := &models.DeviceState{DeviceID: cfg.Device.ID}
	dispatcher := service.NewDispatcher(state, journal, log)
	inbox := cloud.NewInbox(cloud.DefaultInboxSize)
	session := cloud.NewMQTTSession(cloud.MQTTConfig{
		Broker:      cfg.Cloud.Broker,
		TopicPrefix: cfg.Cloud.TopicPrefix,
		ClientName:  cfg.Device.ID,
		SendTimeout: cfg.Cloud.SendTimeout,
	}, inbox, log)

	reporter := service.NewReporter(service.ReporterConfig{
		Interval: cfg.Reporting.Interval,
		Change:   service.ChangePolicy{Tolerance: cfg.Reporting.Tolerance},
		Retry: service.RetryPolicy{
			Initial:    cfg.Reporting.Retry.Initial,
			Max:        cfg.Reporting.Retry.Max,
			Multiplier: cfg.Reporting.Retry.Multiplier,
		},
		FailureThreshold: cfg.Reporting.FailureThreshold,
	}, state, reader, session, journal, log)

	hist := openHistorian(ctx, cfg.Influx, log)
	if hist != nil {
		reporter.AddSink(hist)
	}
	alerter := openAlerter(cfg.Mailgun, log)
	if alerter != nil {
		reporter.SetAlerter(alerter)
	}

	err = bootstrap.Run(ctx, bootstrap.Config{
		DeviceID:            cfg.Device.ID,
		SSID:                cfg.WiFi.SSID,
		AppKey:              cfg.Cloud.AppKey,
		AppSecret:           cfg.Cloud.AppSecret,
		RestoreDeviceStates: cfg.Cloud.RestoreDeviceStates,
		Network: network.Backoff{
			InitialDelay: cfg.Network.InitialDelay,
			MaxDelay:     cfg.Network.MaxDelay,
			Multiplier:   cfg.Network.Multiplier,
			MaxRetries:   cfg.Network.MaxRetries,
		},
	}, bootstrap.Deps{
		Sensor:  reader,
		Link:    network.NewInterfaceLink(cfg.WiFi.Interface),
		Session: session,
		Handler: dispatcher,
		Journal: journal,
		Log:     log,
	})
	if err != nil {
		log.Errorw("bootstrap failed", "err", err)
		stop()
		<-journalDone
		closeDB(conn, log)
		os.Exit(1)
	}

	loop := service.NewLoop(session, reporter, state, log)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx, cfg.Reporting.PumpInterval)
	}()

	// local API
	staleAfter := service.StaleThreshold(cfg.Cloud.SendTimeout)
	services := service.NewService(repos, loop, inbox, cfg.Device.ID, staleAfter, service.AuthConfig{
		Username:     cfg.Auth.Username,
		PasswordHash: cfg.Auth.PasswordHash,
		SigningKey:   cfg.Auth.SigningKey,
		TokenTTL:     cfg.Auth.TokenTTL,
	})
	apiHandler := handlers.NewHandler(services, log)
	apiHandler.AllowOrigins(cfg.CORS)
	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, server.WithCORS(apiHandler.InitRoutes(), cfg.CORS), log)

	<-ctx.Done()
	log.Infow("shutting down...")
	<-loopDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// allow in-flight requests to complete
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
	if err := session.Close(shutdownCtx); err != nil {
		log.Warnw("cloud session close failed", "err", err)
	}
	if hist != nil {
		hist.Close()
	}
	if alerter != nil {
		alerter.Wait()
	}
	<-journalDone
	closeDB(conn, log)
	log.Infow("stopped", "journal_dropped", journal.Dropped(), "inbox_dropped", inbox.Dropped())
}

func openDB(path string, log *logger.Logger) (*sql.DB, error) {
	if path == "" {
		log.Infow("journal.path not set in config; using default file", "default", "thermostat.db")
		path = "thermostat.db"
	}
	return db.InitDB(path)
}

func closeDB(conn *sql.DB, log *logger.Logger) {
	if err := conn.Close(); err != nil {
		log.Errorw("failed to close sqlite", "err", err)
	}
}

// openSensor opens the configured driver. A hardware sensor that cannot be
// initialised stops the boot; simulated readings are only used for model fake.
func openSensor(cfg config.SensorConfig, log *logger.Logger) (*sensor.Reader, error) {
	driver, err := sensor.Open(cfg.Model, cfg.Pin)
	if err != nil {
		return nil, err
	}
	return sensor.NewReader(driver, log), nil
}

func openHistorian(ctx context.Context, cfg config.InfluxConfig, log *logger.Logger) *historian.Historian {
	if cfg.URL == "" {
		return nil
	}
	h := historian.New(historian.Config{
		URL:    cfg.URL,
		Token:  cfg.Token,
		Org:    cfg.Org,
		Bucket: cfg.Bucket,
	}, log)
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.Check(checkCtx); err != nil {
		log.Warnw("influx not reachable, samples will be retried by the writer", "url", cfg.URL, "err", err)
	}
	return h
}

func openAlerter(cfg config.MailgunConfig, log *logger.Logger) *notify.Alerter {
	if cfg.Domain == "" {
		return nil
	}
	mailer, err := notify.NewMailgun(notify.MailgunConfig{
		Domain:     cfg.Domain,
		APIKey:     cfg.APIKey,
		Sender:     cfg.Sender,
		Recipients: cfg.Recipients,
	})
	if err != nil {
		log.Warnw("mailgun alerts disabled", "err", err)
		return nil
	}
	return notify.NewAlerter(mailer, log)
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler http.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}
