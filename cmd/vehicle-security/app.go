package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/api"
	"github.com/mikeyg42/vehicle-security/internal/archive"
	"github.com/mikeyg42/vehicle-security/internal/camera"
	"github.com/mikeyg42/vehicle-security/internal/command"
	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/eventlog"
	"github.com/mikeyg42/vehicle-security/internal/hardware"
	"github.com/mikeyg42/vehicle-security/internal/notification"
	"github.com/mikeyg42/vehicle-security/internal/security"
	"github.com/mikeyg42/vehicle-security/internal/store"
	"github.com/mikeyg42/vehicle-security/internal/stream"
)

// Application struct that holds all components
type Application struct {
	config *config.Config
	logger *zap.Logger

	store    store.Store
	hardware *hardware.Controller
	archiver *archive.Archiver
	cameras  *camera.Cameras
	events   *eventlog.Queue
	writers  []eventlog.Writer
	eventDB  *sqlx.DB // owned only when the store is not postgres
	hub      *stream.Hub
	machine  *security.Machine
	server   *api.Server
}

// NewApplication wires every component. Optional collaborators that fail
// to come up are logged and left out; only the store is fatal.
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	app := &Application{config: cfg, logger: logger}

	st, err := store.New(ctx, cfg.Store, cfg.SystemID)
	if err != nil {
		return nil, fmt.Errorf("failed to open config store: %w", err)
	}
	app.store = st
	initial := store.LoadOrDefault(ctx, st, logger)

	noHardware := cfg.NoHardware
	if !noHardware {
		hw, err := hardware.Open(cfg.Hardware, logger)
		if err != nil {
			logger.Warn("GPIO unavailable, running without hardware", zap.Error(err))
			noHardware = true
		} else {
			app.hardware = hw
		}
	}

	var archiver camera.Archiver
	if cfg.Archive.Enabled {
		objects, err := archive.NewMinIOStore(ctx, cfg.Archive.MinIO)
		if err != nil {
			logger.Warn("Recording archive unavailable, keeping recordings local", zap.Error(err))
		} else {
			app.archiver = archive.New(objects, cfg.Archive, logger)
			archiver = app.archiver
		}
	}
	app.cameras = camera.New(cfg, archiver, logger)

	app.writers = app.eventWriters(ctx)
	app.events = eventlog.NewQueue(app.writers, eventlog.Options{
		SystemID:   cfg.SystemID,
		Size:       cfg.EventLog.QueueSize,
		MaxRetries: cfg.EventLog.MaxRetries,
		Timeout:    cfg.EventLog.Timeout,
	}, logger)

	var alerter security.Alerter
	if cfg.Notification.Enabled {
		smtpAlerter, err := notification.NewSMTPAlerter(cfg.Notification, cfg.SystemID, logger)
		if err != nil {
			logger.Warn("Alerts disabled", zap.Error(err))
		} else {
			alerter = smtpAlerter
		}
	}

	app.hub = stream.NewHub(stream.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		BufferSize:     cfg.HTTP.StreamBuffer,
	}, logger)

	opts := security.Options{
		Video:          app.cameras,
		Stream:         app.hub,
		Log:            app.events,
		Alerter:        alerter,
		NoHardware:     noHardware,
		MonitorCamera:  cfg.Security.MonitorCamera,
		PollInterval:   cfg.Security.PollInterval,
		RecordInterval: cfg.Security.RecordInterval,
		StreamInterval: cfg.Security.StreamInterval,
		ArmFlashes:     cfg.Security.ArmFlashes,
		DisarmFlashes:  cfg.Security.DisarmFlashes,
		Logger:         logger,
	}
	if app.hardware != nil {
		opts.Sensors = app.hardware
		opts.Thermometer = app.hardware
	}
	app.machine = security.NewMachine(opts, initial)

	deps := api.Deps{
		Dispatcher: command.NewDispatcher(app.machine, logger),
		Sessions:   app.machine,
		Stream:     http.HandlerFunc(app.hub.ServeWS),
		Config:     cfg,
		Alerter:    alerter,
		Status:     app.machine.Status,
		SystemID:   cfg.SystemID,
	}
	if len(cfg.Cameras) > 0 {
		deps.DefaultCamera = cfg.Cameras[0].ID
	}
	for _, w := range app.writers {
		if h, ok := w.(api.EventHistory); ok {
			deps.Events = h
			break
		}
	}
	app.server = api.NewServer(cfg.HTTP, deps, logger)
	return app, nil
}

// eventWriters opens the configured event sinks. The process log is always
// written.
func (app *Application) eventWriters(ctx context.Context) []eventlog.Writer {
	cfg := app.config
	writers := []eventlog.Writer{eventlog.LogWriter{Logger: app.logger.Named("events")}}

	if cfg.EventLog.Postgres {
		if w, err := app.postgresWriter(ctx); err != nil {
			app.logger.Warn("Postgres event log unavailable", zap.Error(err))
		} else {
			writers = append(writers, w)
		}
	}

	if cfg.EventLog.MQTT.Enabled {
		w, err := eventlog.NewMQTTWriter(cfg.EventLog.MQTT, cfg.SystemID, app.logger)
		if err != nil {
			app.logger.Warn("MQTT event log unavailable", zap.Error(err))
		} else {
			writers = append(writers, w)
		}
	}
	return writers
}

// postgresWriter shares the store's connection when the store is postgres.
func (app *Application) postgresWriter(ctx context.Context) (*eventlog.PostgresWriter, error) {
	if ps, ok := app.store.(*store.PostgresStore); ok {
		return eventlog.NewPostgresWriter(ctx, ps.DB())
	}
	db, err := store.OpenPostgres(ctx, app.config.Store.Postgres)
	if err != nil {
		return nil, err
	}
	w, err := eventlog.NewPostgresWriter(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	app.eventDB = db
	return w, nil
}

// Run starts the machine and serves until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	if err := app.machine.Start(); err != nil {
		return fmt.Errorf("failed to start security machine: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Start()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	}
}

// Shutdown stops the transports, joins every session, saves the final
// flags and releases the remaining resources.
func (app *Application) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down API server: %w", err))
	}

	final, err := app.machine.Close(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if err := app.store.Save(ctx, final); err != nil {
		errs = append(errs, fmt.Errorf("failed to save security config: %w", err))
	} else {
		app.logger.Info("Security config saved",
			zap.Bool("system_armed", final.SystemArmed),
			zap.Bool("system_breached", final.SystemBreached))
	}

	if err := app.hub.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := app.events.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush event log: %w", err))
	}
	if app.archiver != nil {
		if err := app.archiver.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush archive queue: %w", err))
		}
	}
	if err := app.cameras.Close(); err != nil {
		errs = append(errs, err)
	}
	if app.hardware != nil {
		if err := app.hardware.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if app.eventDB != nil {
		if err := app.eventDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
