package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"dwmon/internal/config"
	"dwmon/internal/database"
	"dwmon/internal/metrics"
	"dwmon/internal/monitoring"
	"dwmon/internal/notifications"
	"dwmon/internal/sources"
	"dwmon/internal/web"
)

// app holds everything a command needs, built from one config.
type app struct {
	cfg       *config.Config
	store     database.ExtendedStore
	metrics   *metrics.Collector
	catalog   *config.CheckerCatalog
	sources   *sources.Registry
	handlers  *monitoring.MultiHandler
	hub       *web.Hub
	pushover  *notifications.PushoverHandler
	nats      *notifications.NATSHandler
	engine    *monitoring.Engine
	scheduler *monitoring.Scheduler
}

func newApp(cfg *config.Config) (*app, error) {
	loc, err := cfg.Monitoring.Location()
	if err != nil {
		return nil, err
	}

	store, err := database.Open(cfg.Database.Type, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{
		cfg:      cfg,
		store:    store,
		metrics:  metrics.NewCollector(store),
		catalog:  config.NewCheckerCatalog(cfg.Monitoring.CheckersDir, cfg.Checkers),
		sources:  sources.NewRegistry(cfg.Sources),
		handlers: monitoring.NewMultiHandler(),
	}

	if err := a.setupHandlers(); err != nil {
		a.Close()
		return nil, err
	}

	a.engine, err = monitoring.NewEngine(store, a.catalog, a.sources, a.handlers, monitoring.NewRetentionPurger(), monitoring.EngineOptions{
		Location:        loc,
		FetchTimeout:    cfg.Monitoring.FetchTimeout,
		IsolateFailures: cfg.Monitoring.IsolateFailures,
		RecentResults:   cfg.Monitoring.RecentResults,
		Metrics:         a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize monitoring engine: %w", err)
	}
	a.scheduler = monitoring.NewScheduler(a.engine, cfg.Monitoring.Interval, cfg.Monitoring.Workers, a.metrics)

	logrus.WithFields(logrus.Fields{
		"database": cfg.Database.Type,
		"sources":  a.sources.Names(),
		"handlers": a.handlers.Names(),
		"timezone": loc.String(),
	}).Debug("Application initialized")
	return a, nil
}

func (a *app) setupHandlers() error {
	a.handlers.Add("log", monitoring.NewLogHandler())

	n := a.cfg.Notifications
	if n.Pushover.Enabled {
		h, err := notifications.NewPushoverHandler(&n.Pushover)
		if err != nil {
			return fmt.Errorf("failed to initialize pushover: %w", err)
		}
		a.pushover = h
		a.handlers.Add("pushover", h)
	}

	if n.Webhook.Enabled {
		h, err := notifications.NewWebhookHandler(n.Webhook)
		if err != nil {
			return fmt.Errorf("failed to initialize webhook: %w", err)
		}
		a.handlers.Add("webhook", h)
	}

	if n.NATS.Enabled {
		h, err := notifications.NewNATSHandler(n.NATS.URL, n.NATS.Subject)
		if err != nil {
			return fmt.Errorf("failed to initialize nats: %w", err)
		}
		a.nats = h
		a.handlers.Add("nats", h)
	}

	if a.cfg.Web.IsEnabled() {
		a.hub = web.NewHub(a.metrics)
		a.handlers.Add("websocket", a.hub)
	}
	return nil
}

// newServer returns nil when the web server is disabled.
func (a *app) newServer() *web.Server {
	if !a.cfg.Web.IsEnabled() {
		return nil
	}
	server := web.NewServer(a.cfg, a.store, a.engine, a.scheduler, a.metrics, a.hub)
	if a.pushover != nil {
		server.SetNotifier(a.pushover)
	}
	return server
}

func (a *app) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if err := a.sources.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close source connections")
	}
	if err := a.store.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close database")
	}
}
