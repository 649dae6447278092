package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/visatrack/config"
	"github.com/c360studio/visatrack/export"
	visaapi "github.com/c360studio/visatrack/processor/visa-api"
	"github.com/c360studio/visatrack/storage"
	"github.com/c360studio/visatrack/uploads"
	"github.com/c360studio/visatrack/visa"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long in-flight requests may run after a signal.
const shutdownTimeout = 10 * time.Second

// services are the stores and registries shared by every subcommand.
type services struct {
	store      *storage.FileStore
	uploads    *uploads.Store
	applicants *visa.ApplicantRegistry
	settings   *visa.SettingsRegistry
	bundler    *export.Bundler
}

// openServices opens the data and uploads directories and builds the
// registries and bundler over them.
func openServices(cfg *config.Config, logger *slog.Logger) (*services, error) {
	store, err := storage.NewFileStore(cfg.Data.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("open data store: %w", err)
	}
	up, err := uploads.NewStore(cfg.Data.UploadsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open uploads: %w", err)
	}

	s := &services{
		store:      store,
		uploads:    up,
		applicants: visa.NewApplicantRegistry(store, logger),
		settings:   visa.NewSettingsRegistry(store, logger),
	}
	s.bundler = export.NewBundler(store, s.applicants, s.settings, up, logger)
	return s, nil
}

// seed writes the initial documents for collections that do not exist yet.
func (s *services) seed(ctx context.Context) error {
	if _, err := s.settings.Seed(ctx); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	if _, err := s.applicants.Seed(ctx); err != nil {
		return fmt.Errorf("seed applicants: %w", err)
	}
	return nil
}

// App is the serve command: the gateway plus the optional data watcher.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	*services
	api     *visaapi.Component
	watcher *storage.Watcher
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := openServices(cfg, logger)
	if err != nil {
		return nil, err
	}

	api, err := visaapi.NewComponent(visaapi.ConfigFrom(cfg), visaapi.Dependencies{
		Applicants: svc.applicants,
		Settings:   svc.settings,
		Uploads:    svc.uploads,
		Bundler:    svc.bundler,
		Logger:     logger.With("component", "visa-api"),
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	app := &App{cfg: cfg, logger: logger, services: svc, api: api}

	if cfg.Data.Watch {
		w, err := storage.NewWatcher(svc.store, cfg.Data.WatchDebounce, logger.With("component", "watcher"))
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		app.watcher = w
	}
	return app, nil
}

// Run seeds the store, starts the gateway and blocks until ctx is cancelled
// or a background task fails. The gateway is always stopped before Run returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.seed(ctx); err != nil {
		return err
	}
	if err := a.api.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	a.logger.Info("visatrack ready",
		"version", Version,
		"addr", a.api.Addr(),
		"data_dir", a.cfg.Data.Dir,
		"uploads_dir", a.cfg.Data.UploadsDir,
		"require_admin", a.cfg.Auth.RequireAdmin)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-a.api.Errors():
			return fmt.Errorf("gateway: %w", err)
		}
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
		g.Go(func() error {
			for ev := range a.watcher.Events() {
				a.checkCollection(gctx, ev.Collection)
			}
			return nil
		})
	}

	err := g.Wait()
	if stopErr := a.api.Stop(shutdownTimeout); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	return err
}

// checkCollection re-reads a collection changed outside the process and
// reports whether the gateway can still serve it.
func (a *App) checkCollection(ctx context.Context, c storage.Collection) {
	var err error
	switch c {
	case storage.CollectionSettings:
		_, err = a.settings.Get(ctx)
	case storage.CollectionApplicants:
		var list []visa.Applicant
		if list, err = a.applicants.List(ctx); err == nil {
			a.logger.Info("Applicants changed on disk", "count", len(list))
		}
	}
	if err != nil {
		a.logger.Error("Collection on disk is unreadable", "collection", c, "error", err)
	}
}

// Addr returns the gateway's bound address once running.
func (a *App) Addr() string {
	return a.api.Addr()
}
