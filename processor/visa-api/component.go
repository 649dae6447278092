// Package visaapi provides the HTTP gateway for visatrack.
// It exposes applicant, settings, upload, export and import endpoints,
// serves uploaded documents and the client application, and publishes
// Prometheus metrics.
package visaapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/visatrack/export"
	"github.com/c360studio/visatrack/uploads"
	"github.com/c360studio/visatrack/visa"
)

// Dependencies are the services the gateway routes to.
type Dependencies struct {
	Applicants *visa.ApplicantRegistry
	Settings   *visa.SettingsRegistry
	Uploads    *uploads.Store
	Bundler    *export.Bundler
	Logger     *slog.Logger
}

// HealthStatus reports the component's lifecycle state.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Status    string        `json:"status"`
	Uptime    time.Duration `json:"uptime"`
	LastCheck time.Time     `json:"last_check"`
}

// Component implements the visa-api component.
// It owns the HTTP server and its lifecycle.
type Component struct {
	name       string
	config     Config
	applicants *visa.ApplicantRegistry
	settings   *visa.SettingsRegistry
	uploads    *uploads.Store
	bundler    *export.Bundler
	logger     *slog.Logger
	auth       *authenticator
	metrics    *metrics
	handler    http.Handler

	// Lifecycle state machine
	// States: 0=stopped, 1=starting, 2=running, 3=stopping
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	errs      chan error
}

const (
	stateStopped  = 0
	stateStarting = 1
	stateRunning  = 2
	stateStopping = 3
)

// NewComponent constructs a visa-api Component.
func NewComponent(config Config, deps Dependencies) (*Component, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Applicants == nil || deps.Settings == nil || deps.Uploads == nil || deps.Bundler == nil {
		return nil, fmt.Errorf("applicants, settings, uploads and bundler are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	auth, generated, err := newAuthenticator(config.TokenSecret, config.TokenTTL, config.RequireAdmin)
	if err != nil {
		return nil, err
	}
	if generated && config.RequireAdmin {
		logger.Warn("No token secret configured; tokens will not survive a restart")
	}

	c := &Component{
		name:       "visa-api",
		config:     config,
		applicants: deps.Applicants,
		settings:   deps.Settings,
		uploads:    deps.Uploads,
		bundler:    deps.Bundler,
		logger:     logger,
		auth:       auth,
		metrics:    newMetrics(),
		errs:       make(chan error, 1),
	}

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers(mux)
	c.handler = c.metrics.instrument(mux)
	return c, nil
}

// Handler returns the instrumented router. Tests serve it directly.
func (c *Component) Handler() http.Handler {
	return c.handler
}

// Start binds the listen address and serves in the background.
// Serve failures after startup are reported on Errors.
func (c *Component) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		current := c.state.Load()
		if current == stateRunning || current == stateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", current)
	}

	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", c.config.Addr, err)
	}

	server := &http.Server{
		Handler:           c.handler,
		ReadHeaderTimeout: c.config.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(c.logger.Handler(), slog.LevelWarn),
	}

	c.mu.Lock()
	c.server = server
	c.listener = ln
	c.startTime = time.Now()
	c.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("HTTP server failed", "error", err)
			c.errs <- err
		}
	}()

	c.state.Store(stateRunning)
	c.logger.Info("visa-api started", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully stops the component, waiting up to timeout for in-flight
// requests to finish.
func (c *Component) Stop(timeout time.Duration) error {
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		current := c.state.Load()
		if current == stateStopped || current == stateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", current)
	}

	c.mu.Lock()
	server := c.server
	c.server = nil
	c.mu.Unlock()

	var err error
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err = server.Shutdown(ctx); err != nil {
			err = fmt.Errorf("shutdown: %w", err)
		}
	}

	c.state.Store(stateStopped)
	c.logger.Info("visa-api stopped")
	return err
}

// Errors reports fatal serve errors.
func (c *Component) Errors() <-chan error {
	return c.errs
}

// Addr returns the bound address once started.
func (c *Component) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Health returns the current health status.
func (c *Component) Health() HealthStatus {
	state := c.state.Load()
	running := state == stateRunning

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	var uptime time.Duration
	if running {
		uptime = time.Since(startTime)
	}

	return HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    uptime,
		Status:    status,
	}
}
