// Package app wires the application together: storage, the deferred
// job scheduler, the engagement engine, the reply loop and the
// Telegram connector.
package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/bkern/chime/internal/agent/loop"
	"github.com/bkern/chime/internal/channels/telegram"
	"github.com/bkern/chime/internal/config"
	"github.com/bkern/chime/internal/engagement"
	"github.com/bkern/chime/internal/logger"
	"github.com/bkern/chime/internal/metrics"
	"github.com/bkern/chime/internal/scheduler"
	"github.com/bkern/chime/internal/store"
)

// App holds all major components and manages their lifecycle.
type App struct {
	config *config.Config
	logger *logger.Logger

	db      *store.DB
	metrics *metrics.Metrics

	scheduler *scheduler.Scheduler
	engine    *engagement.Engine
	agentLoop *loop.Loop
	telegram  *telegram.Connector

	metricsServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New creates a new App instance. Components are initialized in
// Initialize.
func New(cfg *config.Config, log *logger.Logger) *App {
	return &App{
		config: cfg,
		logger: log,
	}
}

// Run starts the application and blocks until the context is
// cancelled, then performs graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}

	a.logger.Info("application is running")

	<-ctx.Done()

	return a.Shutdown()
}
