package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mymmrac/telego"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	agentcontext "github.com/bkern/chime/internal/agent/context"
	"github.com/bkern/chime/internal/agent/loop"
	"github.com/bkern/chime/internal/channels/telegram"
	"github.com/bkern/chime/internal/engagement"
	"github.com/bkern/chime/internal/llm"
	"github.com/bkern/chime/internal/logger"
	"github.com/bkern/chime/internal/metrics"
	"github.com/bkern/chime/internal/scheduler"
	"github.com/bkern/chime/internal/store"
	"github.com/bkern/chime/internal/tools"
)

// Initialize sets up all application components: storage, metrics, the
// Telegram bot, the scheduler, the engagement engine, the reply loop
// and the connector. Active jobs are recovered before updates flow.
func (a *App) Initialize(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	// 1. Storage.
	db, err := store.Open(a.config.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.db = db

	if a.config.Storage.SeedFile != "" {
		seeded, err := store.SeedAgents(a.ctx, db, a.config.Storage.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to seed agents: %w", err)
		}
		if seeded > 0 {
			a.logger.Info("seeded agents",
				logger.Field{Key: "count", Value: seeded})
		}
	}

	// 2. Metrics.
	if a.config.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		a.metrics = metrics.Init(a.config.Metrics.Namespace, registry)
		a.metricsServer = &http.Server{
			Addr:              a.config.Metrics.Addr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("metrics server failed", err)
			}
		}()
	} else {
		a.metrics = metrics.Nop()
	}

	// 3. Telegram bot and outbound sender.
	bot, err := telego.NewBot(a.config.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	botAdapter := telegram.NewBotAdapter(bot)

	me, err := botAdapter.GetMe(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to verify telegram credentials: %w", err)
	}
	a.logger.Info("telegram bot authorized",
		logger.Field{Key: "username", Value: me.Username})

	sender := telegram.NewSender(botAdapter, a.logger)

	// 4. Scheduler: recover persisted jobs, then start the reconcile
	// loop that keeps timers and storage aligned.
	a.scheduler = scheduler.New(db, sender, a.logger, a.metrics)
	if err := a.scheduler.Recover(a.ctx); err != nil {
		return fmt.Errorf("failed to recover scheduled jobs: %w", err)
	}
	if err := a.scheduler.StartReconcile(); err != nil {
		return fmt.Errorf("failed to start scheduler reconcile: %w", err)
	}

	// 5. Per-agent LLM providers and tool registries.
	providers := a.providerFactory()
	registries := func(agent *store.Agent, provider llm.Provider) *tools.Registry {
		registry := tools.NewRegistry()
		_ = registry.Register(tools.NewCreateTaskTool(db, a.scheduler, agent.ID, a.logger))
		_ = registry.Register(tools.NewChangeEngagementTool(db, agent.ID, a.logger))
		_ = registry.Register(tools.NewGetEngagementTool(db, agent.ID))
		_ = registry.Register(tools.NewGenerateImageTool(provider, sender, db, agent.ID, a.logger))
		return registry
	}

	// 6. Engagement engine and reply loop.
	builder := agentcontext.NewBuilder(db)
	a.engine = engagement.New(engagement.ProviderFactory(providers), builder, a.logger, a.metrics)
	a.agentLoop = loop.New(providers, registries, a.logger)

	// 7. Telegram connector.
	a.telegram = telegram.NewConnector(
		botAdapter,
		sender,
		db,
		builder,
		a.engine,
		a.agentLoop,
		telegram.ProviderFactory(providers),
		a.logger,
		a.config.Telegram.Token,
	)
	if err := a.telegram.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start telegram connector: %w", err)
	}

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	return nil
}

// providerFactory builds one OpenAI-compatible provider per agent,
// using the agent's own credential and model over the shared base URL.
func (a *App) providerFactory() loop.ProviderFactory {
	return func(agent *store.Agent) llm.Provider {
		model := agent.Model
		if model == "" {
			model = a.config.LLM.DefaultModel
		}
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:         agent.APIKey,
			BaseURL:        a.config.LLM.BaseURL,
			Model:          model,
			TimeoutSeconds: a.config.LLM.TimeoutSeconds,
		}, a.logger)
	}
}
