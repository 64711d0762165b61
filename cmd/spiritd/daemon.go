package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/spiritd/internal/agent"
	"github.com/haasonsaas/spiritd/internal/approvalsrv"
	"github.com/haasonsaas/spiritd/internal/compactor"
	"github.com/haasonsaas/spiritd/internal/config"
	"github.com/haasonsaas/spiritd/internal/dispatcher"
	"github.com/haasonsaas/spiritd/internal/embedport"
	"github.com/haasonsaas/spiritd/internal/memory"
	"github.com/haasonsaas/spiritd/internal/modelport"
	"github.com/haasonsaas/spiritd/internal/observability"
	"github.com/haasonsaas/spiritd/internal/sandbox"
	"github.com/haasonsaas/spiritd/internal/store"
	"github.com/haasonsaas/spiritd/internal/tools"
)

// daemon holds every long-lived collaborator the run command wires together.
// It owns nothing the individual packages don't already own; it exists only
// to sequence construction and shutdown.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *store.DB
	loop     *agent.Loop
	disp     *dispatcher.Dispatcher
	cron     *dispatcher.HeartbeatProducer
	approval *approvalsrv.Server
	metrics  *http.Server
}

// newDaemon constructs every collaborator but starts nothing.
func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	db, err := store.Open(dialectFromConfig(cfg.Memory.Dialect), cfg.Memory.DSN, store.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("open persistence: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := observability.New(reg)

	model, err := buildModel(cfg.Model)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build model: %w", err)
	}

	embedder, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	mem := memory.NewManager(memory.NewStore(db), embedder)
	messages := store.NewMessageStore(db)

	registry := tools.NewRegistry()
	if err := agent.RegisterSpecialTools(registry); err != nil {
		db.Close()
		return nil, fmt.Errorf("register special tools: %w", err)
	}
	if err := agent.RegisterMemoryTools(registry, mem); err != nil {
		db.Close()
		return nil, fmt.Errorf("register memory tools: %w", err)
	}

	sandboxExecutor := sandbox.New(registry, logger, sandboxOptions(cfg.Sandbox)...)

	comp := compactor.New(model, mem, messages, logger)
	compCfg := compactorConfig(cfg.Compactor)

	loop := agent.New(agent.NewConversationID(), cfg.Owner, model, registry, mem, messages,
		agent.WithCompactor(comp, compCfg),
		agent.WithSandbox(sandboxExecutor),
		agent.WithLogger(logger),
		agent.WithConfig(agent.Config{
			MaxToolRounds:  cfg.Agent.MaxToolRounds,
			ContextBudget:  cfg.Agent.ContextBudget,
			ModelMaxTokens: cfg.Agent.ModelMaxTokens,
		}),
		agent.WithModelName(cfg.Model.Model),
		agent.WithMetrics(metrics),
	)

	disp := dispatcher.New(cfg.Dispatcher.QueueCapacity, loop,
		dispatcher.WithLogger(logger),
		dispatcher.WithMetrics(metrics),
	)

	d := &daemon{cfg: cfg, logger: logger, db: db, loop: loop, disp: disp}

	if cfg.Cron.Enabled {
		producer, err := dispatcher.NewHeartbeatProducer(cfg.Cron.Expression, cfg.Cron.Source, disp, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("build heartbeat producer: %w", err)
		}
		d.cron = producer
	}

	if cfg.Approval.Enabled {
		d.approval = approvalsrv.New(approvalsrv.Config{
			BindAddr:  cfg.Approval.BindAddr,
			JWTSecret: cfg.Approval.JWTSecret,
			TokenTTL:  cfg.Approval.TokenTTL,
		}, mem, logger)
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		d.metrics = &http.Server{
			Addr:              cfg.Metrics.BindAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return d, nil
}

// Start begins every optional background surface and blocks until ctx is
// canceled. The agent loop itself has no independent run loop: it is driven
// reactively, either by the dispatcher or by a future transport adapter
// calling ProcessMessage directly.
func (d *daemon) Start(ctx context.Context) error {
	if d.cron != nil {
		d.cron.Start(ctx)
		d.logger.Info("heartbeat producer started", "expression", d.cfg.Cron.Expression)
	}
	if d.approval != nil {
		if err := d.approval.Start(ctx); err != nil {
			return fmt.Errorf("start approval server: %w", err)
		}
	}
	if d.metrics != nil {
		go func() {
			if err := d.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Error("metrics server error", "error", err)
			}
		}()
		d.logger.Info("metrics server started", "addr", d.cfg.Metrics.BindAddr)
	}

	<-ctx.Done()
	return nil
}

// Stop gracefully shuts every started surface down.
func (d *daemon) Stop(ctx context.Context) error {
	if d.cron != nil {
		d.cron.Stop()
	}
	if d.approval != nil {
		d.approval.Stop(ctx)
	}
	if d.metrics != nil {
		if err := d.metrics.Shutdown(ctx); err != nil {
			d.logger.Warn("metrics server shutdown error", "error", err)
		}
	}
	return d.db.Close()
}

func dialectFromConfig(dialect string) store.Dialect {
	switch dialect {
	case "postgres":
		return store.DialectPostgres
	case "sqlite3":
		return store.DialectSQLite
	default:
		return store.DialectSQLitePure
	}
}

func buildModel(cfg config.ModelConfig) (modelport.Model, error) {
	switch cfg.Provider {
	case "openai":
		return modelport.NewOpenAI(modelport.OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	default:
		return modelport.NewAnthropic(modelport.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	}
}

func buildEmbedder(cfg config.EmbeddingConfig) (embedport.Embedder, error) {
	return embedport.NewOpenAI(embedport.OpenAIConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
}

func compactorConfig(cfg config.CompactorConfig) compactor.Config {
	return compactor.Config{
		ChunkSize:        cfg.ChunkSize,
		KeepRecent:       cfg.KeepRecent,
		MaxSummaryTokens: cfg.MaxSummaryTokens,
		ClipFirst:        cfg.ClipFirst,
		ClipLast:         cfg.ClipLast,
	}
}

func sandboxOptions(cfg config.SandboxConfig) []sandbox.Option {
	opts := []sandbox.Option{
		sandbox.WithWorkingDir(cfg.WorkDir),
		sandbox.WithMaxOutputSize(cfg.MaxOutputBytes),
		sandbox.WithMaxToolCallsPerExec(cfg.MaxToolCalls),
		sandbox.WithCodeTimeout(cfg.Timeout),
		sandbox.WithCapabilities(sandbox.CapabilityFlags{
			AllowedHosts:     cfg.AllowNet,
			AllowedReadPaths: cfg.AllowRead,
			AllowedRun:       cfg.AllowRun,
		}),
	}
	if cfg.DenoPath != "" {
		opts = append(opts, sandbox.WithRuntimePath(cfg.DenoPath))
	}
	return opts
}
