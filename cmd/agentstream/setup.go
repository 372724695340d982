package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentstream"
	"github.com/hupe1980/agentstream/auth"
	"github.com/hupe1980/agentstream/config"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/memory"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/model/anthropic"
	"github.com/hupe1980/agentstream/model/openai"
	"github.com/hupe1980/agentstream/observability"
	"github.com/hupe1980/agentstream/persistence"
	"github.com/hupe1980/agentstream/tool"
	"github.com/hupe1980/agentstream/tool/builtin"
)

// app is the wired process.
type app struct {
	Engine   *agentstream.Engine
	Verifier auth.Verifier
	closers  []func(context.Context) error
}

// Close releases stores and flushes traces.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	agentstream.ResetDefaultStores()
	return errors.Join(errs...)
}

func newLogger(cfg *config.Config) (*logging.StreamLogger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, &core.ConfigurationError{Setting: "logging.level", Message: err.Error()}
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		Component: "agentstream",
	}), nil
}

// setup builds the engine and its stores from cfg. Configuration problems
// are returned as *core.ConfigurationError.
func setup(ctx context.Context, cfg *config.Config, logger *logging.StreamLogger, reg prometheus.Registerer) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		_ = a.Close(context.Background())
		return nil, err
	}

	registry, err := newRegistry(cfg, logger.WithComponent("tool"))
	if err != nil {
		return fail(err)
	}

	if err := a.openStores(ctx, cfg); err != nil {
		return fail(err)
	}

	var tracer trace.Tracer
	if cfg.Tracing.Endpoint != "" {
		exporter, err := observability.NewOTLPExporter(ctx, cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
		if err != nil {
			return fail(&core.ConfigurationError{Setting: "tracing.endpoint", Message: err.Error()})
		}
		tp, shutdown := observability.NewTracerProvider(observability.TraceConfig{
			Exporter:     exporter,
			SamplingRate: cfg.Tracing.SamplingRate,
		})
		a.closers = append(a.closers, shutdown)
		tracer = observability.Tracer(tp)
	}

	var embedder memory.Embedder
	if cfg.Memory.Embedder == "openai" {
		embedder = memory.NewOpenAIEmbedder(func(o *memory.OpenAIEmbedderOptions) {
			o.APIKey = cfg.Memory.APIKey
			if cfg.Memory.EmbeddingModel != "" {
				o.Model = openaisdk.EmbeddingModel(cfg.Memory.EmbeddingModel)
			}
		})
	}

	var metrics *observability.Metrics
	if reg != nil {
		metrics = observability.NewMetrics(reg)
	}

	engine, err := agentstream.New(newModel(cfg), registry, func(o *agentstream.Options) {
		o.System = cfg.Engine.System
		o.MaxSteps = cfg.Engine.MaxSteps
		o.Tools = cfg.Engine.Tools
		o.Embedder = embedder
		o.DisableMemory = cfg.Memory.Backend == "none"
		o.Logger = logger.WithComponent("engine")
		o.Metrics = metrics
		o.Tracer = tracer
		o.Memory = append(o.Memory, func(po *memory.ProviderOptions) {
			if cfg.Memory.RecallTimeout > 0 {
				po.RecallTimeout = cfg.Memory.RecallTimeout
			}
			if cfg.Memory.RecentMessages > 0 {
				po.RecentMessages = cfg.Memory.RecentMessages
			}
			if cfg.Memory.TopK > 0 {
				po.TopK = cfg.Memory.TopK
			}
		})
	})
	if err != nil {
		return fail(err)
	}
	a.Engine = engine

	if !cfg.Auth.Disabled {
		a.Verifier = newVerifier(cfg)
	}
	return a, nil
}

// openStores opens the configured stores and installs them as the process
// defaults. In-memory stores are left to the lazy defaults.
func (a *app) openStores(ctx context.Context, cfg *config.Config) error {
	var messages core.MessageStore
	if cfg.Persistence.Driver != "memory" {
		dialect, err := persistence.ParseDialect(cfg.Persistence.Driver)
		if err != nil {
			return &core.ConfigurationError{Setting: "persistence.driver", Message: err.Error()}
		}
		sqlCfg := persistence.DefaultSQLConfig()
		sqlCfg.Dialect = dialect
		sqlCfg.DSN = cfg.Persistence.DSN
		if cfg.Persistence.MaxOpenConns > 0 {
			sqlCfg.MaxOpenConns = cfg.Persistence.MaxOpenConns
		}
		store, err := persistence.NewSQLStore(ctx, sqlCfg)
		if err != nil {
			return fmt.Errorf("failed to open message store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		messages = store
	}

	var mem core.MemoryStore
	if cfg.Memory.Backend == "sqlite" {
		store, err := memory.NewSQLiteStore(ctx, cfg.Memory.Path)
		if err != nil {
			return fmt.Errorf("failed to open memory store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		mem = store
	}

	agentstream.SetDefaultStores(messages, mem)
	return nil
}

func newModel(cfg *config.Config) model.Model {
	switch cfg.Model.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model.Name != "" {
				o.Model = cfg.Model.Name
			}
			o.APIKey = cfg.Model.APIKey
			o.BaseURL = cfg.Model.BaseURL
			o.Temperature = cfg.Model.Temperature
			o.MaxCompletionTokens = cfg.Model.MaxTokens
		})
	default:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Model.Name)
			}
			o.APIKey = cfg.Model.APIKey
			o.BaseURL = cfg.Model.BaseURL
			o.Temperature = cfg.Model.Temperature
			o.MaxTokens = cfg.Model.MaxTokens
			o.ThinkingBudget = cfg.Model.ThinkingBudget
		})
	}
}

// newRegistry registers the built-in tools whose endpoints are configured.
func newRegistry(cfg *config.Config, logger logging.Logger) (*tool.Registry, error) {
	registry := tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.Logger = logger
		o.Timeout = cfg.Tools.Timeout
	})

	if cfg.Tools.Search.URL != "" {
		if err := registry.Register(builtin.NewSearchTool(builtin.SearchConfig{
			URL:    cfg.Tools.Search.URL,
			APIKey: cfg.Tools.Search.APIKey,
		})); err != nil {
			return nil, err
		}
	}
	if cfg.Tools.Reason.BaseURL != "" {
		if err := registry.Register(builtin.NewReasonTool(builtin.ReasonConfig{BaseURL: cfg.Tools.Reason.BaseURL})); err != nil {
			return nil, err
		}
	}
	if cfg.Tools.X402.BaseURL != "" {
		x402 := builtin.X402Config{BaseURL: cfg.Tools.X402.BaseURL}
		if cfg.Tools.X402.AutoPay {
			x402.Authorize = priceCap(cfg.Tools.X402.MaxPrice)
		}
		for _, t := range builtin.NewX402Tools(x402) {
			if err := registry.Register(t); err != nil {
				return nil, err
			}
		}
	}

	if _, err := registry.Resolve(cfg.Engine.Tools); err != nil {
		return nil, err
	}
	return registry, nil
}

// priceCap authorizes payments up to limit per call.
func priceCap(limit float64) func(*core.ToolContext, builtin.X402Resource) bool {
	return func(_ *core.ToolContext, r builtin.X402Resource) bool {
		price, err := strconv.ParseFloat(r.Price, 64)
		return err == nil && price <= limit
	}
}

func newVerifier(cfg *config.Config) *auth.JWTVerifier {
	var opts []func(v *auth.JWTVerifier)
	if cfg.Auth.Issuer != "" {
		opts = append(opts, auth.WithIssuer(cfg.Auth.Issuer))
	}
	return auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry, opts...)
}
