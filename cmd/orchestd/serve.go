package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ventureforge/orchestd/internal/agent"
	"github.com/ventureforge/orchestd/internal/config"
	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/control"
	"github.com/ventureforge/orchestd/internal/embeddings"
	"github.com/ventureforge/orchestd/internal/engine"
	"github.com/ventureforge/orchestd/internal/isolation"
	"github.com/ventureforge/orchestd/internal/logging"
	"github.com/ventureforge/orchestd/internal/memsearch"
	"github.com/ventureforge/orchestd/internal/progress"
	"github.com/ventureforge/orchestd/internal/resilience"
	"github.com/ventureforge/orchestd/internal/telemetry"
	"github.com/ventureforge/orchestd/internal/tracker"
)

// janitorInterval is how often expired progress entries are evicted.
const janitorInterval = time.Minute

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration daemon",
	Long: `Start the orchestd daemon: workflow engine, execution tracker,
progress broadcasting and the NATS control surface.

Examples:
  # Start with defaults
  orchestd serve

  # Start with a specific config file
  orchestd serve --config /etc/orchestd/config.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "",
		"config file path (default ~/.config/orchestd/config.yaml)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info(ctx, "starting orchestd",
		zap.String("version", version),
		zap.Duration("workflow_timeout", cfg.Engine.WorkflowTimeout.Duration()),
		zap.Strings("agents", cfg.Engine.Agents),
	)

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Durable store: sqlite on disk, or in-memory when no path is set.
	var store tracker.DurableStore
	if cfg.Durable.Path != "" {
		sqlStore, err := tracker.OpenSQLite(cfg.Durable.Path)
		if err != nil {
			return fmt.Errorf("open durable store: %w", err)
		}
		defer func() { _ = sqlStore.Close() }()
		store = sqlStore
		log.Info(ctx, "durable store opened", zap.String("path", cfg.Durable.Path))
	} else {
		store = tracker.NewMemStore()
		log.Warn(ctx, "no durable.path configured, execution records are in-memory only")
	}

	trk := tracker.New(store, log)
	reaper := tracker.NewReaper(store,
		cfg.Engine.WorkflowTimeout.Duration(),
		cfg.Engine.ReaperInterval.Duration(),
		log)
	go reaper.Run(ctx)

	// NATS carries agent invocations, progress broadcasts and the control
	// surface. Without it the engine still runs, but only as a library.
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		opts := []nats.Option{
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		}
		if token := cfg.NATS.Token.Value(); token != "" {
			opts = append(opts, nats.Token(token))
		}
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err != nil {
			return fmt.Errorf("connect to nats at %s: %w", cfg.NATS.URL, err)
		}
		defer func() { _ = nc.Drain() }()
		log.Info(ctx, "connected to nats", zap.String("url", cfg.NATS.URL))
	}

	pstore := progress.NewMemStore()
	go pstore.Janitor(ctx, janitorInterval)

	var notifier progress.Notifier
	if nc != nil {
		notifier = progress.NewNATSNotifierFromConn(nc)
	}
	progressOpts := []progress.ManagerOption{
		progress.WithTTL(cfg.Progress.TTL.Duration()),
	}
	if cfg.Progress.RefreshOnUpdate {
		progressOpts = append(progressOpts, progress.RefreshTTLOnUpdate())
	}
	prog := progress.NewManager(pstore, notifier, log, progressOpts...)

	var invoker agent.Invoker
	if nc != nil {
		invoker = agent.NewNATSInvokerFromConn(nc)
	} else {
		invoker = agent.InvokerFunc(func(_ context.Context, in contract.AgentInput) (contract.AgentOutput, error) {
			return contract.AgentOutput{}, fmt.Errorf("agent %s: %w", in.AgentType, agent.ErrUnsupported)
		})
	}

	clock := resilience.SystemClock()
	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		OpenTimeout:      cfg.Resilience.OpenTimeout.Duration(),
	}, clock)
	var limiter *rate.Limiter
	if cfg.Engine.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Engine.RateLimit), cfg.Engine.RateBurst)
	}
	invoker = resilience.Wrap(invoker, resilience.RetryConfig{
		MaxAttempts:    cfg.Resilience.MaxAttempts,
		InitialBackoff: cfg.Resilience.InitialBackoff.Duration(),
		MaxBackoff:     cfg.Resilience.MaxBackoff.Duration(),
	}, breakers, limiter, clock, log)

	var memory memsearch.Searcher
	if cfg.Memsearch.Enabled {
		embedSvc, err := embeddings.NewService(embeddings.Config{
			BaseURL: cfg.Memsearch.EmbeddingURL,
			Model:   cfg.Memsearch.EmbeddingModel,
			APIKey:  cfg.Memsearch.EmbeddingAPIKey.Value(),
		}, log)
		if err != nil {
			return fmt.Errorf("init embeddings: %w", err)
		}

		searcher, err := memsearch.NewQdrantSearcher(memsearch.Config{
			Host:           cfg.Memsearch.Host,
			Port:           cfg.Memsearch.Port,
			CollectionName: cfg.Memsearch.CollectionName,
			VectorSize:     cfg.Memsearch.VectorSize,
			UseTLS:         cfg.Memsearch.UseTLS,
		}, embedSvc, log)
		if err != nil {
			return fmt.Errorf("init memory search: %w", err)
		}
		defer func() { _ = searcher.Close() }()
		memory = searcher
		log.Info(ctx, "memory search enabled",
			zap.String("collection", cfg.Memsearch.CollectionName))
	}

	registry := contract.NewRegistry()
	specialists := make([]contract.AgentType, 0, len(cfg.Engine.Agents))
	for _, a := range cfg.Engine.Agents {
		specialists = append(specialists, contract.AgentType(a))
	}
	if err := contract.RegisterBase(registry, specialists...); err != nil {
		return fmt.Errorf("register schemas: %w", err)
	}

	eng := engine.New(engine.Deps{
		Registry:  registry,
		Isolation: isolation.NewValidator(log),
		Tracker:   trk,
		Progress:  prog,
		Invoker:   invoker,
		Memory:    memory,
		Telemetry: telemetry.NewWorkflow(tel),
		Logger:    log,
	}, engine.Config{
		WorkflowTimeout:    cfg.Engine.WorkflowTimeout.Duration(),
		MaxDelegationDepth: cfg.Engine.MaxDelegationDepth,
	})

	if nc != nil {
		ctrl := control.NewServer(nc, eng, log)
		if err := ctrl.Start(); err != nil {
			return fmt.Errorf("start control surface: %w", err)
		}
		defer ctrl.Close()
		log.Info(ctx, "control surface listening",
			zap.String("subjects", "workflow.control.>"))
	} else {
		log.Warn(ctx, "nats disabled, no control surface or agent transport")
	}

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn(context.Background(), "metrics listener failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
		log.Info(ctx, "metrics listening", zap.String("addr", addr))
	}

	log.Info(ctx, "orchestd ready")
	<-ctx.Done()
	log.Info(context.Background(), "shutting down")
	return nil
}

// telemetryConfig maps the flat file config onto the telemetry package's
// config shape.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.Endpoint = cfg.Telemetry.Endpoint
	tcfg.Protocol = cfg.Telemetry.Protocol
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.ServiceVersion = cfg.Telemetry.ServiceVersion
	tcfg.Insecure = cfg.Telemetry.Insecure
	tcfg.Sampling.Rate = cfg.Telemetry.SamplingRate
	tcfg.Metrics.Enabled = cfg.Telemetry.MetricsEnabled
	tcfg.Metrics.ExportInterval = cfg.Telemetry.ExportInterval
	return tcfg
}
