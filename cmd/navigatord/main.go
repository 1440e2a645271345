// Navigatord is a retrieval-augmented answering daemon. It ingests
// source documents into a vector index and answers user queries over
// HTTP by combining retrieved context with a generative model,
// escalating to a human operator when policy requires.
//
// Configuration is loaded from a YAML file and environment variables.
// See internal/config for details. The generative model API key is read
// from OPENAI_API_KEY.
//
// Usage:
//
//	# Start with defaults
//	navigatord
//
//	# Start with a config file
//	navigatord -config /etc/navigatord/config.yaml
//
//	# Configure via environment
//	NAVIGATORD_SERVER_PORT=9090 navigatord
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/navigatord/internal/assistant"
	"github.com/fyrsmithlabs/navigatord/internal/chunker"
	"github.com/fyrsmithlabs/navigatord/internal/config"
	"github.com/fyrsmithlabs/navigatord/internal/embeddings"
	"github.com/fyrsmithlabs/navigatord/internal/escalation"
	"github.com/fyrsmithlabs/navigatord/internal/generation"
	"github.com/fyrsmithlabs/navigatord/internal/httpapi"
	"github.com/fyrsmithlabs/navigatord/internal/ingest"
	"github.com/fyrsmithlabs/navigatord/internal/logging"
	"github.com/fyrsmithlabs/navigatord/internal/prompt"
	"github.com/fyrsmithlabs/navigatord/internal/retrieval"
	"github.com/fyrsmithlabs/navigatord/internal/session"
	"github.com/fyrsmithlabs/navigatord/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  navigatord           Start the navigatord daemon\n")
			fmt.Fprintf(os.Stderr, "  navigatord version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("navigatord by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the navigatord daemon and blocks until the context is
// cancelled. Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting navigatord",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("embeddings_backend", cfg.Embeddings.Backend),
		zap.String("vectorstore_backend", cfg.VectorStore.Backend),
	)

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("dependencies initialized",
		zap.String("embedding_model", deps.provider.Model()),
		zap.Int("dimension", deps.provider.Dimension()),
		zap.Bool("nats_connected", deps.natsConn != nil),
	)

	pipeline, sessions, svc, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	sessions.Start()
	defer sessions.Close()

	if cfg.Ingest.WatchDir != "" {
		watcher, err := ingest.NewWatcher(ingest.WatcherConfig{
			Dir:      cfg.Ingest.WatchDir,
			Debounce: cfg.Ingest.Debounce,
		}, pipeline, logger)
		if err != nil {
			return fmt.Errorf("failed to create document watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start document watcher: %w", err)
		}
		defer func() {
			_ = watcher.Close()
		}()
		logger.Info("watching for documents", zap.String("dir", cfg.Ingest.WatchDir))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := httpapi.NewServer(httpapi.Config{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, svc, pipeline, registry, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("chat_endpoint", "/api/v1/chat"),
		zap.String("metrics_endpoint", "/metrics"),
	)

	return srv.Start(ctx)
}

// dependencies holds infrastructure the services are built on.
type dependencies struct {
	provider embeddings.Provider
	store    vectorstore.Store
	natsConn *nats.Conn
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	provider, err := initProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := initStore(ctx, cfg, provider, logger)
	if err != nil {
		return nil, err
	}

	deps := &dependencies{provider: provider, store: store}

	if cfg.Escalation.NATSURL != "" {
		conn, err := nats.Connect(cfg.Escalation.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Escalation.NATSURL, err)
		}
		deps.natsConn = conn
	}

	return deps, nil
}

// initProvider builds the embedding provider with bounded retries.
func initProvider(cfg *config.Config, logger *zap.Logger) (embeddings.Provider, error) {
	var (
		inner embeddings.Provider
		err   error
	)
	switch cfg.Embeddings.Backend {
	case "fastembed":
		inner, err = embeddings.NewFastEmbedProvider(embeddings.FastEmbedConfig{
			Model:     cfg.Embeddings.FastEmbed.Model,
			CacheDir:  cfg.Embeddings.FastEmbed.CacheDir,
			MaxLength: cfg.Embeddings.FastEmbed.MaxLength,
		})
	default:
		inner, err = embeddings.NewTEIProvider(embeddings.TEIConfig{
			BaseURL:       cfg.Embeddings.TEI.BaseURL,
			Model:         cfg.Embeddings.TEI.Model,
			Dimension:     cfg.Embeddings.TEI.Dimension,
			MaxInputChars: cfg.Embeddings.TEI.MaxInputChars,
			Timeout:       cfg.Embeddings.TEI.Timeout,
		}, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	return embeddings.NewRetryProvider(inner, embeddings.RetryConfig{
		MaxAttempts: cfg.Embeddings.MaxAttempts,
		BaseBackoff: cfg.Embeddings.BaseBackoff,
	}, logger), nil
}

// initStore builds the vector store, sized and tagged by the embedding
// provider, wrapped with bounded retries.
func initStore(ctx context.Context, cfg *config.Config, provider embeddings.Provider, logger *zap.Logger) (vectorstore.Store, error) {
	var (
		inner vectorstore.Store
		err   error
	)
	switch cfg.VectorStore.Backend {
	case "qdrant":
		inner, err = vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
			Host:            cfg.VectorStore.Qdrant.Host,
			Port:            cfg.VectorStore.Qdrant.Port,
			UseTLS:          cfg.VectorStore.Qdrant.UseTLS,
			Collection:      cfg.VectorStore.Qdrant.Collection,
			VectorSize:      provider.Dimension(),
			ModelVersion:    provider.Model(),
			HNSWM:           cfg.VectorStore.Qdrant.HNSWM,
			HNSWEfConstruct: cfg.VectorStore.Qdrant.HNSWEfConstruct,
			HNSWEfSearch:    cfg.VectorStore.Qdrant.HNSWEfSearch,
		}, logger)
	default:
		inner, err = vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:         cfg.VectorStore.Chromem.Path,
			Compress:     cfg.VectorStore.Chromem.Compress,
			Collection:   cfg.VectorStore.Chromem.Collection,
			VectorSize:   provider.Dimension(),
			ModelVersion: provider.Model(),
		}, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	return vectorstore.NewResilientStore(inner, vectorstore.ResilientConfig{
		MaxAttempts: cfg.VectorStore.MaxAttempts,
		BaseBackoff: cfg.VectorStore.BaseBackoff,
	}, logger), nil
}

func initServices(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*ingest.Pipeline, *session.Manager, *assistant.Service, error) {
	ch, err := chunker.New(chunker.Config{
		ChunkSize: cfg.Ingest.ChunkSize,
		Overlap:   cfg.Ingest.Overlap,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	statusStore, err := ingest.NewFileStatusStore(cfg.Ingest.StatusDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open ingestion status store: %w", err)
	}

	pipeline, err := ingest.NewPipeline(ingest.PipelineConfig{
		MaxChunkRetries: cfg.Ingest.MaxChunkRetries,
		RetryBackoff:    cfg.Ingest.RetryBackoff,
	}, ch, deps.provider, deps.store, statusStore, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}

	sessionStore, err := initSessionStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	sessions, err := session.NewManager(session.Config{
		InactivityWindow: cfg.Session.InactivityWindow,
		SweepInterval:    cfg.Session.SweepInterval,
		MaxTurns:         cfg.Session.MaxTurns,
	}, sessionStore, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	retriever, err := retrieval.New(retrieval.Config{
		TopK:     cfg.Retrieval.TopK,
		MinScore: cfg.Retrieval.MinScore,
	}, deps.provider, deps.store, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create retrieval orchestrator: %w", err)
	}

	composer, err := prompt.NewComposer(prompt.Config{
		TokenBudget:     cfg.Prompt.TokenBudget,
		MaxOutputTokens: cfg.Prompt.MaxOutputTokens,
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create prompt composer: %w", err)
	}

	generator, err := initGenerator(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	policy, err := escalation.NewPolicy(escalation.PolicyConfig{
		FailureThreshold:  cfg.Escalation.FailureThreshold,
		SensitivePatterns: cfg.Escalation.SensitivePatterns,
		BlockGeneration:   cfg.Escalation.BlockGeneration,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create escalation policy: %w", err)
	}

	sink := initSink(cfg, deps, logger)

	svc, err := assistant.New(assistant.Config{
		HistoryTurns: cfg.Assistant.HistoryTurns,
	}, sessions, retriever, composer, generator, policy, sink, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create assistant service: %w", err)
	}

	return pipeline, sessions, svc, nil
}

func initSessionStore(cfg *config.Config) (session.Store, error) {
	if cfg.Session.Dir == "" {
		return session.NewMemoryStore(), nil
	}
	store, err := session.NewFileStore(cfg.Session.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}

func initGenerator(cfg *config.Config, logger *zap.Logger) (generation.Client, error) {
	opts := []openai.Option{openai.WithModel(cfg.Generation.Model)}
	if cfg.Generation.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Generation.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create generative model client: %w", err)
	}

	client, err := generation.NewLangchainClient(generation.Config{
		Temperature:       cfg.Generation.Temperature,
		TopP:              cfg.Generation.TopP,
		MaxAttempts:       cfg.Generation.MaxAttempts,
		BaseBackoff:       cfg.Generation.BaseBackoff,
		RequestsPerSecond: cfg.Generation.RequestsPerSecond,
		Burst:             cfg.Generation.Burst,
	}, model, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}
	return client, nil
}

// initSink builds the escalation sink. Without a NATS URL tickets are
// logged so escalations stay visible to operators.
func initSink(cfg *config.Config, deps *dependencies, logger *zap.Logger) escalation.Sink {
	if deps.natsConn == nil {
		return escalation.NewLogSink(logger)
	}
	natsSink, err := escalation.NewNATSSink(escalation.NATSConfig{
		Subject:      cfg.Escalation.Subject,
		FlushTimeout: cfg.Escalation.FlushTimeout,
	}, deps.natsConn, logger)
	if err != nil {
		logger.Warn("failed to create NATS escalation sink, falling back to log", zap.Error(err))
		return escalation.NewLogSink(logger)
	}
	return escalation.NewRetrySink(escalation.RetryConfig{
		MaxAttempts: cfg.Escalation.MaxAttempts,
		BaseBackoff: cfg.Escalation.BaseBackoff,
	}, natsSink, logger)
}
