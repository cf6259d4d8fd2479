package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/docsense/internal/config"
	"github.com/kirillkom/docsense/internal/core/inference"
	"github.com/kirillkom/docsense/internal/core/memory"
	"github.com/kirillkom/docsense/internal/core/ports"
	"github.com/kirillkom/docsense/internal/core/routing"
	"github.com/kirillkom/docsense/internal/core/session"
	"github.com/kirillkom/docsense/internal/core/usecase"
	"github.com/kirillkom/docsense/internal/infrastructure/dataset/jsonl"
	"github.com/kirillkom/docsense/internal/infrastructure/embedding/clip"
	"github.com/kirillkom/docsense/internal/infrastructure/extractor/imagefeatures"
	"github.com/kirillkom/docsense/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docsense/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docsense/internal/infrastructure/repository/sqldb"
	"github.com/kirillkom/docsense/internal/infrastructure/resilience"
	"github.com/kirillkom/docsense/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docsense/internal/infrastructure/vector/chromem"
	"github.com/kirillkom/docsense/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/docsense/internal/observability/logging"
	"github.com/kirillkom/docsense/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	DB          *sqldb.DB
	Queue       *nats.Queue
	HTTPMetrics *metrics.HTTPServerMetrics

	Companion *usecase.CompanionUseCase
	Feedback  *usecase.FeedbackUseCase
	Improver  *usecase.FeedbackImprover

	readyFn func(ctx context.Context) error
	closeFn func()
}

// Components are the outbound adapters an App is assembled from.
type Components struct {
	DB        *sqldb.DB
	Storage   ports.ObjectStorage
	Model     ports.VisionModel
	Embedder  ports.Embedder
	Memory    ports.MemoryIndex
	Queue     ports.FeedbackQueue
	Dataset   ports.DatasetWriter
	Prompts   ports.PromptRouter
	Telemetry ports.Telemetry
	Logger    *slog.Logger
}

type Option func(*options)

type options struct {
	queueLag func(time.Duration)
}

// WithQueueLagObserver reports the delivery delay of consumed feedback messages.
func WithQueueLagObserver(fn func(time.Duration)) Option {
	return func(o *options) { o.queueLag = fn }
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	logger = logging.OrDefault(logger)
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sqldb.OpenDB(cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	prompts := routing.DefaultPromptTable()
	if strings.TrimSpace(cfg.PromptsFile) != "" {
		prompts, err = routing.LoadPromptTable(cfg.PromptsFile)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("load prompts: %w", err)
		}
	}

	memoryIndex, err := openMemoryIndex(cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var queue *nats.Queue
	var feedbackQueue ports.FeedbackQueue
	if cfg.FeedbackQueueEnabled {
		queue, err = nats.NewWithOptions(cfg.NATSURL, cfg.FeedbackSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.QueueConfig(), logger),
			Logger:             logger,
			LagObserver:        o.queueLag,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init feedback queue: %w", err)
		}
		feedbackQueue = queue
	}

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	model := ollama.New(cfg.OllamaURL, cfg.OllamaVisionModel, resilience.NewExecutor(resilience.InferenceConfig(), logger))
	embedder := clip.NewClient(cfg.ClipURL, resilience.NewExecutor(resilience.EmbeddingConfig(), logger), logger)

	app := Assemble(cfg, Components{
		DB:        db,
		Storage:   storage,
		Model:     model,
		Embedder:  embedder,
		Memory:    memoryIndex,
		Queue:     feedbackQueue,
		Dataset:   jsonl.NewWriter(cfg.DatasetDir, cfg.OllamaVisionModel),
		Prompts:   prompts,
		Telemetry: httpMetrics.Telemetry("api"),
		Logger:    logger,
	})
	app.Queue = queue
	app.HTTPMetrics = httpMetrics
	app.readyFn = func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if err := model.Ping(ctx); err != nil {
			return fmt.Errorf("vision model: %w", err)
		}
		return nil
	}
	app.closeFn = func() {
		if queue != nil {
			queue.Close()
		}
		_ = db.Close()
	}
	return app, nil
}

// Assemble wires the core services on top of already opened adapters.
func Assemble(cfg config.Config, c Components) *App {
	logger := logging.OrDefault(c.Logger)
	telemetry := c.Telemetry
	if telemetry == nil {
		telemetry = ports.NopTelemetry{}
	}
	prompts := c.Prompts
	if prompts == nil {
		prompts = routing.DefaultPromptTable()
	}

	conversations := sqldb.NewConversationLog(c.DB)
	documents := sqldb.NewRecentDocumentIndex(c.DB, cfg.RecentDocsRetention)
	feedbackStore := sqldb.NewFeedbackRepository(c.DB)
	extractor := imagefeatures.NewExtractor(c.Storage, int64(cfg.MaxUploadMB)<<20)

	gate := inference.NewGate(c.Model, cfg.InferenceTimeout, telemetry, logger)
	classifier := routing.NewRouter(gate.Named("classify"), cfg.ClassifyMaxTokens, logger)

	sessions := session.NewManager(session.Deps{
		Registry:      session.NewRegistry(),
		Extractor:     extractor,
		Classifier:    classifier,
		Prompts:       prompts,
		Summarizer:    gate.Named("summarize"),
		Answerer:      gate.Named("answer"),
		Conversations: conversations,
		Documents:     documents,
		Telemetry:     telemetry,
		Logger:        logger,
	}, session.Config{
		SummaryMaxTokens: cfg.SummaryMaxTokens,
		AnswerMaxTokens:  cfg.AnswerMaxTokens,
		HistoryMessages:  cfg.SessionHistoryMessages,
	})

	mem := memory.NewService(c.Embedder, c.Memory, memory.Config{
		ContextSnippets: cfg.MemoryContextSnippets,
		SnippetChars:    cfg.MemorySnippetChars,
		SummaryChars:    cfg.MemorySummaryChars,
		SearchFanout:    cfg.MemorySearchFanout,
	}, telemetry, logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		DB:        c.DB,
		Companion: usecase.NewCompanionUseCase(sessions, mem, c.Storage, conversations, documents, telemetry, logger, cfg.RecentDocsLimit),
		Feedback:  usecase.NewFeedbackUseCase(feedbackStore, documents, c.Dataset, c.Queue, logger),
		Improver:  usecase.NewFeedbackImprover(feedbackStore, extractor, gate.Named("improve"), c.Dataset, cfg.SummaryMaxTokens, logger),
	}
}

func openMemoryIndex(cfg config.Config, logger *slog.Logger) (ports.MemoryIndex, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.VectorBackend)) {
	case "qdrant":
		return qdrant.NewMemoryIndex(cfg.QdrantURL, cfg.QdrantMemoryCollection), nil
	case "", "chromem":
		store, err := chromem.Open(cfg.VectorIndexPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

// Ready reports whether the store and the vision model are reachable.
func (a *App) Ready(ctx context.Context) error {
	if a.readyFn == nil {
		return nil
	}
	return a.readyFn(ctx)
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
