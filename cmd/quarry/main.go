package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/quarryai/quarry/internal/ai"
	"github.com/quarryai/quarry/internal/chat"
	"github.com/quarryai/quarry/internal/config"
	"github.com/quarryai/quarry/internal/db"
	"github.com/quarryai/quarry/internal/embedcache"
	"github.com/quarryai/quarry/internal/filestore"
	"github.com/quarryai/quarry/internal/handler"
	"github.com/quarryai/quarry/internal/ingest"
	"github.com/quarryai/quarry/internal/job"
	"github.com/quarryai/quarry/internal/middleware"
	"github.com/quarryai/quarry/internal/repo"
	"github.com/quarryai/quarry/internal/retrieval"
	"github.com/quarryai/quarry/internal/schedule"
	"github.com/quarryai/quarry/internal/service"
	"github.com/quarryai/quarry/internal/vector"
	"github.com/quarryai/quarry/internal/vector/memory"
	"github.com/quarryai/quarry/internal/vector/pgvector"
	"github.com/quarryai/quarry/internal/vector/pinecone"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "quarry",
		Short: "quarry document QA server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run quarry server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			conn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(conn); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, conn)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func buildVectorStore(cfg config.VectorConfig, conn *sql.DB) (vector.Store, error) {
	switch cfg.Type {
	case "", "pgvector":
		return pgvector.New(conn), nil
	case "pinecone":
		return pinecone.New(cfg.Pinecone.APIKey, cfg.Pinecone.IndexHost)
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
}

func runServer(cfg *config.Config, conn *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("vector_store", cfg.Vector.Type),
		zap.String("ai_provider", cfg.AI.Provider),
	)

	tenantRepo := repo.NewTenantRepo(conn)
	userRepo := repo.NewUserRepo(conn)
	docRepo := repo.NewDocumentRepo(conn)
	versionRepo := repo.NewVersionRepo(conn)
	chunkRepo := repo.NewChunkRepo(conn)
	jobRepo := repo.NewIngestionJobRepo(conn)
	conversationRepo := repo.NewConversationRepo(conn)
	messageRepo := repo.NewMessageRepo(conn)
	summaryRepo := repo.NewSummaryRepo(conn)
	runner := repo.NewRunner(conn)

	aiProvider, err := ai.NewProvider(cfg.AI.Provider, cfg.AI.Data)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	generator := ai.NewGenerator(aiProvider, cfg.AI.Model)
	embedder := ai.NewEmbedder(aiProvider, cfg.AI.EmbedModel)
	if cfg.AI.EmbedCache.Size > 0 {
		embedder = embedcache.WrapLRU(embedder, cfg.AI.EmbedCache.Size, time.Duration(cfg.AI.EmbedCache.TTLMinutes)*time.Minute)
	}

	store, err := buildVectorStore(cfg.Vector, conn)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	pipeline, err := ingest.NewPipeline(docRepo, versionRepo, chunkRepo, jobRepo, runner, embedder, store, ingest.PipelineConfig{
		ChunkSize:       cfg.Ingestion.ChunkSize,
		ChunkOverlap:    cfg.Ingestion.ChunkOverlap,
		EmbedBatchSize:  cfg.Ingestion.EmbedBatchSize,
		NamespacePrefix: cfg.Vector.NamespacePrefix,
		Env:             cfg.Vector.Env,
	})
	if err != nil {
		return fmt.Errorf("init ingest pipeline: %w", err)
	}

	reranker, err := retrieval.NewReranker(cfg.Retrieval.Reranker, generator)
	if err != nil {
		return fmt.Errorf("init reranker: %w", err)
	}
	retriever, err := retrieval.NewPipeline(embedder, store, chunkRepo, docRepo, reranker, retrieval.Config{
		TopK:            cfg.Retrieval.TopK,
		FetchK:          cfg.Retrieval.FetchK,
		UseMMR:          cfg.Retrieval.UseMMR,
		MMRLambda:       cfg.Retrieval.MMRLambda,
		RerankEnabled:   cfg.Retrieval.RerankEnabled,
		NamespacePrefix: cfg.Vector.NamespacePrefix,
		Env:             cfg.Vector.Env,
	})
	if err != nil {
		return fmt.Errorf("init retrieval pipeline: %w", err)
	}

	memoryManager := chat.NewManager(messageRepo, summaryRepo, generator, chat.MemoryConfig{
		MemoryTurns:    cfg.Chat.MemoryTurns,
		SummaryCadence: cfg.Chat.SummaryRefreshTurns,
	})

	jwtTTL := time.Hour * time.Duration(cfg.JWTTTLHours)
	authService := service.NewAuthService(tenantRepo, userRepo, []byte(cfg.JWTSecret), jwtTTL)
	documentService := service.NewDocumentService(docRepo, versionRepo, chunkRepo, files, store, cfg.Vector.NamespacePrefix, cfg.Vector.Env)
	ingestService := service.NewIngestService(pipeline, files, jobRepo)
	chatService := service.NewChatService(conversationRepo, messageRepo, retriever, memoryManager, generator, service.ChatConfig{
		MaxMessageChars: cfg.Chat.MaxMessageChars,
	})

	deps := handler.RouterDeps{
		Auth:      handler.NewAuthHandler(authService),
		Documents: handler.NewDocumentHandler(documentService),
		Ingest:    handler.NewIngestHandler(documentService, ingestService),
		Chat:      handler.NewChatHandler(chatService),
		JWTSecret: []byte(cfg.JWTSecret),
	}
	if cfg.RateLimit.Enabled {
		deps.RateRPS = cfg.RateLimit.RPS
		deps.RateBurst = cfg.RateLimit.Burst
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.AllowedOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.New()
	sweeper := job.NewStaleJobSweeper(jobRepo, time.Duration(cfg.Jobs.StaleJobMinutes)*time.Minute)
	if err := scheduler.AddJob(sweeper, cfg.Jobs.SweepSpec); err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
