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

	"github.com/xxxsen/docask/internal/ai"
	"github.com/xxxsen/docask/internal/chunker"
	"github.com/xxxsen/docask/internal/config"
	"github.com/xxxsen/docask/internal/db"
	"github.com/xxxsen/docask/internal/embedcache"
	"github.com/xxxsen/docask/internal/extract"
	"github.com/xxxsen/docask/internal/filestore"
	"github.com/xxxsen/docask/internal/handler"
	"github.com/xxxsen/docask/internal/job"
	"github.com/xxxsen/docask/internal/middleware"
	"github.com/xxxsen/docask/internal/pipeline"
	"github.com/xxxsen/docask/internal/pkg/jwt"
	"github.com/xxxsen/docask/internal/rag"
	"github.com/xxxsen/docask/internal/repo"
	"github.com/xxxsen/docask/internal/schedule"
	"github.com/xxxsen/docask/internal/service"
	"github.com/xxxsen/docask/internal/task"
)

const drainTimeout = 30 * time.Second

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "docask",
		Short: "docask backend server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run docask server",
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

			dbConn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(dbConn); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, dbConn)
		},
	}

	var tokenUserID, tokenEmail string
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "issue a bearer token for a user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			if tokenUserID == "" {
				return fmt.Errorf("--user-id is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			token, err := jwt.GenerateToken(tokenUserID, tokenEmail, []byte(cfg.JWTSecret), time.Hour*time.Duration(cfg.JWTTTLHours))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "user id to issue the token for")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "optional email claim")

	rootCmd.AddCommand(runCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, dbConn *sql.DB) error {
	defer func() { _ = dbConn.Close() }()
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("chat_provider", cfg.AI.Chat.Provider),
		zap.String("embed_provider", cfg.AI.Embedding.Provider),
	)

	spaceRepo := repo.NewSpaceRepo(dbConn)
	docRepo := repo.NewDocumentRepo(dbConn)
	chunkRepo := repo.NewChunkRepo(dbConn)
	convRepo := repo.NewConversationRepo(dbConn)
	msgRepo := repo.NewMessageRepo(dbConn)
	citeRepo := repo.NewCitationRepo(dbConn)
	cacheRepo := repo.NewEmbeddingCacheRepo(dbConn)

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	chat, err := buildChat(cfg.AI)
	if err != nil {
		return err
	}
	embedder, err := buildEmbedder(cfg.AI, cacheRepo)
	if err != nil {
		return err
	}

	var parser *extract.ParserClient
	if cfg.Parser.Endpoint != "" {
		parser = extract.NewParserClient(cfg.Parser.Endpoint, cfg.Parser.APIKey, time.Duration(cfg.Parser.TimeoutSeconds)*time.Second)
	}
	extractor := extract.New(parser)
	splitter := chunker.New(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap)

	runner := task.NewRunner(cfg.Pipeline.MaxWorkers)
	coord, err := pipeline.New(docRepo, chunkRepo, store, extractor, splitter, embedder, runner, pipeline.Options{
		Retry: task.RetryPolicy{
			MaxAttempts: cfg.Pipeline.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Pipeline.Retry.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Pipeline.Retry.MaxDelayMs) * time.Millisecond,
			Factor:      cfg.Pipeline.Retry.Factor,
			Jitter:      cfg.Pipeline.Retry.Jitter,
		},
		EmbedDimension:     cfg.AI.EmbedDimension,
		EmbedBatchSize:     cfg.AI.EmbedBatchSize,
		EmbedBatchDelay:    time.Duration(cfg.AI.EmbedBatchDelayMs) * time.Millisecond,
		EmbedRatePerSecond: cfg.AI.EmbedRatePerSecond,
		EmbedTimeout:       time.Duration(cfg.AI.EmbedTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	retriever := rag.NewRetriever(embedder, chunkRepo, cfg.Retrieval.TopK, cfg.Retrieval.Threshold)

	spaceService := service.NewSpaceService(spaceRepo)
	maxUploadBytes := cfg.MaxUploadSizeMB * 1024 * 1024
	documentService := service.NewDocumentService(docRepo, spaceService, store, coord,
		maxUploadBytes,
		time.Duration(cfg.Schedule.SyncMinAgeMin)*time.Minute,
		cfg.Pipeline.MaxWorkers,
	)
	chatService := service.NewChatService(spaceService, convRepo, msgRepo, citeRepo, retriever, chat,
		time.Duration(cfg.AI.ChatTimeoutSeconds)*time.Second,
		cfg.Retrieval.HistoryExchanges,
	)

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewDocumentSyncJob(documentService), cfg.Schedule.SyncSpec); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(cacheRepo, cfg.Schedule.CacheTTLDays), cfg.Schedule.CacheCleanupSpec); err != nil {
		return err
	}

	deps := handler.RouterDeps{
		Spaces:    handler.NewSpaceHandler(spaceService),
		Documents: handler.NewDocumentHandler(documentService, maxUploadBytes),
		Chat:      handler.NewChatHandler(chatService),
		JWTSecret: []byte(cfg.JWTSecret),
		AskWindow: time.Duration(cfg.AskRateLimitSeconds) * time.Second,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	scheduler.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := runner.Shutdown(drainCtx); err != nil {
		logutil.GetLogger(context.Background()).Warn("pipeline drain incomplete", zap.Error(err))
	}
	return nil
}

func buildChat(cfg config.AIConfig) (ai.IChat, error) {
	providers := append([]config.AIProviderConfig{cfg.Chat}, cfg.ChatFallbacks...)
	entries := make([]ai.ChatEntry, 0, len(providers))
	for _, pc := range providers {
		provider, err := ai.NewChatProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("init chat provider %s: %w", pc.Provider, err)
		}
		entries = append(entries, ai.ChatEntry{
			Name: pc.Provider + "/" + pc.Model,
			Chat: ai.NewChat(provider, pc.Model),
		})
	}
	if len(entries) == 1 {
		return entries[0].Chat, nil
	}
	return ai.NewGroupChat(entries), nil
}

// buildEmbedder stacks the caches around the provider: LRU in front for hot
// queries, the DB cache behind it so re-ingesting a document never re-bills
// the same text.
func buildEmbedder(cfg config.AIConfig, cacheRepo *repo.EmbeddingCacheRepo) (ai.IEmbedder, error) {
	provider, err := ai.NewEmbedProvider(cfg.Embedding.Provider, cfg.Embedding.Data)
	if err != nil {
		return nil, fmt.Errorf("init embed provider %s: %w", cfg.Embedding.Provider, err)
	}
	embedder := ai.NewEmbedder(provider, cfg.Embedding.Model)
	embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	if cfg.Cache.LRUSize > 0 {
		embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.Cache.LRUSize, time.Duration(cfg.Cache.LRUTTLMinutes)*time.Minute)
	}
	return embedder, nil
}
