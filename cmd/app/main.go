package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"content-batch/internal/config"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
	"content-batch/internal/domain/ports/repository"
	aiAdapters "content-batch/internal/infra/adapters/ai"
	"content-batch/internal/infra/api"
	"content-batch/internal/infra/blob"
	"content-batch/internal/infra/db/memory"
	pg "content-batch/internal/infra/db/postgres"
	"content-batch/internal/infra/logging"
	"content-batch/internal/infra/metrics"
	"content-batch/internal/infra/publish"
	red "content-batch/internal/infra/redis"
	"content-batch/internal/infra/scheduler"
	"content-batch/internal/infra/telegram"
	"content-batch/internal/usecase"
)

var (
	version = "dev"
	commit  = ""
)

type stores struct {
	jobs     repository.JobRepository
	items    repository.WorkItemRepository
	accounts repository.QuotaAccountRepository
	entries  repository.LedgerRepository
	tm       repository.TransactionManager
	pool     *pgxpool.Pool
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (in-memory fallbacks, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Redis (optional) ----
	var (
		locker   repository.Locker
		jobCache red.RedisClient
		limiter  api.RateLimiter
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer rc.Close()
		locker = red.NewLocker(rc)
		jobCache = rc
		limiter = red.NewRateLimiter(rc)
		logger.Info().Str("addr", cfg.Redis.URL).Msg("redis connected")
	} else {
		locker = memory.NewKeyedLocker()
		logger.Warn().Msg("redis not configured; account locks are process-local")
	}

	// ---- Storage ----
	st, err := openStores(ctx, cfg, jobCache, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage")
	}
	if st.pool != nil {
		defer st.pool.Close()
		go pg.ReportPoolStats(ctx, st.pool, 15*time.Second)
	}

	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("blob store")
	}

	// ---- Generation ----
	text, err := buildTextModel(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ai")
	}
	generator := aiAdapters.NewPipelineGenerator(text, cfg.AI.DefaultModel, logger)

	// ---- Publishing ----
	publishers := map[model.Platform]adapter.Publisher{
		model.PlatformInstagram: publish.NewLogPublisher(model.PlatformInstagram, logger),
		model.PlatformTikTok:    publish.NewLogPublisher(model.PlatformTikTok, logger),
		model.PlatformYouTube:   publish.NewLogPublisher(model.PlatformYouTube, logger),
	}
	if cfg.Publish.Telegram.Token != "" {
		tg, err := telegram.NewChannelPublisher(cfg.Publish.Telegram.Token, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram publisher")
		}
		publishers[model.PlatformTelegram] = tg
	}

	// ---- Use cases ----
	ledgerUC := usecase.NewLedgerUseCase(st.accounts, st.entries, st.tm, locker, logger)
	orchUC := usecase.NewOrchestratorUseCase(
		st.jobs, st.items, st.tm, ledgerUC, generator, blobs,
		usecase.NewCostTable(cfg.Pricing.Article, cfg.Pricing.SocialPost, cfg.Pricing.Video),
		usecase.OrchestratorConfig{
			DefaultBatchSize: cfg.Batch.DefaultSize,
			MaxBatchSize:     cfg.Batch.MaxSize,
			InterBatchDelay:  cfg.Batch.InterBatchDelay,
			CallTimeout:      cfg.AI.CallTimeout,
			ErrorLogCap:      cfg.Batch.ErrorLogCap,
			FailWhenAllFail:  cfg.Batch.FailWhenAllFail,
			BacklogPageLimit: cfg.Batch.BacklogPageLimit,
		},
		logger,
	)
	publishUC := usecase.NewPublishUseCase(st.items, blobs, publish.NewDispatcher(publishers), logger)

	// ---- Backlog sweeper ----
	var sweeper *scheduler.BacklogSweeper
	if cfg.Scheduler.BacklogCron != "" {
		sweeper, err = scheduler.NewBacklogSweeper(cfg.Scheduler.BacklogCron, cfg.Scheduler.BacklogAccountID, orchUC, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler")
		}
		if err := sweeper.Start(); err != nil {
			logger.Fatal().Err(err).Msg("scheduler start")
		}
	}

	// ---- HTTP ----
	if cfg.Security.JWTSecret == "" {
		logger.Warn().Msg("security.jwt_secret empty; /api/v1 will refuse every request")
	}
	srv := api.NewServer(orchUC, ledgerUC, publishUC,
		api.NewAuthManager(cfg.Security.JWTSecret, cfg.Security.TokenTTL),
		limiter,
		api.Options{
			RequestTimeout: cfg.HTTP.RequestTimeout,
			JobStartLimit:  cfg.HTTP.JobStartLimit,
			JobStartWindow: cfg.HTTP.JobStartWindow,
		},
		logger,
	)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Str("version", version).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	if err := orchUC.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("orchestrator shutdown")
	}
	logger.Info().Msg("bye")
}

func openStores(ctx context.Context, cfg *config.Config, jobCache red.RedisClient, logger *zerolog.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn().Msg("using in-memory storage; state is lost on exit")
		s := memory.NewStore()
		return &stores{
			jobs:     memory.NewJobRepo(s),
			items:    memory.NewWorkItemRepo(s),
			accounts: memory.NewQuotaAccountRepo(s),
			entries:  memory.NewLedgerRepo(s),
			tm:       memory.NewTxManager(s),
		}, nil
	}

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	tm := pg.NewTxManager(pool)
	var jobs repository.JobRepository = pg.NewJobRepo(pool)
	if jobCache != nil {
		jobs = pg.NewJobRepoCacheDecorator(jobs, jobCache, cfg.Redis.TTL)
	}
	return &stores{
		jobs:     jobs,
		items:    pg.NewWorkItemRepo(pool, tm),
		accounts: pg.NewQuotaAccountRepo(pool),
		entries:  pg.NewLedgerRepo(pool),
		tm:       tm,
		pool:     pool,
	}, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (adapter.BlobStore, error) {
	if cfg.Storage.Backend == "minio" {
		return blob.NewMinioStore(ctx, cfg.Storage, logger)
	}
	logger.Warn().Msg("using in-memory artifact storage")
	return blob.NewMemoryStore(), nil
}

// buildTextModel registers every provider with a key; in dev mode a noop
// model stands in when none is configured.
func buildTextModel(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (adapter.TextModel, error) {
	byProvider := map[string]adapter.TextModel{}
	if cfg.AI.OpenAIKey != "" {
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.DefaultModel, cfg.AI.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		byProvider["openai"] = oa
	}
	if cfg.AI.GeminiKey != "" {
		gm, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, "", cfg.AI.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		byProvider["gemini"] = gm
	}
	if len(byProvider) == 0 {
		if !cfg.Runtime.Dev {
			return nil, errors.New("no AI provider configured: set ai.openai_key or ai.gemini_key")
		}
		logger.Warn().Msg("no AI provider configured; using noop model")
		byProvider["noop"] = aiAdapters.NewNoopModel(50*time.Millisecond, logger)
	}
	providers := make([]string, 0, len(byProvider))
	for name := range byProvider {
		providers = append(providers, name)
	}
	logger.Info().Strs("providers", providers).Str("default_model", cfg.AI.DefaultModel).Msg("ai providers ready")

	multi := aiAdapters.NewMultiModel(cfg.AI.DefaultProvider, byProvider, cfg.AI.ModelProviders)
	return aiAdapters.NewLimitedModel(multi, cfg.AI.ConcurrentLimit), nil
}
