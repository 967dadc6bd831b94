package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-worker/handler"
	"chat-worker/internal/config"
	"chat-worker/internal/integrations/identity"
	"chat-worker/internal/integrations/openai"
	"chat-worker/internal/integrations/paramstore"
	"chat-worker/internal/logging"
	"chat-worker/internal/metrics"
	"chat-worker/internal/modelrouter"
	"chat-worker/internal/quota"
	"chat-worker/internal/repository"
	"chat-worker/internal/title"
	"chat-worker/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	// A .env file is optional; Lambda never ships one.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fatal(slog.Default(), "failed to read .env", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fatal(slog.Default(), "invalid configuration", err)
	}
	log := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal(log, "failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithTTL(cfg.ParamCacheTTL))
	if err != nil {
		fatal(log, "failed to create SSM client", err)
	}
	llm, err := openai.NewClient(ssmClient, cfg.ParamPrefix,
		openai.WithBaseURL(cfg.LLMBaseURL),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.LLMTimeout}),
	)
	if err != nil {
		fatal(log, "failed to create LLM client", err)
	}
	verifier, err := identity.New(cfg.IdentityURL, cfg.IdentityAPIKey, identity.WithCacheTTL(cfg.IdentityCacheTTL))
	if err != nil {
		fatal(log, "failed to create identity client", err)
	}
	store, err := newQuotaStore(cfg, awsdynamodb.NewFromConfig(awsCfg))
	if err != nil {
		fatal(log, "failed to create quota store", err)
	}

	// ---- Services ----
	m := metrics.New(prometheus.DefaultRegisterer)
	limiter, err := quota.New(store, cfg.MaxReqPerDay)
	if err != nil {
		fatal(log, "failed to create quota limiter", err)
	}
	router, err := modelrouter.New(llm, modelrouter.Config{
		Default:   cfg.Model,
		Fast:      cfg.FastModel,
		Deep:      cfg.DeepModel,
		Fallbacks: cfg.Fallbacks(),
	}, modelrouter.WithObserver(m))
	if err != nil {
		fatal(log, "failed to create model router", err)
	}
	extractor, err := title.Default()
	if err != nil {
		fatal(log, "failed to load title vocabulary", err)
	}
	var titleOpts []usecase.TitleOption
	if cfg.TitleModel != "" {
		titleLimiter, err := quota.New(store, cfg.MaxTitlePerDay, quota.WithKeyPrefix("rlt:"))
		if err != nil {
			fatal(log, "failed to create title limiter", err)
		}
		titleOpts = append(titleOpts, usecase.WithTitleQuota(titleLimiter))
	}
	titles, err := usecase.NewTitleService(extractor, llm, cfg.TitleModel, m, titleOpts...)
	if err != nil {
		fatal(log, "failed to create title service", err)
	}
	chat, err := usecase.NewChatService(limiter, router, llm, titles,
		usecase.WithLimits(cfg.MaxMessages, cfg.MaxMessageChars),
		usecase.WithRecorder(m),
	)
	if err != nil {
		fatal(log, "failed to create chat service", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(chat, titles, verifier,
		handler.WithAllowedOrigins(cfg.AllowedOrigins),
		handler.WithLogger(log),
		handler.WithObserver(m),
	)
	if err != nil {
		fatal(log, "failed to create handler", err)
	}

	log.Info("chat-worker starting",
		"run_mode", cfg.RunMode,
		"quota_backend", cfg.QuotaBackend,
		"model", cfg.Model,
		"max_per_day", limiter.Max(),
	)

	if cfg.RunMode == config.RunModeLambda {
		lambda.Start(h.Handle)
		return
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	server := handler.NewHTTPServer(sigCtx, cfg.HTTPAddr, handler.NewRouter(h, promhttp.Handler()))
	if err := handler.Serve(sigCtx, server, log); err != nil {
		fatal(log, "http server failed", err)
	}
	log.Info("http server stopped")
}

func newQuotaStore(cfg *config.Config, ddb *awsdynamodb.Client) (quota.Store, error) {
	switch cfg.QuotaBackend {
	case config.QuotaBackendRedis:
		return repository.NewRedis(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}))
	case config.QuotaBackendMemory:
		return quota.NewMemoryStore(), nil
	default:
		return repository.New(ddb, cfg.QuotaTable)
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}
