package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"captain-agent/handler"
	"captain-agent/internal/bill"
	"captain-agent/internal/compliance"
	"captain-agent/internal/config"
	"captain-agent/internal/integrations/gemini"
	"captain-agent/internal/integrations/openai"
	"captain-agent/internal/integrations/paramstore"
	"captain-agent/internal/observability/metrics"
	"captain-agent/internal/repository"
	"captain-agent/internal/usecase"
	logx "captain-agent/pkg/logger"
)

const geminiTokenParameter = "gemini-token"

// llmBackend is what the composition root needs from a model integration.
type llmBackend interface {
	usecase.DecisionClient
	compliance.Generator
}

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(".env")
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to load configuration")
	}
	logx.Init(logx.Options{Environment: cfg.Env(), Level: cfg.LogLevel})
	logx.Info().
		Str("env", cfg.Env().String()).
		Str("flow", cfg.Chat.Flow).
		Str("store", cfg.Store.Backend).
		Str("compliance", cfg.Compliance.Mode).
		Bool("lambda", cfg.OnLambda()).
		Msg("starting captain")

	loader := newAWSLoader(ctx)
	chatMetrics := metrics.NewChatMetrics(prometheus.DefaultRegisterer)

	// ---- Clients ----
	store, err := newStateStore(ctx, cfg, loader)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create state store")
	}
	bills, err := newBillStore(cfg, loader)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create bill store")
	}
	var llm llmBackend
	var moderator usecase.Moderator
	if cfg.NeedsLLM() {
		llm, moderator, err = newLLM(ctx, cfg, loader)
		if err != nil {
			logx.Fatal().Err(err).Msg("failed to create LLM client")
		}
	}

	kb := compliance.NewKnowledgeBase(cfg.Compliance.Threshold)
	checker, err := newComplianceChecker(cfg, kb, llm, chatMetrics)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create compliance checker")
	}
	renderer := bill.NewRenderer()

	// ---- Use cases ----
	var controller usecase.Controller
	switch cfg.Chat.Flow {
	case config.FlowGuided:
		controller, err = usecase.NewGuidedController(store, checker, usecase.WithGuidedMetrics(chatMetrics))
	default:
		opts := []usecase.AgentOption{
			usecase.WithAgentMetrics(chatMetrics),
			usecase.WithHistoryLimit(cfg.Chat.HistoryMessages),
		}
		if moderator != nil {
			opts = append(opts, usecase.WithModerator(moderator))
		}
		controller, err = usecase.NewAgentController(store, llm, renderer, bills, opts...)
	}
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create dialogue controller")
	}

	chat, err := usecase.NewChatService(controller, store, renderer, bills, kb,
		usecase.WithMaxMessageLength(cfg.Chat.MaxMessageLength),
		usecase.WithDefaultUser(cfg.Chat.DefaultUser),
	)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create chat service")
	}

	// ---- Handler ----
	hopts := []handler.Option{handler.WithMetrics(chatMetrics, promhttp.Handler())}
	if _, local := bills.(*bill.LocalStore); local {
		hopts = append(hopts, handler.WithBillDownloads())
	}
	h, err := handler.NewHandler(chat, hopts...)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create handler")
	}

	if cfg.OnLambda() {
		lambda.Start(h.Handle)
		return
	}
	serve(cfg.HTTPAddr, h.Routes())
}

func serve(addr string, routes http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logx.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("http server shutdown failed")
	}
	logx.Info().Msg("http server stopped")
}

// awsLoader loads the shared AWS config on first use so local runs without
// AWS credentials never touch it.
type awsLoader struct {
	ctx    context.Context
	cfg    aws.Config
	loaded bool
}

func newAWSLoader(ctx context.Context) *awsLoader {
	return &awsLoader{ctx: ctx}
}

func (l *awsLoader) config() (aws.Config, error) {
	if l.loaded {
		return l.cfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(l.ctx)
	if err != nil {
		return aws.Config{}, err
	}
	l.cfg, l.loaded = cfg, true
	return cfg, nil
}

func newStateStore(ctx context.Context, cfg config.Config, loader *awsLoader) (repository.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return repository.NewRedisStore(client, cfg.Store.TTL)
	case config.StoreDynamoDB:
		awsCfg, err := loader.config()
		if err != nil {
			return nil, err
		}
		return repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Store.DynamoTable)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.FilePath), 0o755); err != nil {
			return nil, err
		}
		return repository.NewFileStore(cfg.Store.FilePath)
	}
}

func newBillStore(cfg config.Config, loader *awsLoader) (bill.Store, error) {
	if cfg.Bills.S3Bucket == "" {
		return bill.NewLocalStore(cfg.Bills.Dir, cfg.PublicBaseURL)
	}
	awsCfg, err := loader.config()
	if err != nil {
		return nil, err
	}
	return bill.NewS3Store(awss3.NewFromConfig(awsCfg), cfg.Bills.S3Bucket, cfg.Bills.S3Prefix, cfg.Bills.PublicURL)
}

func newParamStore(cfg config.Config, loader *awsLoader) (*paramstore.Client, error) {
	awsCfg, err := loader.config()
	if err != nil {
		return nil, err
	}
	return paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix)
}

// newLLM returns the configured model backend and, when enabled, a
// moderator. Only the OpenAI backend offers moderation.
func newLLM(ctx context.Context, cfg config.Config, loader *awsLoader) (llmBackend, usecase.Moderator, error) {
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		key := cfg.LLM.GeminiAPIKey
		if key == "" {
			params, err := newParamStore(cfg, loader)
			if err != nil {
				return nil, nil, err
			}
			if key, err = params.Token(ctx, geminiTokenParameter); err != nil {
				return nil, nil, err
			}
		}
		if cfg.LLM.Moderation {
			logx.Warn().Msg("LLM_MODERATION is only supported by the openai provider, ignoring")
		}
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:      key,
			BaseURL:     cfg.LLM.GeminiBaseURL,
			Model:       cfg.LLM.GeminiModel,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		})
		return client, nil, err
	default:
		opts := []openai.Option{
			openai.WithModel(cfg.LLM.OpenAIModel),
			openai.WithTemperature(float64(cfg.LLM.Temperature)),
		}
		if cfg.LLM.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.LLM.OpenAIBaseURL))
		}
		if cfg.LLM.OpenAIAPIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.LLM.OpenAIAPIKey))
		} else {
			params, err := newParamStore(cfg, loader)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, openai.WithTokenSource(params))
		}
		client, err := openai.NewClient(opts...)
		if err != nil {
			return nil, nil, err
		}
		if cfg.LLM.Moderation {
			return client, client, nil
		}
		return client, nil, nil
	}
}

func newComplianceChecker(cfg config.Config, kb *compliance.KnowledgeBase, gen compliance.Generator, m *metrics.ChatMetrics) (usecase.ComplianceChecker, error) {
	heuristic := compliance.NewChecker(compliance.WithDocumentDir(cfg.Compliance.DocumentDir))
	if cfg.Compliance.Mode != config.ComplianceRAG {
		return heuristic, nil
	}
	return compliance.NewRAGChecker(kb, gen, heuristic, compliance.WithFallbackHook(func(reason string) {
		m.ObserveFallback("compliance", reason)
	}))
}
