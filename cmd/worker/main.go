package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"medstudy/internal/config"
	"medstudy/internal/pipeline"
	"medstudy/internal/util"
	"medstudy/pkg/ai"
	"medstudy/pkg/extract"
	"medstudy/pkg/queue"
	"medstudy/pkg/storage"
	"medstudy/pkg/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	blobs, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	tasks := queue.NewTaskStatusStore(redisClient, time.Duration(cfg.TaskTTLHours)*time.Hour)

	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     queueStream(cfg),
		Group:      cfg.QueueGroup,
		JobTTL:     time.Duration(cfg.TaskTTLHours) * time.Hour,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	var ocr extract.OCRRunner
	if cfg.OCREnabled {
		runner, err := extract.NewCommandOCR(strings.Fields(cfg.OCRCommand), time.Duration(cfg.OCRTimeoutSeconds)*time.Second)
		if err != nil {
			log.Fatalf("failed to init ocr: %v", err)
		}
		ocr = runner
	}
	extractor := extract.NewExtractor(ocr, cfg.PDFMinPageRunes)

	var genOpts []ai.GeneratorOption
	if cfg.LLMTimeoutSeconds > 0 {
		genOpts = append(genOpts, ai.WithTimeout(time.Duration(cfg.LLMTimeoutSeconds)*time.Second))
	}
	gen := ai.NewOpenAICompatGenerator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, genOpts...)
	title := func(ctx context.Context, text string) (string, error) {
		return ai.GenerateTitle(ctx, gen, text)
	}

	proc := pipeline.NewProcessor(st, blobs, extractor, title, tasks, logger)

	concurrency := cfg.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	healthSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return healthSrv.Shutdown(shutdownCtx)
	})

	jobs.Start(gctx, concurrency, proc.Process)
	slog.Info("worker started", "stream", queueStream(cfg), "concurrency", concurrency)

	if err := g.Wait(); err != nil {
		logger.Error("worker error", "err", err)
	}
}

func queueStream(cfg config.FileConfig) string {
	if cfg.QueueName != "" {
		return cfg.QueueName
	}
	return "pdf_jobs"
}
