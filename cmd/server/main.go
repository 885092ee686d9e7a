package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"medstudy/internal/config"
	"medstudy/internal/server"
	"medstudy/internal/session"
	"medstudy/internal/util"
	"medstudy/pkg/ai"
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

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	blobs, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	sessions := session.NewRedisSessionStore(redisClient, hours(cfg.SessionTTLHours))
	tasks := queue.NewTaskStatusStore(redisClient, hours(cfg.TaskTTLHours))
	lock := queue.NewGenerationLock(redisClient, seconds(cfg.GenerationLockSeconds))

	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     queueStream(cfg),
		Group:      cfg.QueueGroup,
		JobTTL:     hours(cfg.TaskTTLHours),
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: seconds(cfg.QueueRetryDelaySeconds),
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	var genOpts []ai.GeneratorOption
	if cfg.LLMTimeoutSeconds > 0 {
		genOpts = append(genOpts, ai.WithTimeout(seconds(cfg.LLMTimeoutSeconds)))
	}
	gen := ai.NewOpenAICompatGenerator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, genOpts...)
	quiz := ai.NewQuizGenerator(gen, ai.RetryPolicy{
		Attempts: cfg.QuizRetryAttempts,
		Backoff:  time.Duration(cfg.QuizRetryBackoffMs) * time.Millisecond,
	})
	summarizer := ai.NewSummarizer(gen, cfg.SummaryChunkSize)

	httpServer, err := server.New(server.Config{
		Store:          st,
		Blobs:          blobs,
		Sessions:       sessions,
		Jobs:           jobs,
		Tasks:          tasks,
		Lock:           lock,
		Quiz:           quiz,
		Summarizer:     summarizer,
		Titler: func(ctx context.Context, text string) (string, error) {
			return ai.GenerateTitle(ctx, gen, text)
		},
		Bucket:         cfg.MinioBucket,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		TrustedProxies: cfg.TrustedProxies,
		MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
		SecureCookies:  cfg.SecureCookies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func queueStream(cfg config.FileConfig) string {
	if cfg.QueueName != "" {
		return cfg.QueueName
	}
	return "pdf_jobs"
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
