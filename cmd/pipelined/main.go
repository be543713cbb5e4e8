package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"repin/internal/api"
	"repin/internal/archive"
	"repin/internal/config"
	"repin/internal/enrich"
	"repin/internal/fetch"
	"repin/internal/logging"
	"repin/internal/pipeline"
	"repin/internal/publish"
	"repin/internal/ratelimit"
	"repin/internal/retry"
	"repin/internal/store"
)

// pipelined is the single daemon: the trigger API and the run loop must
// share a process because the exclusive-execution guard is process-wide.
func main() {
	_ = godotenv.Load()
	logging.Init()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logging.Log.WithError(err).Fatal("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logging.Log.WithError(err).Fatal("run migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewPublishLimiter(redisClient, cfg.MinPublishInterval)

	fetcher := fetch.NewScriptFetcher(cfg.PythonBin, cfg.FetcherScript, cfg.DownloadDir, cfg.FetchTimeout)
	enricher := enrich.NewLLMEnricher(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	publisher := publish.NewYouTubePublisher(cfg.YouTubeClientID, cfg.YouTubeClientSecret, cfg.YouTubePrivacy,
		publish.StaticCredentials{RefreshToken: cfg.YouTubeRefreshToken})

	policy := retry.Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}

	opts := []pipeline.Option{}
	switch {
	case cfg.ArchiveS3Bucket != "":
		archiver, err := archive.NewS3Archiver(ctx, archive.S3Options{
			Bucket:    cfg.ArchiveS3Bucket,
			Region:    cfg.ArchiveS3Region,
			Endpoint:  cfg.ArchiveS3Endpoint,
			PathStyle: cfg.ArchiveS3PathStyle,
		})
		if err != nil {
			logging.Log.WithError(err).Fatal("init s3 archiver")
		}
		opts = append(opts, pipeline.WithArchiver(archiver))
	case cfg.ArchiveDir != "":
		opts = append(opts, pipeline.WithArchiver(&archive.DirArchiver{BaseDir: cfg.ArchiveDir}))
	}

	runner := pipeline.NewRunner(st, fetcher, enricher, publisher, limiter, policy, cfg.RunInterval, opts...)

	if err := runner.Recover(ctx); err != nil {
		logging.Log.WithError(err).Error("recover interrupted items")
	}

	server := api.New(st, runner, cfg.MaxRetries)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	go func() {
		logging.WithField("port", cfg.HTTPPort).Info("api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("listen")
		}
	}()

	logging.WithField("interval", cfg.RunInterval.String()).Info("pipeline loop started")
	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		logging.Log.WithError(err).Error("pipeline loop stopped")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
