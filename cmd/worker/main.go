package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"studio-podcaster/internal/analysis"
	"studio-podcaster/internal/backup"
	"studio-podcaster/internal/config"
	"studio-podcaster/internal/db"
	"studio-podcaster/internal/feed"
	"studio-podcaster/internal/notify"
	"studio-podcaster/internal/pipeline"
	"studio-podcaster/internal/storage"
	"studio-podcaster/internal/worker"
	"studio-podcaster/pkg/logger"
	"studio-podcaster/pkg/tasks"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	cfg := config.Load()
	log := logger.New("worker")
	if err := cfg.Require("DATABASE_URL", "FEED_BUCKET"); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer conn.Close()
	if err := db.RunMigrations(conn, cfg.MigrationsPath, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	store := db.NewStore(conn)

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer client.Close()

	var gcsOpts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		gcsOpts = append(gcsOpts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}
	objects, err := storage.NewGCS(ctx, gcsOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	publisher := feed.NewPublisher(store, objects, cfg.FeedChannel(), cfg.FeedBucket, cfg.FeedPath, log)

	var backuper pipeline.Backuper
	driveOpts, err := backup.ClientOptions(ctx, cfg.DriveCredentials())
	switch {
	case errors.Is(err, backup.ErrNoCredentials):
		log.Warn().Msg("Drive credentials not set, backups disabled")
	case err != nil:
		log.Fatal().Err(err).Msg("Failed to build Drive credentials")
	default:
		svc, err := drive.NewService(ctx, driveOpts...)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Drive client")
		}
		backuper = backup.NewDrive(svc, objects, cfg.DriveFolderID, cfg.BackupStagingDir)
	}

	var analyzer pipeline.Analyzer
	if cfg.GeminiAPIKey != "" {
		gemini, err := analysis.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, objects)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		defer gemini.Close()
		analyzer = gemini
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, AI analysis disabled")
	}

	notifier, err := notify.New(cfg.TelegramBotToken, cfg.TelegramAlertChatID, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create notifier, alerts disabled")
		notifier = notify.Nop{}
	}

	p := pipeline.New(store, backuper, analyzer, publisher, cfg.EpisodesPrefix, log)
	taskHandler := worker.NewTaskHandler(client, p, publisher, store, cfg.StaleProcessingAfter, notifier, log)

	listener, err := db.NewEpisodeListener(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start episode listener")
	}
	go func() {
		err := listener.Run(ctx, func(ev db.ChangeEvent) {
			taskHandler.EnqueueFeedRegeneration(ctx, ev)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Episode listener stopped")
		}
	}()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				tasks.QueueHigh:    2,
				tasks.QueueDefault: 1,
			},
			// Only feed tasks are retried: 30s, 1m, 2m
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := 30 * time.Second
				for i := 1; i < n; i++ {
					delay *= 2
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(taskHandler.HandleError),
			Logger:       logger.NewAsynqLogger(log),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeIngestEpisode, taskHandler.HandleIngestEpisodeTask)
	mux.HandleFunc(tasks.TypeRegenerateFeed, taskHandler.HandleRegenerateFeedTask)
	mux.HandleFunc(tasks.TypeReapStaleEpisodes, taskHandler.HandleReapStaleEpisodesTask)

	log.Info().Str("commit", CommitSHA).Msg("Worker starting")
	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("Could not run worker")
	}
}
