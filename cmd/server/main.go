package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"studio-podcaster/internal/config"
	"studio-podcaster/internal/db"
	"studio-podcaster/internal/feed"
	"studio-podcaster/internal/handlers"
	"studio-podcaster/internal/middleware"
	"studio-podcaster/internal/storage"
	"studio-podcaster/pkg/logger"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	cfg := config.Load()
	log := logger.New("server")
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

	h := handlers.New(store, client, publisher, handlers.Options{
		EpisodesPrefix:  cfg.EpisodesPrefix,
		PipelineTimeout: cfg.PipelineTimeout,
		EventsToken:     cfg.EventsToken,
		AdminIDs:        cfg.AdminTelegramIDs,
	}, log)

	auth := middleware.NewAuth(cfg.TelegramBotToken, cfg.AdminTelegramIDs, log)
	// 1 request per second with a burst of 5 per admin
	limiter := middleware.NewRateLimiterMiddleware(rate.Limit(1), 5, log)

	if cfg.TelegramBotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Error().Err(err).Msg("Failed to start telegram bot")
		} else {
			log.Info().Str("bot", bot.Self.UserName).Msg("Telegram bot authorized")
			go h.StartTelegramBot(ctx, bot)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Router(auth, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", cfg.Port).Str("commit", CommitSHA).Msg("Starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
