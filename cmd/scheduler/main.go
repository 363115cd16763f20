package main

import (
	"github.com/hibiken/asynq"
	"studio-podcaster/internal/config"
	"studio-podcaster/pkg/logger"
	"studio-podcaster/pkg/tasks"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	cfg := config.Load()
	log := logger.New("scheduler")

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		&asynq.SchedulerOpts{Logger: logger.NewAsynqLogger(log)},
	)

	feedTask, err := tasks.NewRegenerateFeedTask("scheduled", "")
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create feed task")
	}
	// Safety net for missed change notifications
	if _, err := scheduler.Register("@every 1h", feedTask); err != nil {
		log.Fatal().Err(err).Msg("Could not register feed task")
	}

	reapTask, err := tasks.NewReapStaleEpisodesTask()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create reap task")
	}
	if _, err := scheduler.Register("@every 30m", reapTask); err != nil {
		log.Fatal().Err(err).Msg("Could not register reap task")
	}

	log.Info().Str("commit", CommitSHA).Msg("Scheduler starting")
	if err := scheduler.Run(); err != nil {
		log.Fatal().Err(err).Msg("Could not run scheduler")
	}
}
