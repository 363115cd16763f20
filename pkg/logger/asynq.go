package logger

import (
	"fmt"

	"github.com/rs/zerolog"
)

// AsynqLogger routes asynq's internal logging through zerolog.
type AsynqLogger struct {
	log zerolog.Logger
}

func NewAsynqLogger(log zerolog.Logger) *AsynqLogger {
	return &AsynqLogger{log: log.With().Str("component", "asynq").Logger()}
}

func (l *AsynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
