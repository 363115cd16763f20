package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// ChangesChannel is the NOTIFY channel the episodes trigger publishes on.
const ChangesChannel = "episode_changes"

// ChangeEvent is one create/update/delete of an episode record.
// An empty ID means the listener reconnected and changes may have been missed.
type ChangeEvent struct {
	Op string `json:"op"`
	ID string `json:"id"`
}

// ParseChangeEvent decodes a trigger notification payload.
func ParseChangeEvent(payload string) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal change notification: %w", err)
	}
	return ev, nil
}

// EpisodeListener receives episode change notifications via LISTEN/NOTIFY.
type EpisodeListener struct {
	listener *pq.Listener
	log      zerolog.Logger
}

func NewEpisodeListener(dbURL string, log zerolog.Logger) (*EpisodeListener, error) {
	log = log.With().Str("component", "episode-listener").Logger()
	l := pq.NewListener(dbURL, 5*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Error().Err(err).Int("event", int(ev)).Msg("Listener connection event")
		}
	})
	if err := l.Listen(ChangesChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangesChannel, err)
	}
	return &EpisodeListener{listener: l, log: log}, nil
}

// Run calls handle for every change until ctx is done.
func (l *EpisodeListener) Run(ctx context.Context, handle func(ChangeEvent)) error {
	defer l.listener.Close()
	l.log.Info().Str("channel", ChangesChannel).Msg("Listening for episode changes")
	return consume(ctx, l.listener.Notify, l.listener.Ping, handle, l.log)
}

func consume(ctx context.Context, notify <-chan *pq.Notification, ping func() error, handle func(ChangeEvent), log zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notify:
			if !ok {
				return fmt.Errorf("notification channel closed")
			}
			// nil is delivered after a reconnect.
			if n == nil {
				handle(ChangeEvent{Op: "RECONNECT"})
				continue
			}
			ev, err := ParseChangeEvent(n.Extra)
			if err != nil {
				log.Warn().Err(err).Str("payload", n.Extra).Msg("Dropping malformed change notification")
				continue
			}
			handle(ev)
		case <-time.After(90 * time.Second):
			go func() {
				if err := ping(); err != nil {
					log.Warn().Err(err).Msg("Listener ping failed")
				}
			}()
		}
	}
}
