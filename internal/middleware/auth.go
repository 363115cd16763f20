package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/telegram-mini-apps/init-data-golang"
)

type contextKey string

// AdminContextKey is the key for the authenticated admin's Telegram id.
const AdminContextKey = contextKey("admin")

// initDataTTL bounds how old a Mini App launch may be.
const initDataTTL = 24 * time.Hour

// AdminFromContext returns the Telegram id stored by Auth.
func AdminFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(AdminContextKey).(int64)
	return id, ok
}

// Auth validates Telegram Mini App initData and admits only allowlisted users.
type Auth struct {
	botToken string
	admins   map[int64]bool
	log      zerolog.Logger
}

func NewAuth(botToken string, adminIDs []int64, log zerolog.Logger) *Auth {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Auth{botToken: botToken, admins: admins, log: log.With().Str("component", "auth").Logger()}
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "tma" {
			http.Error(w, "Authorization header format must be 'tma <initData>'", http.StatusUnauthorized)
			return
		}

		if a.botToken == "" {
			a.log.Error().Msg("TELEGRAM_BOT_TOKEN is not set")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		initData := parts[1]
		if err := initdata.Validate(initData, a.botToken, initDataTTL); err != nil {
			a.log.Warn().Err(err).Msg("Invalid init data")
			http.Error(w, "Invalid init data", http.StatusUnauthorized)
			return
		}

		data, err := initdata.Parse(initData)
		if err != nil {
			a.log.Warn().Err(err).Msg("Error parsing init data")
			http.Error(w, "Error parsing init data", http.StatusBadRequest)
			return
		}

		if !a.admins[data.User.ID] {
			a.log.Warn().Int64("telegram_id", data.User.ID).Str("username", data.User.Username).Msg("Rejected non-admin user")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), AdminContextKey, data.User.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
