package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"studio-podcaster/internal/backup"
	"studio-podcaster/internal/feed"
)

type Config struct {
	// Server
	Port        string
	Env         string
	EventsToken string

	// Database
	DatabaseURL    string
	MigrationsPath string

	// Queue
	RedisAddr string

	// Ingestion
	EpisodesPrefix       string
	PipelineTimeout      time.Duration
	StaleProcessingAfter time.Duration

	// Storage
	GCSCredentialsFile string

	// Feed
	SiteURL         string
	FeedBucket      string
	FeedPath        string
	FeedTitle       string
	FeedDescription string
	FeedAuthor      string
	FeedEmail       string
	FeedImageURL    string
	FeedLanguage    string

	// Gemini AI
	GeminiAPIKey string
	GeminiModel  string

	// Drive backup
	DriveFolderID        string
	DriveCredentialsJSON string
	DriveClientID        string
	DriveClientSecret    string
	DriveRefreshToken    string
	BackupStagingDir     string

	// Telegram
	TelegramBotToken    string
	TelegramAlertChatID int64
	AdminTelegramIDs    []int64
}

// Load reads the .env file if present, then the environment.
func Load() *Config {
	godotenv.Load()

	return &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "production"),
		EventsToken: getEnvOrDefault("EVENTS_TOKEN", ""),

		DatabaseURL:    getEnvOrDefault("DATABASE_URL", ""),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", "./migrations"),

		RedisAddr: getEnvOrDefault("REDIS_ADDR", "127.0.0.1:6379"),

		EpisodesPrefix:       getEnvOrDefault("EPISODES_PREFIX", "episodes/"),
		PipelineTimeout:      getEnvAsDurationOrDefault("PIPELINE_TIMEOUT", 60*time.Minute),
		StaleProcessingAfter: getEnvAsDurationOrDefault("STALE_PROCESSING_AFTER", 3*time.Hour),

		GCSCredentialsFile: getEnvOrDefault("GCS_CREDENTIALS_FILE", ""),

		SiteURL:         strings.TrimRight(getEnvOrDefault("SITE_URL", "http://localhost:8080"), "/"),
		FeedBucket:      getEnvOrDefault("FEED_BUCKET", ""),
		FeedPath:        getEnvOrDefault("FEED_PATH", "public/feed.xml"),
		FeedTitle:       getEnvOrDefault("FEED_TITLE", "Studio Podcast"),
		FeedDescription: getEnvOrDefault("FEED_DESCRIPTION", "Episodes from the studio."),
		FeedAuthor:      getEnvOrDefault("FEED_AUTHOR", ""),
		FeedEmail:       getEnvOrDefault("FEED_EMAIL", ""),
		FeedImageURL:    getEnvOrDefault("FEED_IMAGE_URL", ""),
		FeedLanguage:    getEnvOrDefault("FEED_LANGUAGE", "en-us"),

		GeminiAPIKey: getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:  getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-pro"),

		DriveFolderID:        getEnvOrDefault("DRIVE_FOLDER_ID", ""),
		DriveCredentialsJSON: getEnvOrDefault("DRIVE_CREDENTIALS_JSON", ""),
		DriveClientID:        getEnvOrDefault("DRIVE_CLIENT_ID", ""),
		DriveClientSecret:    getEnvOrDefault("DRIVE_CLIENT_SECRET", ""),
		DriveRefreshToken:    getEnvOrDefault("DRIVE_REFRESH_TOKEN", ""),
		BackupStagingDir:     getEnvOrDefault("BACKUP_STAGING_DIR", os.TempDir()),

		TelegramBotToken:    getEnvOrDefault("TELEGRAM_BOT_TOKEN", ""),
		TelegramAlertChatID: getEnvAsInt64OrDefault("TELEGRAM_ALERT_CHAT_ID", 0),
		AdminTelegramIDs:    getEnvAsInt64List("ADMIN_TELEGRAM_IDS"),
	}
}

// FeedChannel is the podcast-level metadata of the published feed.
func (c *Config) FeedChannel() feed.Channel {
	return feed.Channel{
		Title:       c.FeedTitle,
		Description: c.FeedDescription,
		SiteURL:     c.SiteURL,
		Author:      c.FeedAuthor,
		Email:       c.FeedEmail,
		ImageURL:    c.FeedImageURL,
		Language:    c.FeedLanguage,
	}
}

// Require fails when any of the named variables loaded empty. Each binary
// names only what it uses.
func (c *Config) Require(keys ...string) error {
	values := map[string]string{
		"DATABASE_URL":       c.DatabaseURL,
		"REDIS_ADDR":         c.RedisAddr,
		"FEED_BUCKET":        c.FeedBucket,
		"EVENTS_TOKEN":       c.EventsToken,
		"GEMINI_API_KEY":     c.GeminiAPIKey,
		"DRIVE_FOLDER_ID":    c.DriveFolderID,
		"TELEGRAM_BOT_TOKEN": c.TelegramBotToken,
	}

	var missing []string
	for _, key := range keys {
		val, known := values[key]
		if !known {
			return fmt.Errorf("unknown configuration key %s", key)
		}
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) DriveCredentials() backup.Credentials {
	return backup.Credentials{
		ServiceAccountJSON: c.DriveCredentialsJSON,
		ClientID:           c.DriveClientID,
		ClientSecret:       c.DriveClientSecret,
		RefreshToken:       c.DriveRefreshToken,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsInt64OrDefault(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// getEnvAsInt64List parses a comma separated list, skipping bad entries.
func getEnvAsInt64List(key string) []int64 {
	var out []int64
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
