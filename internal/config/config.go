// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	AppEnv  string
	Debug   bool
	Version string

	BotToken        string
	OwnerChatID     int64
	TargetChannelID int64
	// MonitoredChannelIDs seeds the channel registry on startup.
	MonitoredChannelIDs []int64

	SentryDSN       string
	DatabasePath    string
	MediaRoot       string
	StateFilePath   string
	DefaultLanguage string

	OpenAIKey    string
	OpenAIModel  string
	RewriteVoice string

	MediaGroupDelay    time.Duration
	ChannelCacheTTL    time.Duration
	MaxPostAge         time.Duration
	HeartbeatInterval  time.Duration
	RecycleInterval    time.Duration
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	DownloadAttempts   int
	DownloadBaseDelay  time.Duration
}

// LoadConfig loads configuration from environment variables. A .env file
// is read first when present; real environment variables win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	debug, _ := strconv.ParseBool(getEnv("DEBUG", "false"))

	ownerChatID, err := getEnvInt64("OWNER_CHAT_ID", 0)
	if err != nil {
		return nil, err
	}
	targetChannelID, err := getEnvInt64("TARGET_CHANNEL_ID", 0)
	if err != nil {
		return nil, err
	}
	monitored, err := parseChannelList(getEnv("MONITORED_CHANNELS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		Debug:   debug,
		Version: getEnv("VERSION", "dev"),

		BotToken:            getEnv("TELEGRAM_BOT_TOKEN", ""),
		OwnerChatID:         ownerChatID,
		TargetChannelID:     targetChannelID,
		MonitoredChannelIDs: monitored,

		SentryDSN:       getEnv("SENTRY_DSN", ""),
		DatabasePath:    getEnv("DATABASE_PATH", "chanwatch.db"),
		MediaRoot:       getEnv("MEDIA_ROOT", "media"),
		StateFilePath:   getEnv("STATE_FILE_PATH", "monitoring_state.json"),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "en"),

		OpenAIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		RewriteVoice: getEnv("REWRITE_VOICE", "Rewrite the post concisely in a neutral editorial tone, keeping all facts and links."),
	}

	cfg.MediaGroupDelay, err = getEnvDuration("MEDIA_GROUP_DELAY", 3*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.ChannelCacheTTL, err = getEnvDuration("CHANNEL_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.MaxPostAge, err = getEnvDuration("MAX_POST_AGE", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.HeartbeatInterval, err = getEnvDuration("HEARTBEAT_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.RecycleInterval, err = getEnvDuration("RECYCLE_INTERVAL", 2*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.ReconnectBaseDelay, err = getEnvDuration("RECONNECT_BASE_DELAY", 2*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DownloadBaseDelay, err = getEnvDuration("DOWNLOAD_BASE_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	cfg.ReconnectAttempts, err = getEnvInt("RECONNECT_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	cfg.DownloadAttempts, err = getEnvInt("DOWNLOAD_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.OwnerChatID == 0 {
		return nil, fmt.Errorf("OWNER_CHAT_ID is required")
	}
	if cfg.TargetChannelID == 0 {
		return nil, fmt.Errorf("TARGET_CHANNEL_ID is required")
	}
	if cfg.SentryDSN == "" {
		log.Println("Warning: SENTRY_DSN is not set. Error tracking disabled.")
	}
	if cfg.OpenAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY is not set. Restyle disabled.")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

// parseChannelList parses a comma-separated list of channel IDs.
func parseChannelList(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MONITORED_CHANNELS entry %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
