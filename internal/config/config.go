package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`

	// AdminIDs lists the Telegram user ids that bypass size ceilings and may
	// run admin commands.
	AdminIDs []int64 `envconfig:"ADMIN_IDS"`

	// CacheChatID is the durable storage channel used as the cache backing
	// store. Zero disables the cache mirror and uploads go straight to the
	// requester's chat.
	CacheChatID int64 `envconfig:"CACHE_CHAT_ID"`

	DownloadDir        string        `envconfig:"DOWNLOAD_DIR" default:"downloads"`
	MaxFileSizeMB      int64         `envconfig:"MAX_FILE_SIZE_MB" default:"2000"`
	GroupMaxFileSizeMB int64         `envconfig:"GROUP_MAX_FILE_SIZE_MB" default:"50"`
	CacheExpiry        time.Duration `envconfig:"CACHE_EXPIRY" default:"24h"`
	CleanupInterval    time.Duration `envconfig:"CLEANUP_INTERVAL" default:"5m"`
	TempFileAge        time.Duration `envconfig:"TEMP_FILE_AGE" default:"10m"`
	DBPath             string        `envconfig:"DB_PATH" default:"cache.db"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"INFO"`
	YTDLPPath          string        `envconfig:"YTDLP_PATH" default:"yt-dlp"`
	YTDLPTimeout       time.Duration `envconfig:"YTDLP_TIMEOUT" default:"90s"`

	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	IdleReadTimeout time.Duration `envconfig:"IDLE_READ_TIMEOUT" default:"120s"`

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"vidrelay"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// MaxFileSize returns the absolute attachment ceiling in bytes.
func (c *Config) MaxFileSize() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// GroupMaxFileSize returns the group-chat ceiling in bytes.
func (c *Config) GroupMaxFileSize() int64 {
	return c.GroupMaxFileSizeMB * 1024 * 1024
}

// IsAdmin reports whether the given user id is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}

	return false
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
