package config

import (
	"os"
	"strconv"
)

type ConfigStruct struct {
	Backend BackendConfig
	Options Options
	Logging LoggingConfig
	Youtube YoutubeConfig
	Spotify SpotifyConfig
	Sentry  SentryConfig
	History HistoryConfig
}

type BackendConfig struct {
	BaseURL        string
	PublicHostname string
	RequestTimeout int // seconds, 0 leaves the transport default in place
}

type Options struct {
	Port                  string
	SessionIdleMinutes    int
	RejectBusySubmissions bool
}

type LoggingConfig struct {
	Level string
	File  string
}

type YoutubeConfig struct {
	APIKey string
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	Enabled      bool
}

type SentryConfig struct {
	DSN     string
	Release string
}

type HistoryConfig struct {
	Enabled bool
	DBPath  string
	Limit   int
}

// HasExplicitBase reports whether the backend base URL was injected directly.
func (b *BackendConfig) HasExplicitBase() bool {
	return b.BaseURL != ""
}

func (y *YoutubeConfig) IsEnabled() bool {
	return y.APIKey != ""
}

func (s *SpotifyConfig) IsEnabled() bool {
	return s.Enabled && s.ClientID != "" && s.ClientSecret != ""
}

var Config *ConfigStruct

func NewConfig() {
	config := &ConfigStruct{
		Backend: BackendConfig{
			BaseURL:        os.Getenv("API_BASE_URL"),
			PublicHostname: os.Getenv("PUBLIC_HOSTNAME"),
			RequestTimeout: getRequestTimeout(),
		},
		Options: Options{
			Port:                  os.Getenv("PORT"),
			SessionIdleMinutes:    getSessionIdleMinutes(),
			RejectBusySubmissions: os.Getenv("REJECT_BUSY_SUBMISSIONS") == "true",
		},
		Logging: LoggingConfig{
			Level: getLogLevel(),
			File:  os.Getenv("LOG_FILE"),
		},
		Youtube: YoutubeConfig{
			APIKey: os.Getenv("YOUTUBE_API_KEY"),
		},
		Spotify: SpotifyConfig{
			ClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
			ClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
			Enabled:      os.Getenv("SPOTIFY_ENABLED") == "true",
		},
		Sentry: SentryConfig{
			DSN:     os.Getenv("SENTRY_DSN"),
			Release: os.Getenv("RELEASE"),
		},
		History: HistoryConfig{
			Enabled: os.Getenv("HISTORY_ENABLED") != "false",
			DBPath:  getDBPath(),
			Limit:   getHistoryLimit(),
		},
	}

	Config = config
}

func getRequestTimeout() int {
	timeoutStr := os.Getenv("REQUEST_TIMEOUT_SECONDS")
	if timeoutStr == "" {
		return 0
	}
	timeout, err := strconv.Atoi(timeoutStr)
	if err != nil || timeout < 0 {
		return 0
	}
	if timeout > 300 {
		return 300
	}
	return timeout
}

func getSessionIdleMinutes() int {
	minutesStr := os.Getenv("SESSION_IDLE_MINUTES")
	if minutesStr == "" {
		return 60
	}
	minutes, err := strconv.Atoi(minutesStr)
	if err != nil || minutes <= 0 {
		return 60
	}
	return minutes
}

func getHistoryLimit() int {
	limitStr := os.Getenv("HISTORY_LIMIT")
	if limitStr == "" {
		return 20
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func getLogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

func getDBPath() string {
	path := os.Getenv("DB_PATH")
	if path == "" {
		return "./data/songmatch.db"
	}
	return path
}
