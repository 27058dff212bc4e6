package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingRequired は必須の環境変数が設定されていないことを示す。
var ErrMissingRequired = errors.New("required environment variables are not set")

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Target
	InstanceURL string
	AccessToken string

	// Feeds
	RSSURLs []string

	// Log
	LogFile         string
	MaxLogEntries   int
	MaxRetries      int
	TrimKeepPending bool

	// Fetch
	FetchTimeout      time.Duration
	FetchMaxSize      int64
	FeedFetchInterval time.Duration

	// Forward
	ForwardTimeout time.Duration

	// Worker
	RunInterval time.Duration
	MetricsPort string

	// Metrics
	PushgatewayURL string

	// Logging
	LogLevel slog.Level
}

// LoadDotEnv はpathの.envファイルを環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はErrMissingRequiredをラップしたエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.InstanceURL = strings.TrimSpace(os.Getenv("INSTANCE_URL"))
	if cfg.InstanceURL == "" {
		missing = append(missing, "INSTANCE_URL")
	}

	cfg.AccessToken = strings.TrimSpace(os.Getenv("ACCESS_TOKEN"))
	if cfg.AccessToken == "" {
		missing = append(missing, "ACCESS_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrMissingRequired, missing)
	}

	// Optional fields with defaults
	cfg.RSSURLs = splitList(os.Getenv("RSS_URLS"))
	cfg.LogFile = getEnvString("LOG_FILE", "holmirdas-log.json")
	// 件数・時間の上限は0以下を無効値としてデフォルトに戻す
	cfg.MaxLogEntries = getEnvPositiveInt("MAX_LOG_ENTRIES", 1000)
	cfg.MaxRetries = getEnvPositiveInt("MAX_RETRIES", 48)
	cfg.TrimKeepPending = getEnvBool("TRIM_KEEP_PENDING", false)
	cfg.FetchTimeout = getEnvPositiveDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	if cfg.FetchMaxSize <= 0 {
		cfg.FetchMaxSize = 5242880
	}
	cfg.FeedFetchInterval = getEnvDuration("FEED_FETCH_INTERVAL", time.Second)
	cfg.ForwardTimeout = getEnvPositiveDuration("FORWARD_TIMEOUT", 30*time.Second)
	cfg.RunInterval = getEnvPositiveDuration("RUN_INTERVAL", time.Hour)
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.PushgatewayURL = getEnvString("PUSHGATEWAY_URL", "")
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)

	return cfg, nil
}

// splitList はカンマまたは改行区切りの値をリストに分割する。空要素は除く。
func splitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	list := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			list = append(list, f)
		}
	}
	return list
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvPositiveInt(key string, defaultVal int) int {
	if v := getEnvInt(key, defaultVal); v > 0 {
		return v
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvPositiveDuration(key string, defaultVal time.Duration) time.Duration {
	if d := getEnvDuration(key, defaultVal); d > 0 {
		return d
	}
	return defaultVal
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
