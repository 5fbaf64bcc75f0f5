// Package config loads runtime settings from ROOMIE_* environment variables,
// optionally read from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const prefix = "ROOMIE_"

type Config struct {
	Port            string
	DBPath          string
	ShutdownTimeout time.Duration
	// OriginPatterns are the extra hosts allowed to open the change feed.
	OriginPatterns []string

	Log      LogConfig
	Session  SessionConfig
	Outbox   OutboxConfig
	RedisURL string
	S3       S3Config
	Push     PushConfig
	Email    EmailConfig
}

type LogConfig struct {
	Level  string
	Format string
	// File, when set, receives a rotated copy of the log.
	File string
}

type SessionConfig struct {
	TTL          time.Duration
	SecureCookie bool
}

// OutboxConfig controls the queue of point awards that failed transiently.
// An empty Path disables it.
type OutboxConfig struct {
	Path        string
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	PublicURL string
}

type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
}

// EmailConfig enables confirmation and password reset mails. An empty
// PostmarkToken disables them.
type EmailConfig struct {
	PostmarkToken string
	From          string
	// BaseURL is the public address used in mailed links.
	BaseURL string
}

// Load reads configuration from the environment. Variables already set take
// precedence over the .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:            getString("PORT", "8080"),
		DBPath:          getString("DB_PATH", "roomie.db"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		OriginPatterns:  getList("ORIGIN_PATTERNS"),
		Log: LogConfig{
			Level:  getString("LOG_LEVEL", "info"),
			Format: getString("LOG_FORMAT", "text"),
			File:   os.Getenv(prefix + "LOG_FILE"),
		},
		Session: SessionConfig{
			TTL:          getDuration("SESSION_TTL", 30*24*time.Hour),
			SecureCookie: getBool("SECURE_COOKIES", false),
		},
		Outbox: OutboxConfig{
			Path:        os.Getenv(prefix + "OUTBOX_PATH"),
			Interval:    getDuration("OUTBOX_INTERVAL", 30*time.Second),
			MaxAttempts: getInt("OUTBOX_MAX_ATTEMPTS", 5),
			BatchSize:   getInt("OUTBOX_BATCH_SIZE", 50),
		},
		RedisURL: os.Getenv(prefix + "REDIS_URL"),
		S3: S3Config{
			Endpoint:  os.Getenv(prefix + "S3_ENDPOINT"),
			Bucket:    os.Getenv(prefix + "S3_BUCKET"),
			Region:    getString("S3_REGION", "auto"),
			AccessKey: os.Getenv(prefix + "S3_ACCESS_KEY"),
			SecretKey: os.Getenv(prefix + "S3_SECRET_KEY"),
			PublicURL: os.Getenv(prefix + "S3_PUBLIC_URL"),
		},
		Push: PushConfig{
			VAPIDPublicKey:  os.Getenv(prefix + "VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv(prefix + "VAPID_PRIVATE_KEY"),
			Subject:         getString("VAPID_SUBJECT", "mailto:admin@roomie.local"),
		},
		Email: EmailConfig{
			PostmarkToken: os.Getenv(prefix + "POSTMARK_TOKEN"),
			From:          getString("EMAIL_FROM", "noreply@roomie.local"),
			BaseURL:       strings.TrimRight(getString("BASE_URL", "http://localhost:8080"), "/"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%sLOG_FORMAT must be text or json, got %q", prefix, c.Log.Format)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("%sSESSION_TTL must be positive", prefix)
	}
	if c.Outbox.Path != "" && c.Outbox.Interval < time.Second {
		return fmt.Errorf("%sOUTBOX_INTERVAL must be at least 1s", prefix)
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("%sVAPID_PUBLIC_KEY and %sVAPID_PRIVATE_KEY must be set together", prefix, prefix)
	}
	return nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(prefix + key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(prefix + key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(prefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getDuration accepts Go durations ("90s") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(prefix + key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(prefix+key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
