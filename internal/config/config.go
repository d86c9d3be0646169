package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration, loaded from a YAML file with
// environment-variable overrides applied on top.
type Config struct {
	Server ServerConfig `yaml:"server"`
	DB     DBConfig     `yaml:"db"`
	Auth   AuthConfig   `yaml:"auth"`
	NATS   NATSConfig   `yaml:"nats"`
	Sync   SyncConfig   `yaml:"sync"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	// CredentialURL is the base URL of the credential supplier that hands
	// out provider bearer tokens per principal.
	CredentialURL string `yaml:"credential_url"`
	// ServiceToken authenticates this service against the credential supplier.
	ServiceToken string `yaml:"service_token"`
	// JWKSURL is used to verify JWTs on the trigger surface.
	JWKSURL string `yaml:"jwks_url"`
}

type NATSConfig struct {
	// URL is optional; when empty, synced-message events stay queued in the
	// outbox and no dispatcher runs.
	URL string `yaml:"url"`
}

type SyncConfig struct {
	// Label restricts listing to one mailbox label.
	Label string `yaml:"label"`
	// WindowDays bounds the first sync when no checkpoint exists.
	WindowDays int `yaml:"window_days"`
	// MaxListResults caps how many refs a single run may list.
	MaxListResults int `yaml:"max_list_results"`
	// PageSize is the per-page listing size.
	PageSize int `yaml:"page_size"`
	// BatchSize is how many messages are fetched per processing batch.
	BatchSize int `yaml:"batch_size"`
	// FetchConcurrency bounds parallel in-flight fetches within a batch.
	FetchConcurrency int `yaml:"fetch_concurrency"`
	// CallTimeout bounds every individual remote call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// AttachmentFolder is the Drive folder that receives offloaded payloads.
	AttachmentFolder string `yaml:"attachment_folder"`
	// MarkRead removes the UNREAD label after a message is persisted.
	MarkRead bool `yaml:"mark_read"`
	// AdvanceOnPartial advances the checkpoint even when some items failed.
	AdvanceOnPartial bool `yaml:"advance_on_partial"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the config file at path (optional), fills in defaults, and
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	overrideFromEnv(cfg)

	if cfg.Sync.WindowDays <= 0 {
		cfg.Sync.WindowDays = 7
	}
	if cfg.Sync.MaxListResults <= 0 {
		cfg.Sync.MaxListResults = 1000
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		DB:     DBConfig{Path: "data/mailsync.db"},
		Sync: SyncConfig{
			Label:            "INBOX",
			WindowDays:       7,
			MaxListResults:   1000,
			PageSize:         100,
			BatchSize:        25,
			FetchConcurrency: 10,
			CallTimeout:      30 * time.Second,
			AttachmentFolder: "Mailsync Attachments",
			AdvanceOnPartial: true,
		},
		Log: LogConfig{Level: "info"},
	}
}

func overrideFromEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.DB.Path, "DB_PATH")
	setString(&cfg.Auth.CredentialURL, "AUTH_CREDENTIAL_URL")
	setString(&cfg.Auth.ServiceToken, "AUTH_SERVICE_TOKEN")
	setString(&cfg.Auth.JWKSURL, "AUTH_JWKS_URL")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Sync.Label, "SYNC_LABEL")
	setString(&cfg.Sync.AttachmentFolder, "SYNC_ATTACHMENT_FOLDER")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setInt(&cfg.Sync.WindowDays, "SYNC_WINDOW_DAYS")
	setInt(&cfg.Sync.MaxListResults, "SYNC_MAX_LIST_RESULTS")
	setInt(&cfg.Sync.PageSize, "SYNC_PAGE_SIZE")
	setInt(&cfg.Sync.BatchSize, "SYNC_BATCH_SIZE")
	setInt(&cfg.Sync.FetchConcurrency, "SYNC_FETCH_CONCURRENCY")
	setDuration(&cfg.Sync.CallTimeout, "SYNC_CALL_TIMEOUT")
	setBool(&cfg.Sync.MarkRead, "SYNC_MARK_READ")
	setBool(&cfg.Sync.AdvanceOnPartial, "SYNC_ADVANCE_ON_PARTIAL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
