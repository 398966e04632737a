// Package config centralizes how the portal reads its settings and exposes
// them as strongly typed Go values. Values come from SHEETS_* environment
// variables, optionally layered over a YAML file (default ~/.sheets.yaml).
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config represents runtime configuration shared by the server, the worker
// and the CLI.
type Config struct {
	Address  string
	BaseURL  string
	LogLevel string

	PageSize       int
	MaxFileSize    int64
	MaxPictureSize int64

	SigningSecret []byte
	SessionTTL    time.Duration
	ResetTTL      time.Duration

	// DatabaseURL left empty switches every backend to its in-memory form.
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Workers       int

	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3Region      string
	S3UseSSL      bool
	Bucket        string
	PublicBaseURL string

	GoogleClientID     string
	GoogleClientSecret string

	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	MailFrom     string
}

const (
	envPrefix = "SHEETS"

	defaultAddress        = ":8080"
	defaultBaseURL        = "http://localhost:8080"
	defaultLogLevel       = "info"
	defaultPageSize       = 10
	defaultMaxFileSize    = 25 << 20 // 25 MiB
	defaultMaxPictureSize = 5 << 20
	defaultSessionTTL     = 7 * 24 * time.Hour
	defaultResetTTL       = time.Hour
	defaultWorkerCount    = 2
	defaultRegion         = "us-east-1"
	defaultBucket         = "sheets"
	defaultMailFrom       = "no-reply@kikuyu-catholic-sheets.local"
)

// Load reads configuration from the environment and an optional config file.
// An explicit path must exist; the default ~/.sheets.yaml is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".sheets")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Address:            v.GetString("address"),
		BaseURL:            strings.TrimRight(v.GetString("base_url"), "/"),
		LogLevel:           v.GetString("log_level"),
		PageSize:           v.GetInt("page_size"),
		MaxFileSize:        v.GetInt64("max_file_bytes"),
		MaxPictureSize:     v.GetInt64("max_picture_bytes"),
		SessionTTL:         v.GetDuration("session_ttl"),
		ResetTTL:           v.GetDuration("reset_ttl"),
		DatabaseURL:        v.GetString("database_url"),
		RedisAddr:          v.GetString("redis_addr"),
		RedisPassword:      v.GetString("redis_password"),
		RedisDB:            v.GetInt("redis_db"),
		Workers:            v.GetInt("workers"),
		S3Endpoint:         v.GetString("s3_endpoint"),
		S3AccessKey:        v.GetString("s3_access_key"),
		S3SecretKey:        v.GetString("s3_secret_key"),
		S3Region:           v.GetString("s3_region"),
		S3UseSSL:           v.GetBool("s3_use_ssl"),
		Bucket:             v.GetString("bucket"),
		PublicBaseURL:      strings.TrimRight(v.GetString("public_base_url"), "/"),
		GoogleClientID:     v.GetString("google_client_id"),
		GoogleClientSecret: v.GetString("google_client_secret"),
		SMTPAddr:           v.GetString("smtp_addr"),
		SMTPUsername:       v.GetString("smtp_username"),
		SMTPPassword:       v.GetString("smtp_password"),
		MailFrom:           v.GetString("mail_from"),
	}
	if secret := v.GetString("signing_secret"); secret != "" {
		cfg.SigningSecret = []byte(secret)
	} else {
		// Sessions do not survive a restart without a configured secret.
		cfg.SigningSecret = randomSecret()
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("address", defaultAddress)
	v.SetDefault("base_url", defaultBaseURL)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("page_size", defaultPageSize)
	v.SetDefault("max_file_bytes", defaultMaxFileSize)
	v.SetDefault("max_picture_bytes", defaultMaxPictureSize)
	v.SetDefault("session_ttl", defaultSessionTTL)
	v.SetDefault("reset_ttl", defaultResetTTL)
	v.SetDefault("database_url", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("workers", defaultWorkerCount)
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("s3_region", defaultRegion)
	v.SetDefault("s3_use_ssl", false)
	v.SetDefault("bucket", defaultBucket)
	v.SetDefault("public_base_url", "")
	v.SetDefault("google_client_id", "")
	v.SetDefault("google_client_secret", "")
	v.SetDefault("smtp_addr", "")
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("mail_from", defaultMailFrom)
	v.SetDefault("signing_secret", "")
}

func (c *Config) normalize() {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.MaxPictureSize <= 0 {
		c.MaxPictureSize = defaultMaxPictureSize
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.ResetTTL <= 0 {
		c.ResetTTL = defaultResetTTL
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkerCount
	}
	if c.PublicBaseURL == "" && c.S3Endpoint != "" {
		scheme := "http"
		if c.S3UseSSL {
			scheme = "https"
		}
		c.PublicBaseURL = scheme + "://" + c.S3Endpoint
	}
}

func (c *Config) validate() error {
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.S3Endpoint != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		return errors.New("s3_endpoint requires s3_access_key and s3_secret_key")
	}
	return nil
}

// Memory reports whether the documents, users and objects live in process.
func (c *Config) Memory() bool {
	return c.DatabaseURL == ""
}

// GoogleEnabled reports whether federated sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GoogleRedirectURL is the OAuth callback registered with Google.
func (c *Config) GoogleRedirectURL() string {
	return c.BaseURL + "/signin/google/callback"
}

// DefaultPath returns the config file consulted when no path is given.
func DefaultPath() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".sheets.yaml"
	}
	return filepath.Join(home, ".sheets.yaml")
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte("fallbacksecret-change-me")
	}
	return buf
}
