package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"scholardock/pkg/logger"
)

const configPathEnv = "SCHOLARDOCK_CONFIG"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        logger.Config    `yaml:"log"`
	Auth       AuthConfig       `yaml:"auth"`
	Network    NetworkConfig    `yaml:"network"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Mail       MailConfig       `yaml:"mail"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Search     SearchConfig     `yaml:"search"`
}

type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	GRPCAddr       string   `yaml:"grpc_addr"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// OperatorUser / OperatorPasswordHash (bcrypt) guard the login endpoint.
	OperatorUser         string        `yaml:"operator_user"`
	OperatorPasswordHash string        `yaml:"operator_password_hash"`
	JWTSecret            string        `yaml:"jwt_secret"`
	JWTIssuer            string        `yaml:"jwt_issuer"`
	JWTDuration          time.Duration `yaml:"jwt_duration"`
}

type NetworkConfig struct {
	ProxyURL     string        `yaml:"proxy_url"`
	ProbeURL     string        `yaml:"probe_url"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	StatusTTL    time.Duration `yaml:"status_ttl"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	UserAgent    string        `yaml:"user_agent"`
}

type ExtractionConfig struct {
	Concurrency           int           `yaml:"concurrency"`
	ArticleTimeout        time.Duration `yaml:"article_timeout"`
	DocumentPages         string        `yaml:"document_pages"`
	MaxDocumentBytes      int64         `yaml:"max_document_bytes"`
	MaxDocumentCandidates int           `yaml:"max_document_candidates"`
	MaxFallbackEmails     int           `yaml:"max_fallback_emails"`
}

type MailConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	SSL         bool          `yaml:"ssl"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	FromName    string        `yaml:"from_name"`
	FromAddress string        `yaml:"from_address"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	// TemplatePath replaces the built-in outreach template when set.
	TemplatePath string `yaml:"template_path"`
}

// Configured reports whether enough is set to attempt a connection.
func (m MailConfig) Configured() bool {
	return m.Host != "" && m.Username != "" && m.Password != "" && m.FromAddress != ""
}

type DispatchConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	SendRatePerMinute float64       `yaml:"send_rate_per_minute"`
	SendBurst         int           `yaml:"send_burst"`
	// DedupScope "recipient" skips anyone ever contacted, "paper" skips only
	// a repeat of the same recipient and paper.
	DedupScope string `yaml:"dedup_scope"`
}

const (
	DedupRecipient = "recipient"
	DedupPaper     = "paper"
)

type SearchConfig struct {
	ProviderURL string        `yaml:"provider_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:       ":8080",
			GRPCAddr:       ":9090",
			TrustedProxies: []string{"127.0.0.1"},
		},
		Log: logger.Config{Level: "info"},
		Auth: AuthConfig{
			OperatorUser: "researcher",
			JWTSecret:    "dev-secret-change-me",
			JWTIssuer:    "scholardock",
			JWTDuration:  24 * time.Hour,
		},
		Network: NetworkConfig{
			ProbeURL:     "https://scholar.google.com",
			ProbeTimeout: 10 * time.Second,
			StatusTTL:    30 * time.Second,
			FetchTimeout: 20 * time.Second,
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		},
		Extraction: ExtractionConfig{
			Concurrency:           4,
			ArticleTimeout:        3 * time.Minute,
			DocumentPages:         "1",
			MaxDocumentBytes:      20 << 20,
			MaxDocumentCandidates: 5,
			MaxFallbackEmails:     3,
		},
		Mail: MailConfig{
			Port:        465,
			SSL:         true,
			SendTimeout: 30 * time.Second,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2,
			SendRatePerMinute: 12,
			SendBurst:         1,
			DedupScope:        DedupRecipient,
		},
		Search: SearchConfig{
			Timeout: 2 * time.Minute,
		},
	}
}

// Load reads .env files, then the YAML file at path (or $SCHOLARDOCK_CONFIG),
// then applies SCHOLARDOCK_* environment overrides. A missing YAML file is
// not an error; defaults and environment still apply.
func Load(path string) (Config, error) {
	if err := loadEnvFiles(); err != nil {
		return Config{}, err
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.HTTPAddr, "SCHOLARDOCK_HTTP_ADDR")
	setString(&cfg.Server.GRPCAddr, "SCHOLARDOCK_GRPC_ADDR")
	setString(&cfg.Database.Path, "SCHOLARDOCK_DB_PATH")
	setString(&cfg.Log.Level, "SCHOLARDOCK_LOG_LEVEL")

	setString(&cfg.Auth.JWTSecret, "SCHOLARDOCK_JWT_SECRET")
	setString(&cfg.Auth.JWTIssuer, "SCHOLARDOCK_JWT_ISSUER")
	setString(&cfg.Auth.OperatorUser, "SCHOLARDOCK_OPERATOR_USER")
	setString(&cfg.Auth.OperatorPasswordHash, "SCHOLARDOCK_OPERATOR_PASSWORD_HASH")

	setString(&cfg.Network.ProxyURL, "SCHOLARDOCK_PROXY")

	// EMAIL_ADDRESS / EMAIL_PASSWORD are what existing .env files carry
	setString(&cfg.Mail.Username, "EMAIL_ADDRESS")
	setString(&cfg.Mail.Password, "EMAIL_PASSWORD")
	setString(&cfg.Mail.Host, "SCHOLARDOCK_SMTP_HOST")
	setString(&cfg.Mail.FromName, "SCHOLARDOCK_MAIL_FROM_NAME")
	if cfg.Mail.FromAddress == "" {
		cfg.Mail.FromAddress = cfg.Mail.Username
	}

	setString(&cfg.Search.ProviderURL, "SCHOLARDOCK_SEARCH_PROVIDER_URL")

	if err := setBool(&cfg.Auth.Enabled, "SCHOLARDOCK_AUTH_ENABLED"); err != nil {
		return err
	}
	if err := setInt(&cfg.Mail.Port, "SCHOLARDOCK_SMTP_PORT"); err != nil {
		return err
	}
	if err := setInt(&cfg.Extraction.Concurrency, "SCHOLARDOCK_EXTRACTION_CONCURRENCY"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Auth.JWTDuration, "SCHOLARDOCK_JWT_TTL"); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate rejects values the components cannot run with.
func (c Config) Validate() error {
	if c.Extraction.Concurrency < 1 {
		return errors.New("extraction.concurrency must be at least 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return errors.New("dispatch.max_attempts must be at least 1")
	}
	if c.Dispatch.BackoffMultiplier < 1 {
		return errors.New("dispatch.backoff_multiplier must be >= 1")
	}
	if c.Dispatch.SendRatePerMinute < 0 {
		return errors.New("dispatch.send_rate_per_minute must not be negative")
	}
	if c.Dispatch.DedupScope != DedupRecipient && c.Dispatch.DedupScope != DedupPaper {
		return fmt.Errorf("dispatch.dedup_scope must be %q or %q", DedupRecipient, DedupPaper)
	}
	if c.Auth.Enabled && c.Auth.OperatorPasswordHash == "" {
		return errors.New("auth.operator_password_hash is required when auth is enabled")
	}
	return nil
}
