package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Blob      BlobConfig      `yaml:"blob" mapstructure:"blob"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Mistral   MistralConfig   `yaml:"mistral" mapstructure:"mistral"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Convert   ConvertConfig   `yaml:"convert" mapstructure:"convert"`
	QA        QAConfig        `yaml:"qa" mapstructure:"qa"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Tracing   TracingConfig   `yaml:"tracing" mapstructure:"tracing"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BlobConfig configures object storage.
type BlobConfig struct {
	Backend         string        `yaml:"backend" mapstructure:"backend"`
	Bucket          string        `yaml:"bucket" mapstructure:"bucket"`
	CredentialsFile string        `yaml:"credentials_file" mapstructure:"credentials_file"`
	SignerEmail     string        `yaml:"signer_email" mapstructure:"signer_email"`
	PrivateKeyFile  string        `yaml:"private_key_file" mapstructure:"private_key_file"`
	PresignTTL      time.Duration `yaml:"presign_ttl" mapstructure:"presign_ttl"`
}

// LLMConfig selects the provider and guards calls to it.
type LLMConfig struct {
	Provider         string        `yaml:"provider" mapstructure:"provider"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RatePerSec       float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int           `yaml:"burst" mapstructure:"burst"`
	BreakerThreshold int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" mapstructure:"breaker_cooldown"`
}

// MistralConfig holds Mistral API settings.
type MistralConfig struct {
	Key                string `yaml:"key" mapstructure:"key"`
	Model              string `yaml:"model" mapstructure:"model"`
	BaseURL            string `yaml:"base_url" mapstructure:"base_url"`
	DocumentImageLimit int    `yaml:"document_image_limit" mapstructure:"document_image_limit"`
	DocumentPageLimit  int    `yaml:"document_page_limit" mapstructure:"document_page_limit"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ConvertConfig configures office document conversion.
type ConvertConfig struct {
	SofficePath string        `yaml:"soffice_path" mapstructure:"soffice_path"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// QAConfig tunes the ask pipeline.
type QAConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	MaxQuestionChars    int     `yaml:"max_question_chars" mapstructure:"max_question_chars"`
	MaxFingerprintChars int     `yaml:"max_fingerprint_chars" mapstructure:"max_fingerprint_chars"`
	FailOnLedgerError   bool    `yaml:"fail_on_ledger_error" mapstructure:"fail_on_ledger_error"`
}

// CacheConfig configures the document record cache.
type CacheConfig struct {
	Size int           `yaml:"size" mapstructure:"size"`
	TTL  time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	JWKSURL  string        `yaml:"jwks_url" mapstructure:"jwks_url"`
	Issuer   string        `yaml:"issuer" mapstructure:"issuer"`
	Audience string        `yaml:"audience" mapstructure:"audience"`
	Leeway   time.Duration `yaml:"leeway" mapstructure:"leeway"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port          int           `yaml:"port" mapstructure:"port"`
	CORSOrigins   []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	ReadTimeout   time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxUploadSize int64         `yaml:"max_upload_size" mapstructure:"max_upload_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Exporter    string            `yaml:"exporter" mapstructure:"exporter"`
	Endpoint    string            `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure    bool              `yaml:"insecure" mapstructure:"insecure"`
	Headers     map[string]string `yaml:"headers" mapstructure:"headers"`
	ServiceName string            `yaml:"service_name" mapstructure:"service_name"`
	SampleRatio float64           `yaml:"sample_ratio" mapstructure:"sample_ratio"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCSAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "docsage.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("blob.backend", "gcs")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.credentials_file", "")
	v.SetDefault("blob.signer_email", "")
	v.SetDefault("blob.private_key_file", "")
	v.SetDefault("blob.presign_ttl", time.Hour)
	v.SetDefault("llm.provider", "mistral")
	v.SetDefault("llm.timeout", 180*time.Second)
	v.SetDefault("llm.rate_per_sec", 5.0)
	v.SetDefault("llm.burst", 10)
	v.SetDefault("llm.breaker_threshold", 5)
	v.SetDefault("llm.breaker_cooldown", 30*time.Second)
	v.SetDefault("mistral.key", "")
	v.SetDefault("mistral.model", "mistral-large-latest")
	v.SetDefault("mistral.base_url", "https://api.mistral.ai")
	v.SetDefault("mistral.document_image_limit", 8)
	v.SetDefault("mistral.document_page_limit", 1000)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("convert.soffice_path", "soffice")
	v.SetDefault("convert.timeout", 120*time.Second)
	v.SetDefault("qa.similarity_threshold", 0.85)
	v.SetDefault("qa.max_question_chars", 2000)
	v.SetDefault("qa.max_fingerprint_chars", 256)
	v.SetDefault("qa.fail_on_ledger_error", false)
	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.leeway", 30*time.Second)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 240*time.Second)
	v.SetDefault("server.max_upload_size", 50<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.service_name", "docsage")
	v.SetDefault("tracing.sample_ratio", 1.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Modes accepted by Validate.
const (
	ModeServe   = "serve"
	ModeAsk     = "ask"
	ModeUpload  = "upload"
	ModeHistory = "history"
	ModeMigrate = "migrate"
)

// Validate checks that the keys a command needs are set.
func (c *Config) Validate(mode string) error {
	var errs []string
	need := func(ok bool, key string) {
		if !ok {
			errs = append(errs, key+" is required")
		}
	}

	switch mode {
	case ModeServe, ModeAsk, ModeUpload, ModeHistory, ModeMigrate:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		need(c.Store.DatabaseURL != "", "store.database_url")
	case "sqlite":
		need(c.Store.SQLitePath != "", "store.sqlite_path")
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not postgres or sqlite", c.Store.Driver))
	}

	if mode == ModeServe || mode == ModeAsk || mode == ModeUpload {
		switch c.Blob.Backend {
		case "gcs":
			need(c.Blob.Bucket != "", "blob.bucket")
		case "memory":
		default:
			errs = append(errs, fmt.Sprintf("blob.backend %q is not gcs or memory", c.Blob.Backend))
		}

		switch c.LLM.Provider {
		case "mistral":
			need(c.Mistral.Key != "", "mistral.key")
		case "anthropic":
			need(c.Anthropic.Key != "", "anthropic.key")
		default:
			errs = append(errs, fmt.Sprintf("llm.provider %q is not mistral or anthropic", c.LLM.Provider))
		}

		if c.QA.SimilarityThreshold <= 0 || c.QA.SimilarityThreshold > 1 {
			errs = append(errs, "qa.similarity_threshold must be in (0, 1]")
		}
		if c.LLM.Timeout <= 0 {
			errs = append(errs, "llm.timeout must be > 0")
		}
	}

	if mode == ModeServe {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Auth.Enabled {
			need(c.Auth.JWKSURL != "", "auth.jwks_url")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
