package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Identity  IdentityConfig  `yaml:"identity" mapstructure:"identity"`
	Detector  DetectorConfig  `yaml:"detector" mapstructure:"detector"`
	Documents DocumentsConfig `yaml:"documents" mapstructure:"documents"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// IdentityConfig configures per-platform identity resolution. Keys of
// Platforms are platform names (mef, aria, emilia, toscana, ...).
type IdentityConfig struct {
	Platforms map[string]PlatformRule `yaml:"platforms" mapstructure:"platforms"`
}

// PlatformRule describes what a well-formed platform reference code looks
// like. Zero values fall back to the generic CIG shape (10 alphanumerics).
type PlatformRule struct {
	CodeLength  int    `yaml:"code_length" mapstructure:"code_length"`
	CodePattern string `yaml:"code_pattern" mapstructure:"code_pattern"`
}

// DetectorConfig configures change detection and closing policy.
type DetectorConfig struct {
	// MissingStreakThreshold is how many consecutive passes a tender may be
	// absent from its platform's full scrape before it is closed.
	MissingStreakThreshold int `yaml:"missing_streak_threshold" mapstructure:"missing_streak_threshold"`
}

// DocumentsConfig configures attachment classification and download.
type DocumentsConfig struct {
	DownloadDir       string   `yaml:"download_dir" mapstructure:"download_dir"`
	MaxFileSizeMB     int64    `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
	AllowedExtensions []string `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
	KeywordsFile      string   `yaml:"keywords_file" mapstructure:"keywords_file"`
	DownloadTimeout   int      `yaml:"download_timeout_secs" mapstructure:"download_timeout_secs"`
	Workers           int      `yaml:"workers" mapstructure:"workers"`
}

// ExtractConfig configures document text extraction.
type ExtractConfig struct {
	PdfToTextPath    string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MaxSectionChars  int    `yaml:"max_section_chars" mapstructure:"max_section_chars"`
	MaxRawTextChars  int    `yaml:"max_raw_text_chars" mapstructure:"max_raw_text_chars"`
	ContextLines     int    `yaml:"context_lines" mapstructure:"context_lines"`
	MinSectionLength int    `yaml:"min_section_length" mapstructure:"min_section_length"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings for the enrichment stage.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PipelineConfig configures orchestration behavior.
type PipelineConfig struct {
	MaxConcurrentTenders int `yaml:"max_concurrent_tenders" mapstructure:"max_concurrent_tenders"`
	StageRetryCap        int `yaml:"stage_retry_cap" mapstructure:"stage_retry_cap"`
}

// ServerConfig configures the read-only status API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/tenders.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("detector.missing_streak_threshold", 1)
	v.SetDefault("documents.download_dir", "data/downloads")
	v.SetDefault("documents.max_file_size_mb", 50)
	v.SetDefault("documents.allowed_extensions", []string{"pdf", "doc", "docx", "xls", "xlsx", "zip", "p7m"})
	v.SetDefault("documents.download_timeout_secs", 60)
	v.SetDefault("documents.workers", 4)
	v.SetDefault("extract.pdftotext_path", "pdftotext")
	v.SetDefault("extract.max_section_chars", 3000)
	v.SetDefault("extract.max_raw_text_chars", 50000)
	v.SetDefault("extract.context_lines", 5)
	v.SetDefault("extract.min_section_length", 100)
	v.SetDefault("extract.timeout_secs", 60)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 3000)
	v.SetDefault("anthropic.temperature", 0.1)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("pipeline.max_concurrent_tenders", 4)
	v.SetDefault("pipeline.stage_retry_cap", 3)
	v.SetDefault("identity.platforms", map[string]any{
		"mef":     map[string]any{"code_length": 10},
		"aria":    map[string]any{"code_pattern": `^ARIA_\d{4}_\d+(_[A-Z])?$`},
		"emilia":  map[string]any{"code_length": 10},
		"toscana": map[string]any{"code_length": 10},
	})

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
