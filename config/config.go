package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the extraction service
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	Server   ServerConfig   `mapstructure:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address             string        `mapstructure:"address"`
	SSEKeepAlive        time.Duration `mapstructure:"sse_keep_alive"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

// PipelineConfig tunes the per-job processing pipeline
type PipelineConfig struct {
	MaxConcurrentOCR int    `mapstructure:"max_concurrent_ocr"`
	Language         string `mapstructure:"language"`
	SystemPromptPath string `mapstructure:"system_prompt_path"`
}

// OCRConfig points at the document layout analysis provider
type OCRConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	APIKey       string        `mapstructure:"api_key"`
	Locale       string        `mapstructure:"locale"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

func (o OCRConfig) Validate() error {
	if o.Endpoint == "" {
		return fmt.Errorf("ocr.endpoint is required")
	}
	if o.APIKey == "" {
		return fmt.Errorf("ocr.api_key is required")
	}
	return nil
}

// LLMConfig contains the extraction model provider configuration
type LLMConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	AzureAuth bool          `mapstructure:"azure_auth"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if l.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if l.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}

// StorageConfig groups the backing stores
type StorageConfig struct {
	JobStore JobStoreConfig `mapstructure:"jobstore"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// JobStoreConfig selects where polling slots live
type JobStoreConfig struct {
	Backend string        `mapstructure:"backend"` // memory or redis
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

func (j JobStoreConfig) Validate() error {
	switch j.Backend {
	case "", "memory":
		return nil
	case "redis":
		if j.Redis.Addr == "" {
			return fmt.Errorf("storage.jobstore.redis.addr is required when backend is redis")
		}
		return nil
	default:
		return fmt.Errorf("unknown jobstore backend: %s", j.Backend)
	}
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ArtifactConfig selects where generated workbooks are kept
type ArtifactConfig struct {
	Backend string   `mapstructure:"backend"` // disk or s3
	Dir     string   `mapstructure:"dir"`
	S3      S3Config `mapstructure:"s3"`
}

func (a ArtifactConfig) Validate() error {
	switch a.Backend {
	case "", "disk":
		return nil
	case "s3":
		if a.S3.Endpoint == "" || a.S3.Bucket == "" {
			return fmt.Errorf("storage.artifact.s3.endpoint and bucket are required when backend is s3")
		}
		return nil
	default:
		return fmt.Errorf("unknown artifact backend: %s", a.Backend)
	}
}

// S3Config contains S3-compatible object store settings
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// PostgresConfig contains the catalog database settings. The catalog
// routes are disabled when it is left empty.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if p.Host == "" || p.DBName == "" {
		return ""
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// UploadConfig bounds what clients may submit
type UploadConfig struct {
	Dir           string   `mapstructure:"dir"`
	MaxFileSizeMB int64    `mapstructure:"max_file_size_mb"`
	AllowedDocExt []string `mapstructure:"allowed_doc_ext"`
}

func (u UploadConfig) Validate() error {
	if u.MaxFileSizeMB < 0 {
		return fmt.Errorf("upload.max_file_size_mb must be >= 0")
	}
	return nil
}

// LoadConfig reads configuration from the given file, or searches the
// usual locations when path is empty. It panics on hard errors because
// nothing can run without configuration.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "10m")
	viper.SetDefault("server.address", ":8000")
	viper.SetDefault("server.sse_keep_alive", "15s")
	viper.SetDefault("server.shutdown_grace_period", "10s")
	viper.SetDefault("pipeline.max_concurrent_ocr", 4)
	viper.SetDefault("pipeline.language", "zh-TW")
	viper.SetDefault("ocr.poll_interval", "2s")
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("storage.jobstore.backend", "memory")
	viper.SetDefault("storage.jobstore.ttl", "24h")
	viper.SetDefault("storage.artifact.backend", "disk")
	viper.SetDefault("storage.artifact.dir", "data/artifacts")
	viper.SetDefault("upload.dir", "data/uploads")
	viper.SetDefault("upload.max_file_size_mb", 50)
	viper.SetDefault("upload.allowed_doc_ext", []string{".pdf"})

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("SPECMATRIX")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (SPECMATRIX_*)

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.OCR.Validate(); err != nil {
		panic(err)
	}
	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.JobStore.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Artifact.Validate(); err != nil {
		panic(err)
	}
	if err := config.Upload.Validate(); err != nil {
		panic(err)
	}
	return &config
}
