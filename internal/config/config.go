package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envKeyReplacer maps nested keys to env var form, e.g. repo.token -> REPO_TOKEN.
var envKeyReplacer = strings.NewReplacer(".", "_")

const (
	ModeLocal  = "local"
	ModeGitHub = "github"
)

// ServerConfig holds the dev HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutDownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// RepoConfig identifies the remote content repository and its branches.
type RepoConfig struct {
	Owner         string `mapstructure:"owner"`
	Name          string `mapstructure:"name"`
	DefaultBranch string `mapstructure:"default_branch" validate:"required"`
	DraftBranch   string `mapstructure:"draft_branch" validate:"required"`
	Token         string `mapstructure:"token"`
}

// StorageConfig selects the backend mode and the local content layout.
type StorageConfig struct {
	Mode       string        `mapstructure:"mode" validate:"required,oneof=local github"`
	ContentDir string        `mapstructure:"content_dir" validate:"required"`
	MirrorDev  bool          `mapstructure:"mirror_dev"` // best-effort remote mirror of local writes
	CallWait   time.Duration `mapstructure:"call_timeout"`
}

// CacheConfig selects the cache backend and validity window.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend" validate:"required,oneof=memory sqlite"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	TTL        time.Duration `mapstructure:"ttl" validate:"required"`
}

type MiscConfig struct {
	LogLevel    string `mapstructure:"log_level"`
	GinMode     string `mapstructure:"gin_mode"`
	CORSOrigins string `mapstructure:"cors_origins"`
}

// Config is the root configuration, resolved once at startup. The storage
// mode is decided here and never re-derived from the environment per call.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Repo    RepoConfig    `mapstructure:"repo"`
	Storage StorageConfig `mapstructure:"storage"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Misc    MiscConfig    `mapstructure:"misc"`
}

// LoadConfig reads config.yaml from confPath with GITPRESS_* env overrides.
// Missing config file is fine; defaults and env vars carry a dev setup.
func LoadConfig(confPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(confPath)

	// Defaults to allow running without config file
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("repo.default_branch", "main")
	v.SetDefault("repo.draft_branch", "cms-draft")
	v.SetDefault("storage.mode", ModeLocal)
	v.SetDefault("storage.content_dir", "./content")
	v.SetDefault("storage.mirror_dev", false)
	v.SetDefault("storage.call_timeout", 30*time.Second)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.sqlite_path", "./cache.db")
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("misc.log_level", "info")
	v.SetDefault("misc.gin_mode", "release")
	v.SetDefault("misc.cors_origins", "*")

	// Environment variables like GITPRESS_REPO_TOKEN override everything
	v.AutomaticEnv()
	v.SetEnvPrefix("GITPRESS")
	v.SetEnvKeyReplacer(envKeyReplacer)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file found, defaults and env vars apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags plus the cross-field rules viper cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Storage.Mode == ModeGitHub {
		if c.Repo.Owner == "" || c.Repo.Name == "" {
			return fmt.Errorf("github mode requires repo.owner and repo.name")
		}
		if c.Repo.Token == "" {
			return fmt.Errorf("github mode requires repo.token")
		}
	}
	if c.Storage.MirrorDev && (c.Repo.Owner == "" || c.Repo.Name == "") {
		return fmt.Errorf("storage.mirror_dev requires repo.owner and repo.name")
	}
	return nil
}
