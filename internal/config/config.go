// Package config loads and validates the pipeline configuration from YAML,
// with environment variable expansion and optional .env loading.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	pipeerrors "github.com/ericharmeling/docs-pipeline/internal/errors"
)

// Config represents the application configuration
type Config struct {
	Repositories []Repository     `yaml:"repositories"`
	Generation   GenerationConfig `yaml:"generation"`
	Build        BuildConfig      `yaml:"build"`
	Monitoring   MonitoringConfig `yaml:"monitoring"`
}

// Repository represents one configured source to document
type Repository struct {
	URL    string      `yaml:"url"`
	Name   string      `yaml:"name"`
	Branch string      `yaml:"branch,omitempty"`
	Auth   *AuthConfig `yaml:"auth,omitempty"`
	// Paths restricts discovery to a subset of directories within the
	// repository. Empty means the whole tree.
	Paths []string `yaml:"paths,omitempty"`
}

// AuthConfig represents git authentication configuration
type AuthConfig struct {
	Type     string `yaml:"type"` // "token", "basic"
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
}

// GenerationConfig configures the generative service client
type GenerationConfig struct {
	APIKey    string        `yaml:"api_key,omitempty"`
	BaseURL   string        `yaml:"base_url,omitempty"`
	Model     string        `yaml:"model,omitempty"`
	MaxTokens int           `yaml:"max_tokens,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	Retry     RetryConfig   `yaml:"retry,omitempty"`
}

// RetryConfig holds raw retry/backoff settings for transient failures
type RetryConfig struct {
	Mode       string        `yaml:"mode,omitempty"` // fixed|linear|exponential
	Initial    time.Duration `yaml:"initial,omitempty"`
	Max        time.Duration `yaml:"max,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty"`
}

// BuildConfig configures workspace, cache, reports and concurrency
type BuildConfig struct {
	WorkspaceDir string        `yaml:"workspace_dir,omitempty"` // base for transient workspaces, defaults to os.TempDir()
	CacheDir     string        `yaml:"cache_dir,omitempty"`     // permanent cache location
	ReportsDir   string        `yaml:"reports_dir,omitempty"`   // permanent reports location
	HistoryPath  string        `yaml:"history_path,omitempty"`  // sqlite build history, empty disables
	Concurrency  int           `yaml:"concurrency,omitempty"`   // bounded workers for per-unit stages
	ShallowDepth int           `yaml:"shallow_depth,omitempty"` // git clone depth, 0 = full
	Timeout      time.Duration `yaml:"timeout,omitempty"`       // per-build deadline
}

// MonitoringConfig configures optional observability surfaces
type MonitoringConfig struct {
	MetricsAddr string `yaml:"metrics_addr,omitempty"` // Prometheus endpoint, empty disables
	NATSURL     string `yaml:"nats_url,omitempty"`     // build event publishing, empty disables
	NATSSubject string `yaml:"nats_subject,omitempty"`
}

// Defaults applied by Load when fields are unset.
const (
	DefaultBaseURL     = "https://api.anthropic.com"
	DefaultModel       = "claude-sonnet-4-5"
	DefaultMaxTokens   = 4096
	DefaultCacheDir    = ".cache"
	DefaultReportsDir  = "docs/reports"
	DefaultNATSSubject = "docs.builds"
)

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env if present; existing process env wins.
	_ = godotenv.Load()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, pipeerrors.ConfigNotFound(configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Generation.BaseURL == "" {
		c.Generation.BaseURL = DefaultBaseURL
	}
	if c.Generation.Model == "" {
		c.Generation.Model = DefaultModel
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = DefaultMaxTokens
	}
	if c.Generation.Timeout <= 0 {
		c.Generation.Timeout = 2 * time.Minute
	}
	if c.Generation.APIKey == "" {
		c.Generation.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Build.CacheDir == "" {
		c.Build.CacheDir = DefaultCacheDir
	}
	if c.Build.ReportsDir == "" {
		c.Build.ReportsDir = DefaultReportsDir
	}
	if c.Build.Concurrency <= 0 {
		c.Build.Concurrency = 4
	}
	if c.Build.Timeout <= 0 {
		c.Build.Timeout = 30 * time.Minute
	}
	if c.Monitoring.NATSSubject == "" {
		c.Monitoring.NATSSubject = DefaultNATSSubject
	}
	for i := range c.Repositories {
		if c.Repositories[i].Branch == "" {
			c.Repositories[i].Branch = "main"
		}
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if len(c.Repositories) == 0 {
		return fmt.Errorf("no repositories configured")
	}

	seen := make(map[string]bool, len(c.Repositories))
	for i, repo := range c.Repositories {
		if repo.URL == "" {
			return pipeerrors.ConfigRequired(fmt.Sprintf("repositories[%d].url", i))
		}
		if repo.Name == "" {
			return pipeerrors.ConfigRequired(fmt.Sprintf("repositories[%d].name", i))
		}
		if seen[repo.Name] {
			return fmt.Errorf("duplicate repository name: %s", repo.Name)
		}
		seen[repo.Name] = true

		if repo.Auth != nil {
			switch repo.Auth.Type {
			case "token":
				if repo.Auth.Token == "" {
					return fmt.Errorf("repository %s: token auth requires a token", repo.Name)
				}
			case "basic":
				if repo.Auth.Username == "" || repo.Auth.Password == "" {
					return fmt.Errorf("repository %s: basic auth requires username and password", repo.Name)
				}
			default:
				return fmt.Errorf("repository %s: unsupported auth type %q", repo.Name, repo.Auth.Type)
			}
		}
	}

	return nil
}

// DefaultConfigYAML is the template written by `docspipeline init`.
const DefaultConfigYAML = `# docs-pipeline configuration
repositories:
  - url: https://github.com/example/api-service.git
    name: api-service
    branch: main
    paths:
      - pkg
      - cmd

generation:
  # api_key defaults to $ANTHROPIC_API_KEY
  model: claude-sonnet-4-5
  timeout: 2m
  retry:
    mode: linear
    initial: 1s
    max: 30s
    max_retries: 2

build:
  cache_dir: .cache
  reports_dir: docs/reports
  history_path: .cache/history.db
  concurrency: 4
  timeout: 30m

monitoring:
  # metrics_addr: :9102
  # nats_url: nats://127.0.0.1:4222
`

// WriteDefault writes the default configuration template to path.
// It refuses to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}
	return os.WriteFile(path, []byte(DefaultConfigYAML), 0o644)
}
