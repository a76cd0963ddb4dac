// Package config loads sesh configuration.
//
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. Project config (.sesh/config.yaml)
//  3. Environment variables (SESH_*)
//
// Secrets never live in the file: tracker backends name the environment
// variable holding their token, not the token itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/retry"
	"github.com/randalmurphal/sesh/internal/store"
	"github.com/randalmurphal/sesh/internal/taskhub"
	"github.com/randalmurphal/sesh/internal/util"
)

const (
	// MetaDirName is the project metadata directory.
	MetaDirName = ".sesh"
	// ConfigFileName is the config file inside the metadata directory.
	ConfigFileName = "config.yaml"
	// EnvPrefix namespaces environment overrides: SESH_GIT_BASE_BRANCH,
	// SESH_STORE_BACKEND, SESH_STORE_DSN, ...
	EnvPrefix = "SESH"
)

// GitConfig holds branch and remote preferences.
type GitConfig struct {
	BaseBranch string `mapstructure:"base_branch" yaml:"base_branch"`
	Remote     string `mapstructure:"remote" yaml:"remote"`
}

// StoreConfig selects the session persistence backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path,omitempty"`
	DSN     string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

// BackendConfig configures one task backend.
type BackendConfig struct {
	Kind        string `mapstructure:"kind" yaml:"kind"`
	Prefix      string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Dir         string `mapstructure:"dir" yaml:"dir,omitempty"`
	Glob        string `mapstructure:"glob" yaml:"glob,omitempty"`
	Path        string `mapstructure:"path" yaml:"path,omitempty"`
	BaseURL     string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	TokenEnvVar string `mapstructure:"token_env_var" yaml:"token_env_var,omitempty"`
	Email       string `mapstructure:"email" yaml:"email,omitempty"`
	Project     string `mapstructure:"project" yaml:"project,omitempty"`
}

// TasksConfig configures the task router.
type TasksConfig struct {
	Default  string          `mapstructure:"default" yaml:"default,omitempty"`
	Backends []BackendConfig `mapstructure:"backends" yaml:"backends,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// Config is the full sesh configuration.
type Config struct {
	Git   GitConfig   `mapstructure:"git" yaml:"git"`
	Store StoreConfig `mapstructure:"store" yaml:"store"`
	Tasks TasksConfig `mapstructure:"tasks" yaml:"tasks"`
	Log   LogConfig   `mapstructure:"log" yaml:"log"`
}

// Default returns the out-of-the-box configuration: flat-file store,
// markdown checklists as the default task backend with the JSON store
// alongside.
func Default() *Config {
	return &Config{
		Git: GitConfig{
			BaseBranch: "main",
			Remote:     "origin",
		},
		Store: StoreConfig{
			Backend: string(store.KindFile),
		},
		Tasks: TasksConfig{
			Default: "md",
			Backends: []BackendConfig{
				{Kind: string(taskhub.KindMarkdown)},
				{Kind: string(taskhub.KindJSONStore)},
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// MetaDir returns the metadata directory for a project.
func MetaDir(projectDir string) string {
	return filepath.Join(projectDir, MetaDirName)
}

// Path returns the config file path for a project.
func Path(projectDir string) string {
	return filepath.Join(MetaDir(projectDir), ConfigFileName)
}

// Load reads the project config, layering the file over defaults and
// the environment over both. A missing file is not an error.
func Load(projectDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(Path(projectDir))
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, sesherr.ErrValidation(
				fmt.Sprintf("config %s is not valid YAML", Path(projectDir)),
				err.Error())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, sesherr.ErrValidation("config has the wrong shape", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides bind even
// without a config file.
func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("git.base_branch", def.Git.BaseBranch)
	v.SetDefault("git.remote", def.Git.Remote)
	v.SetDefault("store.backend", def.Store.Backend)
	v.SetDefault("store.path", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("tasks.default", def.Tasks.Default)
	v.SetDefault("tasks.backends", backendsAsMaps(def.Tasks.Backends))
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
}

// backendsAsMaps converts backend configs to the generic form viper
// merges with file content.
func backendsAsMaps(backends []BackendConfig) []map[string]any {
	out := make([]map[string]any, 0, len(backends))
	for _, b := range backends {
		out = append(out, map[string]any{"kind": b.Kind, "prefix": b.Prefix})
	}
	return out
}

// Validate rejects configs that would fail later in confusing ways.
func (c *Config) Validate() error {
	kind, err := store.ParseKind(c.Store.Backend)
	if err != nil {
		return err
	}
	if kind == store.KindPostgres && c.Store.DSN == "" {
		return sesherr.ErrValidation(
			"store backend postgres requires a DSN",
			"Set store.dsn in "+ConfigFileName+" or SESH_STORE_DSN in the environment")
	}
	for _, b := range c.Tasks.Backends {
		switch taskhub.BackendKind(b.Kind) {
		case taskhub.KindMarkdown, taskhub.KindJSONStore,
			taskhub.KindGitHub, taskhub.KindGitLab, taskhub.KindJira:
		default:
			return sesherr.ErrValidation(
				fmt.Sprintf("unknown task backend kind %q", b.Kind),
				"Supported kinds: markdown, jsonstore, github, gitlab, jira")
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return sesherr.ErrValidation(
			fmt.Sprintf("unknown log format %q", c.Log.Format),
			"Supported formats: text, json")
	}
	return nil
}

// StoreConfig resolves the store configuration with paths rooted in the
// project's metadata directory.
func (c *Config) StoreConfig(projectDir string) store.Config {
	kind := store.Kind(c.Store.Backend)
	policy := retry.NoRetry()
	if kind == store.KindPostgres {
		policy = retry.DefaultPolicy()
	}
	path := c.Store.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(MetaDir(projectDir), path)
	}
	return store.Config{
		Kind:  kind,
		Path:  path,
		DSN:   c.Store.DSN,
		Retry: policy,
	}
}

// BuildRouter constructs the task router from the configured backends.
// workDir is the repository used for remote detection by tracker
// backends; file-based backends get paths rooted there.
func (c *Config) BuildRouter(workDir string) (*taskhub.Router, error) {
	router := taskhub.NewRouter()
	for _, bc := range c.Tasks.Backends {
		cfg := taskhub.Config{
			Prefix:      bc.Prefix,
			Dir:         bc.Dir,
			Glob:        bc.Glob,
			Path:        bc.Path,
			WorkDir:     workDir,
			BaseURL:     bc.BaseURL,
			TokenEnvVar: bc.TokenEnvVar,
			Email:       bc.Email,
			Project:     bc.Project,
		}
		if cfg.Dir == "" {
			cfg.Dir = workDir
		}
		if bc.Kind == string(taskhub.KindJSONStore) && cfg.Path == "" {
			cfg.Path = filepath.Join(MetaDir(workDir), "tasks.json")
		}
		backend, err := taskhub.NewBackend(taskhub.BackendKind(bc.Kind), cfg)
		if err != nil {
			return nil, err
		}
		if err := router.Register(backend); err != nil {
			return nil, err
		}
	}
	if c.Tasks.Default != "" {
		if err := router.SetDefault(c.Tasks.Default); err != nil {
			return nil, err
		}
	}
	return router, nil
}

// Write persists the config to the project's metadata directory.
func Write(projectDir string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return sesherr.ErrStorage("encode config", err)
	}
	path := Path(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return sesherr.ErrStorage("create metadata directory", err)
	}
	if err := util.AtomicWriteFile(path, data, 0o644); err != nil {
		return sesherr.ErrStorage("write config", err)
	}
	return nil
}
