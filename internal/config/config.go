package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultConfigName = "maniflow.yaml"

type Config struct {
	Server    ServerConfig    `yaml:"server,omitempty"`
	LLM       LLMConfig       `yaml:"llm,omitempty"`
	Embedding EmbeddingConfig `yaml:"embedding,omitempty"`
	Retrieval RetrievalConfig `yaml:"retrieval,omitempty"`
	Manifests ManifestsConfig `yaml:"manifests,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Reaper    ReaperConfig    `yaml:"reaper,omitempty"`
}

type ServerConfig struct {
	Port int `yaml:"port,omitempty"`
}

// LLMConfig selects the text-generation provider.
type LLMConfig struct {
	Provider string `yaml:"provider,omitempty"` // "openai" (and compatible gateways) or "anthropic"
	APIKey   string `yaml:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	Model    string `yaml:"model,omitempty"`
	// TimeoutSeconds bounds every oracle call; a timeout degrades to the
	// deterministic fallback text, never to a hung turn.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

type EmbeddingConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

type RetrievalConfig struct {
	DataDir             string  `yaml:"data_dir,omitempty"`
	Collection          string  `yaml:"collection,omitempty"`
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty"`
}

type ManifestsConfig struct {
	Dir     string `yaml:"dir,omitempty"`
	Catalog string `yaml:"catalog,omitempty"`
}

type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"` // "memory" or "sqlite"
	Path    string `yaml:"path,omitempty"`    // sqlite database path
}

type ReaperConfig struct {
	Schedule   string `yaml:"schedule,omitempty"` // cron spec
	TTLMinutes int    `yaml:"ttl_minutes,omitempty"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 5000},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 30,
		},
		Embedding: EmbeddingConfig{
			Model: "text-embedding-3-small",
		},
		Retrieval: RetrievalConfig{
			DataDir:             "./database",
			Collection:          "manifests",
			SimilarityThreshold: 0.4,
		},
		Manifests: ManifestsConfig{
			Dir:     "manifests",
			Catalog: "manifests/catalog.yaml",
		},
		Store: StoreConfig{Backend: "memory"},
		Reaper: ReaperConfig{
			Schedule:   "@every 10m",
			TTLMinutes: 60,
		},
	}
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(".", defaultConfigName)
}

// Load reads the config from the default path, falling back to defaults
// when the file does not exist.
func Load() (*Config, error) {
	return LoadFromPath(ConfigPath())
}

// LoadFromPath reads and parses a config file. A missing file is not an
// error: defaults apply. API keys may be supplied via environment.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	normalize(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MANIFLOW_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("MANIFLOW_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
}

func normalize(cfg *Config) {
	def := DefaultConfig()
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = def.LLM.TimeoutSeconds
	}
	if cfg.Retrieval.DataDir == "" {
		cfg.Retrieval.DataDir = def.Retrieval.DataDir
	}
	if cfg.Retrieval.Collection == "" {
		cfg.Retrieval.Collection = def.Retrieval.Collection
	}
	if cfg.Retrieval.SimilarityThreshold <= 0 {
		cfg.Retrieval.SimilarityThreshold = def.Retrieval.SimilarityThreshold
	}
	if cfg.Manifests.Dir == "" {
		cfg.Manifests.Dir = def.Manifests.Dir
	}
	if cfg.Manifests.Catalog == "" {
		cfg.Manifests.Catalog = filepath.Join(cfg.Manifests.Dir, "catalog.yaml")
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.Path == "" {
		cfg.Store.Path = ".maniflow.db"
	}
	if cfg.Reaper.Schedule == "" {
		cfg.Reaper.Schedule = def.Reaper.Schedule
	}
	if cfg.Reaper.TTLMinutes <= 0 {
		cfg.Reaper.TTLMinutes = def.Reaper.TTLMinutes
	}
}
