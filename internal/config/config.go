// Package config holds salespilot configuration, loaded from YAML with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"salespilot/internal/embedding"
)

// Config is the top-level configuration.
type Config struct {
	// Library holds the prompt library and alias table locations. Empty
	// paths fall back to the embedded sample data.
	Library LibraryConfig `yaml:"library"`

	// Embedding configures the dense-vector backend.
	Embedding embedding.Config `yaml:"embedding"`

	// Retrieval configures the hybrid search.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// LLM configures the external collaborator model.
	LLM LLMConfig `yaml:"llm"`

	// Session configures lifecycle and negotiation policy.
	Session SessionConfig `yaml:"session"`
}

// LibraryConfig locates the data files.
type LibraryConfig struct {
	PromptsPath string `yaml:"prompts_path"`
	AliasesPath string `yaml:"aliases_path"`

	// Watch rebuilds the index when the prompts file changes.
	Watch bool `yaml:"watch"`
}

// RetrievalConfig tunes the hybrid retriever.
type RetrievalConfig struct {
	KDense  int `yaml:"k_dense"`
	KSparse int `yaml:"k_sparse"`
	KFinal  int `yaml:"k_final"`
	RRFK    int `yaml:"rrf_k"`
}

// LLMConfig configures the GenAI collaborator.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// SessionConfig configures session lifecycle and negotiation policy.
type SessionConfig struct {
	// TTL is the idle timeout before eviction.
	TTL time.Duration `yaml:"ttl"`

	// MaxRounds bounds the negotiation loop before escalating to NOT_FOUND.
	MaxRounds int `yaml:"max_rounds"`

	// StorePath is the SQLite file for manifest persistence; empty disables
	// persistence.
	StorePath string `yaml:"store_path"`
}

// UnmarshalYAML accepts ttl in time.ParseDuration notation ("30m", "1h30m").
// Absent fields keep whatever the struct already holds, so file values layer
// over defaults.
func (c *SessionConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		TTL       string `yaml:"ttl"`
		MaxRounds int    `yaml:"max_rounds"`
		StorePath string `yaml:"store_path"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.TTL != "" {
		d, err := time.ParseDuration(raw.TTL)
		if err != nil {
			return fmt.Errorf("invalid session ttl %q: %w", raw.TTL, err)
		}
		c.TTL = d
	}
	if raw.MaxRounds != 0 {
		c.MaxRounds = raw.MaxRounds
	}
	if raw.StorePath != "" {
		c.StorePath = raw.StorePath
	}
	return nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Embedding: embedding.DefaultConfig(),
		Retrieval: RetrievalConfig{
			KDense:  10,
			KSparse: 10,
			KFinal:  3,
			RRFK:    60,
		},
		LLM: LLMConfig{
			Model: "gemini-2.5-flash",
		},
		Session: SessionConfig{
			TTL:       30 * time.Minute,
			MaxRounds: 8,
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv pulls secrets from the environment. Environment values win over
// file values so keys never need to live on disk.
func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.APIKey = v
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = v
		}
	}
	if v := os.Getenv("SALESPILOT_OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("SALESPILOT_PROMPTS"); v != "" {
		c.Library.PromptsPath = v
	}
}
