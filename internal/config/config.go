// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (OFFICEBRAIN_* overrides, GEMINI_API_KEY)
//  2. Config file (~/.officebrain/config.yaml)
//  3. Default values
//
// Validation is fail-fast: Load returns an error before any component sees a
// bad value. Sentinel errors support errors.Is() at call sites.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the Gemini API key is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidChunking indicates chunk size/overlap values are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")
)

const (
	// DefaultEmbedderModel is the default Gemini embedding model.
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultModelName is the default Gemini chat model.
	DefaultModelName = "gemini-flash-latest"

	// DefaultEmbeddingDimension is the vector dimension requested from the
	// embedder. All vectors in one index must share this dimension.
	DefaultEmbeddingDimension = 768

	// DefaultChunkSize is the passage size in characters used when splitting
	// the knowledge corpus.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the character overlap between consecutive passages.
	DefaultChunkOverlap = 200

	// DefaultTopK is the number of passages retrieved per query.
	DefaultTopK = 4
)

// Config stores application configuration.
type Config struct {
	// AI model configuration
	ModelName       string  `mapstructure:"model_name"`
	EmbedderModel   string  `mapstructure:"embedder_model"`
	Temperature     float32 `mapstructure:"temperature"`
	TopP            float32 `mapstructure:"top_p"`
	TopK            float32 `mapstructure:"top_k"`
	MaxOutputTokens int32   `mapstructure:"max_output_tokens"`

	// Knowledge base configuration
	CorpusPath         string `mapstructure:"corpus_path"`
	IndexPath          string `mapstructure:"index_path"`
	ChunkSize          int    `mapstructure:"chunk_size"`
	ChunkOverlap       int    `mapstructure:"chunk_overlap"`
	EmbeddingDimension int32  `mapstructure:"embedding_dimension"`
	RetrievalTopK      int    `mapstructure:"retrieval_top_k"`

	// Storage configuration
	DataDir string `mapstructure:"data_dir"`

	// External service behavior
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// GeminiAPIKey is read from the GEMINI_API_KEY environment variable only,
	// never from the config file, so it cannot end up in a world-readable YAML.
	GeminiAPIKey string `mapstructure:"-"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	return LoadFrom(filepath.Join(home, ".officebrain"))
}

// LoadFrom loads configuration rooted at the given directory.
// Split from Load so tests can use a temp directory.
func LoadFrom(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	setDefaults(v, configDir)

	v.SetEnvPrefix("OFFICEBRAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	// Generation controls are treated as fixed configuration: answers are
	// grounded in retrieved context, so sampling stays permissive.
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("temperature", 1.0)
	v.SetDefault("top_p", 0.95)
	v.SetDefault("top_k", 64)
	v.SetDefault("max_output_tokens", 8192)

	// Knowledge base defaults
	v.SetDefault("corpus_path", "knowledge.txt")
	v.SetDefault("index_path", filepath.Join(configDir, "knowledge.index"))
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("embedding_dimension", DefaultEmbeddingDimension)
	v.SetDefault("retrieval_top_k", DefaultTopK)

	// Storage defaults
	v.SetDefault("data_dir", configDir)

	// External service defaults
	v.SetDefault("request_timeout", 30*time.Second)
}

// Validate checks configuration values and returns the first violation found.
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name must not be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature %v not in [0, 2]", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxOutputTokens <= 0 {
		return fmt.Errorf("%w: max_output_tokens %d must be positive", ErrInvalidMaxTokens, c.MaxOutputTokens)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size %d must be positive", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: embedding_dimension %d must be positive", ErrInvalidChunking, c.EmbeddingDimension)
	}
	if c.RetrievalTopK <= 0 || c.RetrievalTopK > 100 {
		return fmt.Errorf("%w: retrieval_top_k %d not in [1, 100]", ErrInvalidTopK, c.RetrievalTopK)
	}
	return nil
}

// CheckAPIKey verifies the Gemini API key is present. It is separate from
// Validate so commands that never call the model (help, version) can load
// configuration without a key.
func (c *Config) CheckAPIKey() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable not set", ErrMissingAPIKey)
	}
	return nil
}

// HistoryPath returns the durable conversation artifact path for an identity.
// The identity is sanitized so it cannot escape the data directory.
func (c *Config) HistoryPath(identity string) string {
	return filepath.Join(c.DataDir, "history_"+sanitizeIdentity(identity)+".json")
}

// sanitizeIdentity strips anything that could act as a path component.
// Identities are already validated at registration; this guards artifacts
// created for arbitrary login names.
func sanitizeIdentity(identity string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, identity)
}

// UsersPath returns the path of the user credential store.
func (c *Config) UsersPath() string {
	return filepath.Join(c.DataDir, "users.json")
}
