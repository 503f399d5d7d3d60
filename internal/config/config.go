package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure returned from Load.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	Answer    AnswerConfig    `mapstructure:"answer"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// VectorConfig points at the networked vector database.
type VectorConfig struct {
	URL        string        `mapstructure:"url"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// Recreate drops and recreates the collection the first time the
	// backend is reached.
	Recreate bool `mapstructure:"recreate"`
}

type EmbeddingConfig struct {
	Dimension int `mapstructure:"dimension"`
}

type SearchConfig struct {
	Limit int `mapstructure:"limit"`
}

type AnswerConfig struct {
	PreviewLength int `mapstructure:"preview_length"`
}

type TracingConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults mirror the values the service ships with.
var defaults = map[string]any{
	"server.addr":           ":8000",
	"vector.url":            "http://localhost:6334",
	"vector.collection":     "demo_collection",
	"vector.timeout":        "2s",
	"vector.recreate":       true,
	"embedding.dimension":   128,
	"search.limit":          2,
	"answer.preview_length": 100,
	"tracing.endpoint":      "",
	"tracing.sample_rate":   1.0,
	"log.level":             "info",
	"log.format":            "text",
}

// Unprefixed environment names accepted alongside RAG_*.
var legacyEnv = map[string]string{
	"vector.url":          "QDRANT_URL",
	"vector.collection":   "QDRANT_COLLECTION",
	"embedding.dimension": "EMBEDDING_DIMENSION",
	"search.limit":        "SEARCH_LIMIT",
}

// QdrantTarget returns the host:port for the gRPC transport. A URL without
// a port, or with Qdrant's REST port 6333, uses the gRPC port 6334.
func (c VectorConfig) QdrantTarget() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("%w: vector.url %q: %v", ErrInvalid, c.URL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: vector.url %q has no host", ErrInvalid, c.URL)
	}
	port := u.Port()
	if port == "" || port == "6333" {
		port = "6334"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Validate checks the configuration and returns the first fatal problem.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("%w: embedding.dimension must be positive, got %d", ErrInvalid, c.Embedding.Dimension)
	}
	if c.Search.Limit < 1 {
		return fmt.Errorf("%w: search.limit must be at least 1, got %d", ErrInvalid, c.Search.Limit)
	}
	if c.Answer.PreviewLength < 1 {
		return fmt.Errorf("%w: answer.preview_length must be at least 1, got %d", ErrInvalid, c.Answer.PreviewLength)
	}
	if c.Vector.Collection == "" {
		return fmt.Errorf("%w: vector.collection is empty", ErrInvalid)
	}
	if c.Vector.Timeout <= 0 {
		return fmt.Errorf("%w: vector.timeout must be positive, got %s", ErrInvalid, c.Vector.Timeout)
	}
	if _, err := c.Vector.QdrantTarget(); err != nil {
		return err
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("%w: tracing.sample_rate %.2f is outside [0, 1]", ErrInvalid, c.Tracing.SampleRate)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log.level %q", ErrInvalid, c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Load reads configuration from an optional file and the environment.
// An empty path skips the file; a named file that does not exist is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, env, "RAG_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshalling config: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
