package config

import (
	"fmt"
)

// Config is the resolved configuration for the retrieval core.
//
// The core never reads the environment directly; the loader resolves
// ${VAR} references before the config reaches any component.
//
// Example:
//
//	embedding:
//	  primary_provider: remote
//	  remote:
//	    api_key: ${OPENAI_API_KEY}
//	    model: text-embedding-3-small
//	vector:
//	  store: qdrant
//	  collection: rating_guidelines
//	  dimension: 1536
type Config struct {
	Logger    LoggerConfig    `yaml:"logger,omitempty"`
	Tracing   TracingConfig   `yaml:"tracing,omitempty"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache,omitempty"`
	Vector    VectorConfig    `yaml:"vector"`
	Router    RouterConfig    `yaml:"router,omitempty"`
	Search    SearchConfig    `yaml:"search,omitempty"`
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.Tracing.SetDefaults()
	c.Embedding.SetDefaults()
	c.Cache.SetDefaults()
	c.Vector.SetDefaults()
	c.Router.SetDefaults()
	c.Search.SetDefaults()
}

// Validate checks the configuration for inconsistencies.
// Validation failures are fatal at startup.
func (c *Config) Validate() error {
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	return nil
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	// Level specifies the log level (debug, info, warn, error).
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json".
	Format string `yaml:"format,omitempty"`

	// File specifies the log file path. Empty means stderr.
	File string `yaml:"file,omitempty"`
}

// SetDefaults applies default values.
func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns tracing on. Default: off.
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter is "otlp-grpc" or "stdout".
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint for the OTLP exporter (host:port).
	Endpoint string `yaml:"endpoint,omitempty"`

	// ServiceName reported in spans.
	ServiceName string `yaml:"service_name,omitempty"`

	// SampleRate between 0.0 and 1.0.
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// SetDefaults applies default values.
func (c *TracingConfig) SetDefaults() {
	if c.Exporter == "" {
		c.Exporter = "otlp-grpc"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.ServiceName == "" {
		c.ServiceName = "ragcore"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
}

// RemoteEmbedderConfig holds credentials for the remote embedding API.
type RemoteEmbedderConfig struct {
	// APIKey for bearer authentication (required).
	APIKey string `yaml:"api_key"`

	// BaseURL of the embeddings API.
	BaseURL string `yaml:"base_url,omitempty"`

	// Model name sent with every request.
	Model string `yaml:"model,omitempty"`
}

// LocalEmbedderConfig configures the local model server provider.
type LocalEmbedderConfig struct {
	// Host of the local model server.
	Host string `yaml:"host,omitempty"`

	// Model identifier loaded by the server.
	Model string `yaml:"model,omitempty"`
}

// EmbeddingConfig configures the embedding provider chain.
type EmbeddingConfig struct {
	// PrimaryProvider is the first provider in the chain:
	// "remote", "local", or "mock". The chain always terminates
	// with the mock provider regardless of this setting.
	PrimaryProvider string `yaml:"primary_provider,omitempty"`

	// Remote provider credentials (required when PrimaryProvider is "remote").
	Remote *RemoteEmbedderConfig `yaml:"remote,omitempty"`

	// Local model server settings.
	Local *LocalEmbedderConfig `yaml:"local,omitempty"`

	// TimeoutSec is the per-provider call deadline in seconds.
	TimeoutSec int `yaml:"timeout_sec,omitempty"`

	// BatchSize is the maximum number of texts per provider call.
	BatchSize int `yaml:"batch_size,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbeddingConfig) SetDefaults() {
	if c.PrimaryProvider == "" {
		c.PrimaryProvider = "remote"
	}
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 10
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
}

// Validate checks the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	switch c.PrimaryProvider {
	case "remote":
		if c.Remote == nil || c.Remote.APIKey == "" {
			return fmt.Errorf("remote provider requires api_key")
		}
	case "local":
		if c.Local == nil {
			return fmt.Errorf("local provider requires a local section")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown primary_provider %q", c.PrimaryProvider)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	return nil
}

// EmbeddingCacheConfig configures the embedding vector cache.
type EmbeddingCacheConfig struct {
	// BackendURL is the redis address (redis://host:port/db).
	// Empty disables the cache; every lookup is a miss.
	BackendURL string `yaml:"backend_url,omitempty"`

	// TTLSec is the entry time-to-live in seconds.
	TTLSec int `yaml:"ttl_sec,omitempty"`
}

// ResultCacheConfig configures the query-result cache.
type ResultCacheConfig struct {
	// TTLSec is the entry time-to-live in seconds.
	TTLSec int `yaml:"ttl_sec,omitempty"`
}

// CacheConfig groups the two cache namespaces. Both share the
// embedding cache backend connection.
type CacheConfig struct {
	Embedding EmbeddingCacheConfig `yaml:"embedding,omitempty"`
	Results   ResultCacheConfig    `yaml:"results,omitempty"`
}

// SetDefaults applies default values.
func (c *CacheConfig) SetDefaults() {
	if c.Embedding.TTLSec == 0 {
		c.Embedding.TTLSec = 604800 // 7 days
	}
	if c.Results.TTLSec == 0 {
		c.Results.TTLSec = 86400 // 24 hours
	}
}

// HNSWConfig holds ANN index build parameters.
type HNSWConfig struct {
	// M is the graph degree.
	M int `yaml:"m,omitempty"`

	// EfConstruct is the build-time candidate count.
	EfConstruct int `yaml:"ef_construct,omitempty"`
}

// VectorConfig configures the vector index facade.
type VectorConfig struct {
	// Store selects the backend: "qdrant" or "chromem".
	Store string `yaml:"store,omitempty"`

	// Collection is the logical collection id (required).
	Collection string `yaml:"collection"`

	// Dimension of every vector in the collection.
	Dimension int `yaml:"dimension,omitempty"`

	// Metric is "cosine", "euclid", or "dot".
	Metric string `yaml:"metric,omitempty"`

	// HNSW index build parameters.
	HNSW HNSWConfig `yaml:"hnsw,omitempty"`

	// StoreURL is the backend address (host for qdrant).
	StoreURL string `yaml:"store_url,omitempty"`

	// Port of the qdrant gRPC endpoint.
	Port int `yaml:"port,omitempty"`

	// APIKey for authenticated access.
	APIKey string `yaml:"api_key,omitempty"`

	// EnableTLS enables TLS connections.
	EnableTLS *bool `yaml:"enable_tls,omitempty"`

	// PersistPath for chromem file persistence.
	PersistPath string `yaml:"persist_path,omitempty"`

	// TimeoutSec is the per-call deadline in seconds.
	TimeoutSec int `yaml:"timeout_sec,omitempty"`

	// BatchSize is the upsert chunk size.
	BatchSize int `yaml:"batch_size,omitempty"`

	// ResultCache toggles the search result cache.
	ResultCache bool `yaml:"result_cache,omitempty"`
}

// SetDefaults applies default values.
func (c *VectorConfig) SetDefaults() {
	if c.Store == "" {
		c.Store = "qdrant"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
	if c.Metric == "" {
		c.Metric = "cosine"
	}
	if c.HNSW.M == 0 {
		c.HNSW.M = 16
	}
	if c.HNSW.EfConstruct == 0 {
		c.HNSW.EfConstruct = 100
	}
	if c.StoreURL == "" {
		c.StoreURL = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 30
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
}

// Validate checks the vector configuration.
func (c *VectorConfig) Validate() error {
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	switch c.Metric {
	case "cosine", "euclid", "dot":
	default:
		return fmt.Errorf("unknown metric %q", c.Metric)
	}
	switch c.Store {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	return nil
}

// RouterWeights holds the hybrid merge weights.
type RouterWeights struct {
	Vector  float64 `yaml:"vector,omitempty"`
	Lexical float64 `yaml:"lexical,omitempty"`
}

// RouterConfig configures the knowledge-base router.
type RouterConfig struct {
	// Strategy is "auto", "vector", "lexical", or "hybrid".
	Strategy string `yaml:"strategy,omitempty"`

	// ConfidenceThreshold is the vector top-1 score at which the
	// auto strategy skips the lexical path.
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty"`

	// EnableCache toggles the query-result cache.
	EnableCache bool `yaml:"enable_cache,omitempty"`

	// Weights for hybrid merging.
	Weights RouterWeights `yaml:"weights,omitempty"`
}

// SetDefaults applies default values.
func (c *RouterConfig) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = "auto"
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.Weights.Vector == 0 && c.Weights.Lexical == 0 {
		c.Weights.Vector = 0.7
		c.Weights.Lexical = 0.3
	}
}

// Validate checks the router configuration.
func (c *RouterConfig) Validate() error {
	switch c.Strategy {
	case "auto", "vector", "lexical", "hybrid":
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1]")
	}
	return nil
}

// SearchConfig configures end-to-end search behavior.
type SearchConfig struct {
	// DeadlineSec is the overall search deadline in seconds.
	DeadlineSec int `yaml:"deadline_sec,omitempty"`

	// DefaultTopK is the default number of results.
	DefaultTopK int `yaml:"default_top_k,omitempty"`
}

// SetDefaults applies default values.
func (c *SearchConfig) SetDefaults() {
	if c.DeadlineSec == 0 {
		c.DeadlineSec = 5
	}
	if c.DefaultTopK == 0 {
		c.DefaultTopK = 10
	}
}
