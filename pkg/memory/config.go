package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the complete configuration for a memory.Client.
type Config struct {
	Embedder       EmbedderConfig       `json:"embedder"`
	GraphExtractor GraphExtractorConfig `json:"graph_extractor"`
	VectorStore    VectorStoreConfig    `json:"vector_store"`
	MetadataStore  MetadataStoreConfig  `json:"metadata_store"`
	Defaults       PersonaDefaults      `json:"defaults"`
	Dedup          DedupConfig          `json:"dedup,omitempty"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Provider   string `json:"provider"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	BaseURL    string `json:"base_url,omitempty"`
	Dimensions int    `json:"dimensions"`
}

// GraphExtractorConfig holds settings for the entity/relationship
// extractor. New does not read it: the extractor is passed to New
// directly, and a nil extractor skips graph extraction altogether.
type GraphExtractorConfig struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url,omitempty"`
}

// VectorStoreConfig configures the fixed-capacity vector store (C1+C2+C3).
// All fields are construction-time immutable per spec.md §6.
type VectorStoreConfig struct {
	MaxMemoryMB    int    `json:"max_memory_mb"`
	Dimensions     int    `json:"dimensions"`
	M              int    `json:"m"`
	EfConstruction int    `json:"ef_construction"`
	EfSearch       int    `json:"ef_search"`
	Metric         string `json:"metric"` // "cosine" or "euclidean"
	IndexThreshold int    `json:"index_threshold"`
}

// MetadataStoreConfig selects and configures the durable MetadataStore.
type MetadataStoreConfig struct {
	Provider string                 `json:"provider"` // "sqlite", "postgres", "oceanbase"
	Config   map[string]interface{} `json:"config"`
}

// PersonaDefaults are applied to CreatePersona when the caller omits a field.
type PersonaDefaults struct {
	MaxMemorySize            int     `json:"max_memory_size"`
	MemoryDecayTime          int64   `json:"memory_decay_time"`
	MemoryRetrievalThreshold float32 `json:"memory_retrieval_threshold"`
}

// DedupConfig configures the opt-in deduplication pre-check on AddMemory.
type DedupConfig struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
}

// Validate checks that required fields are set and in documented ranges.
func (c *Config) Validate() error {
	if c.Embedder.Provider == "" {
		return newMemoryError("Validate", fmt.Errorf("%w: embedder provider required", ErrValidation))
	}
	if c.VectorStore.Dimensions <= 0 {
		return newMemoryError("Validate", fmt.Errorf("%w: vector store dimensions must be > 0", ErrValidation))
	}
	if c.VectorStore.MaxMemoryMB <= 0 {
		return newMemoryError("Validate", fmt.Errorf("%w: vector store max_memory_mb must be > 0", ErrValidation))
	}
	if c.MetadataStore.Provider == "" {
		return newMemoryError("Validate", fmt.Errorf("%w: metadata store provider required", ErrValidation))
	}
	if c.Defaults.MaxMemorySize != 0 && (c.Defaults.MaxMemorySize < 10 || c.Defaults.MaxMemorySize > 10000) {
		return newMemoryError("Validate", fmt.Errorf("%w: default max_memory_size out of [10, 10000]", ErrValidation))
	}
	if c.Defaults.MemoryDecayTime != 0 && (c.Defaults.MemoryDecayTime < 60_000 || c.Defaults.MemoryDecayTime > 31_536_000_000) {
		return newMemoryError("Validate", fmt.Errorf("%w: default memory_decay_time out of [60000, 31536000000]", ErrValidation))
	}
	return nil
}

// LoadConfigFromEnv loads configuration from environment variables,
// locating a .env file by searching the current directory and up to
// 5 levels of parent directories.
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	dims, _ := strconv.Atoi(getEnvOrDefault("VECTOR_STORE_DIMENSIONS", "1536"))
	maxMemoryMB, _ := strconv.Atoi(getEnvOrDefault("VECTOR_STORE_MAX_MEMORY_MB", "512"))
	m, _ := strconv.Atoi(getEnvOrDefault("HNSW_M", "16"))
	efConstruction, _ := strconv.Atoi(getEnvOrDefault("HNSW_EF_CONSTRUCTION", "200"))
	efSearch, _ := strconv.Atoi(getEnvOrDefault("HNSW_EF_SEARCH", "50"))
	indexThreshold, _ := strconv.Atoi(getEnvOrDefault("VECTOR_STORE_INDEX_THRESHOLD", "100"))

	metadataProvider := getEnvOrDefault("METADATA_STORE_PROVIDER", "sqlite")
	metadataConfig := map[string]interface{}{}
	switch metadataProvider {
	case "sqlite":
		metadataConfig["db_path"] = getEnvOrDefault("SQLITE_PATH", "./memory.db")
	case "postgres":
		metadataConfig["dsn"] = os.Getenv("POSTGRES_DSN")
	case "oceanbase":
		port, _ := strconv.Atoi(getEnvOrDefault("OCEANBASE_PORT", "2881"))
		metadataConfig["host"] = getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1")
		metadataConfig["port"] = port
		metadataConfig["user"] = getEnvOrDefault("OCEANBASE_USER", "root@sys")
		metadataConfig["password"] = os.Getenv("OCEANBASE_PASSWORD")
		metadataConfig["db_name"] = getEnvOrDefault("OCEANBASE_DATABASE", "personamem")
	}

	dedupEnabled := os.Getenv("DEDUP_ENABLED") == "true"
	dedupThreshold, _ := strconv.ParseFloat(getEnvOrDefault("DEDUP_THRESHOLD", "0.95"), 64)

	maxMemorySize, _ := strconv.Atoi(getEnvOrDefault("PERSONA_MAX_MEMORY_SIZE", "1000"))
	decayTime, _ := strconv.ParseInt(getEnvOrDefault("PERSONA_MEMORY_DECAY_TIME", "2592000000"), 10, 64)
	threshold, _ := strconv.ParseFloat(getEnvOrDefault("PERSONA_RETRIEVAL_THRESHOLD", "0.5"), 64)

	cfg := &Config{
		Embedder: EmbedderConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: dims,
		},
		GraphExtractor: GraphExtractorConfig{
			Provider: getEnvOrDefault("GRAPH_EXTRACTOR_PROVIDER", "openai"),
			APIKey:   os.Getenv("GRAPH_EXTRACTOR_API_KEY"),
			Model:    getEnvOrDefault("GRAPH_EXTRACTOR_MODEL", "gpt-4"),
			BaseURL:  os.Getenv("GRAPH_EXTRACTOR_BASE_URL"),
		},
		VectorStore: VectorStoreConfig{
			MaxMemoryMB:    maxMemoryMB,
			Dimensions:     dims,
			M:              m,
			EfConstruction: efConstruction,
			EfSearch:       efSearch,
			Metric:         getEnvOrDefault("VECTOR_STORE_METRIC", "cosine"),
			IndexThreshold: indexThreshold,
		},
		MetadataStore: MetadataStoreConfig{
			Provider: metadataProvider,
			Config:   metadataConfig,
		},
		Defaults: PersonaDefaults{
			MaxMemorySize:            maxMemorySize,
			MemoryDecayTime:          decayTime,
			MemoryRetrievalThreshold: float32(threshold),
		},
		Dedup: DedupConfig{
			Enabled:   dedupEnabled,
			Threshold: dedupThreshold,
		},
	}
	return cfg, nil
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newMemoryError("LoadConfigFromJSON", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, newMemoryError("LoadConfigFromJSON", err)
	}
	return &cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// FindEnvFile searches the current directory, then up to 5 parent
// directories, for a .env or .env.example file.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 6; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")
		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
