package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application. A Config value is
// passed explicitly into every engine constructor; there is no process-wide
// singleton.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Judge      JudgeConfig      `mapstructure:"judge"`
	Resolution ResolutionConfig `mapstructure:"resolution"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	PlanStore  PlanStoreConfig  `mapstructure:"plan_store"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`

	// CircuitBreaker applies to every external service call (embed, judge).
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// DatabaseConfig holds graph store configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // neo4j, memory
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// EmbeddingConfig holds embedding service configuration.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"` // openai
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// JudgeConfig holds semantic judge configuration. Provider "string" selects
// the deterministic similarity judge; "openai" selects the LLM-backed one.
type JudgeConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ResolutionConfig tunes the entity resolution engine.
type ResolutionConfig struct {
	// JudgeThreshold is the minimum judge confidence for a pair to be
	// confirmed a duplicate. Not asserted upstream; 0.85 keeps near-name
	// matches like "Marshal"/"High Marshal Helbrecht" unmerged.
	JudgeThreshold float64 `mapstructure:"judge_threshold"`
	// CandidateFloor is the minimum deterministic name similarity for a
	// pair to be queued for judge confirmation at all.
	CandidateFloor   float64       `mapstructure:"candidate_floor"`
	JudgeConcurrency int           `mapstructure:"judge_concurrency"`
	DetectionTimeout time.Duration `mapstructure:"detection_timeout"`
	// PropertyPolicy: canonical-wins, most-recent-wins, manual.
	PropertyPolicy string `mapstructure:"property_policy"`
	// EdgePolicy: collapse, preserve.
	EdgePolicy string `mapstructure:"edge_policy"`
	// ExecConcurrency bounds how many disjoint groups execute at once.
	ExecConcurrency int `mapstructure:"exec_concurrency"`
	// PlanExportDir, when set, also writes plans as reviewable JSON files.
	PlanExportDir string `mapstructure:"plan_export_dir"`
}

// RetrievalConfig tunes the hybrid retrieval engine.
type RetrievalConfig struct {
	TopK          int     `mapstructure:"top_k"`
	HopLimit      int     `mapstructure:"hop_limit"`
	MaxNeighbors  int     `mapstructure:"max_neighbors"`
	VectorWeight  float64 `mapstructure:"vector_weight"`
	KeywordWeight float64 `mapstructure:"keyword_weight"`
	GraphWeight   float64 `mapstructure:"graph_weight"`
	// BudgetChars truncates the ranked context to an approximate token
	// budget, measured in characters of item text.
	BudgetChars      int `mapstructure:"budget_chars"`
	StageConcurrency int `mapstructure:"stage_concurrency"`
}

// PlanStoreConfig holds durable plan storage configuration.
type PlanStoreConfig struct {
	Path string `mapstructure:"path"`
}

// BackupConfig holds snapshot configuration.
type BackupConfig struct {
	Dir string `mapstructure:"dir"`
}

// TelemetryConfig holds the parquet error-log sink configuration.
type TelemetryConfig struct {
	ParquetPath string `mapstructure:"parquet_path"`
}

// CircuitBreakerConfig holds configuration for circuit breaking.
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // seconds
	Timeout          int     `mapstructure:"timeout"`  // seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// Load loads configuration from the active viper config file and
// environment variables.
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)
	return config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")

	viper.SetDefault("database.driver", "memory")
	viper.SetDefault("database.uri", "bolt://localhost:7687")
	viper.SetDefault("database.database", "neo4j")

	viper.SetDefault("embedding.provider", "openai")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimensions", 1536)
	viper.SetDefault("embedding.timeout", 15*time.Second)

	viper.SetDefault("judge.provider", "string")
	viper.SetDefault("judge.model", "gpt-4o-mini")
	viper.SetDefault("judge.temperature", 0.1)
	viper.SetDefault("judge.timeout", 30*time.Second)

	viper.SetDefault("resolution.judge_threshold", 0.85)
	viper.SetDefault("resolution.candidate_floor", 0.55)
	viper.SetDefault("resolution.judge_concurrency", 4)
	viper.SetDefault("resolution.detection_timeout", 5*time.Minute)
	viper.SetDefault("resolution.property_policy", "canonical-wins")
	viper.SetDefault("resolution.edge_policy", "collapse")
	viper.SetDefault("resolution.exec_concurrency", 2)
	viper.SetDefault("resolution.plan_export_dir", "resolution_plans")

	viper.SetDefault("retrieval.top_k", 5)
	viper.SetDefault("retrieval.hop_limit", 1)
	viper.SetDefault("retrieval.max_neighbors", 8)
	viper.SetDefault("retrieval.vector_weight", 0.6)
	viper.SetDefault("retrieval.keyword_weight", 0.25)
	viper.SetDefault("retrieval.graph_weight", 0.15)
	viper.SetDefault("retrieval.budget_chars", 6000)
	viper.SetDefault("retrieval.stage_concurrency", 4)

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("plan_store.path", fmt.Sprintf("%s/.graphmend/plans", home))
		viper.SetDefault("backup.dir", fmt.Sprintf("%s/.graphmend/backups", home))
		viper.SetDefault("telemetry.parquet_path", fmt.Sprintf("%s/.graphmend/telemetry", home))
	}
}

// overrideWithEnv overrides config with environment variables.
func overrideWithEnv(config *Config) {
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Database.URI = uri
		config.Database.Driver = "neo4j"
	}
	if user := os.Getenv("NEO4J_USERNAME"); user != "" {
		config.Database.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Database.Password = pass
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
		if config.Judge.APIKey == "" {
			config.Judge.APIKey = apiKey
		}
	}

	if dir := os.Getenv("GRAPHMEND_PLAN_STORE"); dir != "" {
		config.PlanStore.Path = dir
	}
	if dir := os.Getenv("GRAPHMEND_BACKUP_DIR"); dir != "" {
		config.Backup.Dir = dir
	}
	if path := os.Getenv("GRAPHMEND_TELEMETRY_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
}
