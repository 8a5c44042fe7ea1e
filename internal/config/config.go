package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultDir holds the config file and the SQLite database
	DefaultDir = "~/.knowledge-base"

	// DefaultFile is the config file looked up when no path is given
	DefaultFile = "config.toml"

	// DefaultDBFile is the SQLite database file name inside DefaultDir
	DefaultDBFile = "knowledge-base.db"
)

// Upstream kinds
const (
	UpstreamGateway = "gateway"
	UpstreamDrive   = "drive"
	UpstreamLocalFS = "localfs"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the complete service configuration
type Config struct {
	Database  DatabaseConfig  `toml:"database" yaml:"database"`
	Embedding EmbeddingConfig `toml:"embedding" yaml:"embedding"`
	Rerank    RerankConfig    `toml:"rerank" yaml:"rerank"`
	Expansion ExpansionConfig `toml:"expansion" yaml:"expansion"`
	Upstream  UpstreamConfig  `toml:"upstream" yaml:"upstream"`
	Chunking  ChunkingConfig  `toml:"chunking" yaml:"chunking"`
	Retrieval RetrievalConfig `toml:"retrieval" yaml:"retrieval"`
	Sync      SyncConfig      `toml:"sync" yaml:"sync"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Log       LogConfig       `toml:"log" yaml:"log"`
}

// DatabaseConfig selects the chunk store backend
type DatabaseConfig struct {
	Driver       string `toml:"driver" yaml:"driver" validate:"oneof=sqlite postgres"`
	Path         string `toml:"path" yaml:"path"`
	DSN          string `toml:"dsn" yaml:"dsn" validate:"required_if=Driver postgres"`
	MaxOpenConns int    `toml:"max_open_conns" yaml:"max_open_conns" validate:"gte=0"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider       string   `toml:"provider" yaml:"provider" validate:"omitempty,oneof=voyage jina openai local"`
	Model          string   `toml:"model" yaml:"model"`
	Dimension      int      `toml:"dimension" yaml:"dimension" validate:"gte=0"`
	APIKey         string   `toml:"api_key" yaml:"api_key"`
	BaseURL        string   `toml:"base_url" yaml:"base_url" validate:"omitempty,url"`
	BatchSize      int      `toml:"batch_size" yaml:"batch_size" validate:"gte=1,lte=1000"`
	Timeout        Duration `toml:"timeout" yaml:"timeout" validate:"gte=0"`
	QueryCacheSize int      `toml:"query_cache_size" yaml:"query_cache_size"`
}

// RerankConfig selects the cross-encoder reranker
type RerankConfig struct {
	Provider string   `toml:"provider" yaml:"provider" validate:"omitempty,oneof=voyage jina none"`
	Model    string   `toml:"model" yaml:"model"`
	APIKey   string   `toml:"api_key" yaml:"api_key"`
	BaseURL  string   `toml:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Timeout  Duration `toml:"timeout" yaml:"timeout" validate:"gte=0"`
}

// ExpansionConfig configures the chat-completions endpoint used for query
// expansion
type ExpansionConfig struct {
	Enabled bool     `toml:"enabled" yaml:"enabled"`
	BaseURL string   `toml:"base_url" yaml:"base_url" validate:"omitempty,url"`
	APIKey  string   `toml:"api_key" yaml:"api_key"`
	Model   string   `toml:"model" yaml:"model"`
	Timeout Duration `toml:"timeout" yaml:"timeout" validate:"gte=0"`
}

// UpstreamConfig selects the corpus
type UpstreamConfig struct {
	Kind              string        `toml:"kind" yaml:"kind" validate:"oneof=gateway drive localfs"`
	Gateway           GatewayConfig `toml:"gateway" yaml:"gateway"`
	Drive             DriveConfig   `toml:"drive" yaml:"drive"`
	LocalDir          string        `toml:"local_dir" yaml:"local_dir"`
	RequestsPerSecond float64       `toml:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `toml:"burst" yaml:"burst" validate:"gte=0"`
	MaxDownloadMB     int           `toml:"max_download_mb" yaml:"max_download_mb" validate:"gte=0"`
}

// GatewayConfig points at the storage gateway
type GatewayConfig struct {
	URL    string `toml:"url" yaml:"url" validate:"omitempty,url"`
	APIKey string `toml:"api_key" yaml:"api_key"`
}

// DriveConfig holds Google Drive OAuth credentials
type DriveConfig struct {
	RootFolderID string `toml:"root_folder_id" yaml:"root_folder_id"`
	ClientID     string `toml:"client_id" yaml:"client_id"`
	ClientSecret string `toml:"client_secret" yaml:"client_secret"`
	RefreshToken string `toml:"refresh_token" yaml:"refresh_token"`
}

// ChunkingConfig sizes segments
type ChunkingConfig struct {
	ChunkSize int    `toml:"chunk_size" yaml:"chunk_size" validate:"gt=0"`
	Overlap   int    `toml:"overlap" yaml:"overlap" validate:"gte=0,ltfield=ChunkSize"`
	Boundary  string `toml:"boundary" yaml:"boundary" validate:"oneof=paragraph sentence none"`
}

// RetrievalConfig holds search defaults
type RetrievalConfig struct {
	TopK          int      `toml:"top_k" yaml:"top_k" validate:"gte=1,lte=50"`
	CandidatePool int      `toml:"candidate_pool" yaml:"candidate_pool" validate:"gte=1,lte=200"`
	SparseWeight  float64  `toml:"sparse_weight" yaml:"sparse_weight" validate:"gte=0"`
	Threshold     *float64 `toml:"threshold" yaml:"threshold"`
	Rerank        bool     `toml:"rerank" yaml:"rerank"`
}

// SyncConfig tunes the sync engine
type SyncConfig struct {
	Workers        int      `toml:"workers" yaml:"workers" validate:"gte=1,lte=64"`
	FileTimeout    Duration `toml:"file_timeout" yaml:"file_timeout" validate:"gte=0"`
	RetryAttempts  int      `toml:"retry_attempts" yaml:"retry_attempts" validate:"gte=1,lte=10"`
	RetryBaseDelay Duration `toml:"retry_base_delay" yaml:"retry_base_delay" validate:"gte=0"`
	WatchDebounce  Duration `toml:"watch_debounce" yaml:"watch_debounce" validate:"gte=0"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr            string   `toml:"addr" yaml:"addr" validate:"required"`
	CORSOrigins     []string `toml:"cors_origins" yaml:"cors_origins"`
	ReadTimeout     Duration `toml:"read_timeout" yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    Duration `toml:"write_timeout" yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

// LogConfig configures zap
type LogConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" yaml:"format" validate:"oneof=json console"`
}

// Default returns the configuration used when no file or environment
// overrides are present
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join(DefaultDir, DefaultDBFile),
		},
		Embedding: EmbeddingConfig{
			BatchSize: 96,
			Timeout:   Duration(60 * time.Second),
		},
		Rerank: RerankConfig{
			Timeout: Duration(30 * time.Second),
		},
		Expansion: ExpansionConfig{
			Model:   "gpt-4o-mini",
			Timeout: Duration(15 * time.Second),
		},
		Upstream: UpstreamConfig{
			Kind:          UpstreamGateway,
			MaxDownloadMB: 50,
		},
		Chunking: ChunkingConfig{
			ChunkSize: 1000,
			Overlap:   100,
			Boundary:  "paragraph",
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			CandidatePool: 20,
			SparseWeight:  1.0,
			Rerank:        true,
		},
		Sync: SyncConfig{
			Workers:        4,
			FileTimeout:    Duration(2 * time.Minute),
			RetryAttempts:  3,
			RetryBaseDelay: Duration(500 * time.Millisecond),
			WatchDebounce:  Duration(2 * time.Second),
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(5 * time.Minute),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional TOML or YAML
// file, a .env file and the environment, then validates it.
// An empty path looks for ~/.knowledge-base/config.toml and skips it if
// absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(DefaultDir, DefaultFile)
	}
	path, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	_ = godotenv.Load(".env")
	cfg.applyEnv(os.Getenv)

	if cfg.Database.Path, err = ExpandHome(cfg.Database.Path); err != nil {
		return nil, err
	}
	if cfg.Upstream.LocalDir, err = ExpandHome(cfg.Upstream.LocalDir); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes path over the current values, choosing the format by
// extension
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml", "":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field requirements
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	switch c.Upstream.Kind {
	case UpstreamGateway:
		if c.Upstream.Gateway.URL == "" {
			return fmt.Errorf("config validation failed: upstream.gateway.url is required (or set %s)", EnvGatewayURL)
		}
	case UpstreamDrive:
		d := c.Upstream.Drive
		if d.RootFolderID == "" || d.ClientID == "" || d.ClientSecret == "" || d.RefreshToken == "" {
			return fmt.Errorf("config validation failed: upstream.drive requires root_folder_id, client_id, client_secret and refresh_token")
		}
	case UpstreamLocalFS:
		if c.Upstream.LocalDir == "" {
			return fmt.Errorf("config validation failed: upstream.local_dir is required")
		}
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		return fmt.Errorf("config validation failed: database.path is required for sqlite")
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Duration is a time.Duration written as "30s" or "2m" in config files
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}
