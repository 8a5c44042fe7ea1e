package config

import (
	"strconv"
	"strings"
)

// Environment variables read by Load. Provider keys use the names the
// providers document.
const (
	EnvDatabaseURL    = "DATABASE_URL"
	EnvGatewayURL     = "API_GATEWAY_URL"
	EnvGatewayKey     = "API_GATEWAY_KEY"
	EnvVoyageAPIKey   = "VOYAGE_API_KEY"
	EnvJinaAPIKey     = "JINA_API_KEY"
	EnvOpenAIAPIKey   = "OPENAI_API_KEY"
	EnvDriveClientID  = "GOOGLE_CLIENT_ID"
	EnvDriveSecret    = "GOOGLE_CLIENT_SECRET"
	EnvDriveRefresh   = "GOOGLE_REFRESH_TOKEN"
	EnvDriveRoot      = "KB_DRIVE_FOLDER_ID"
	EnvDBPath         = "KB_DB_PATH"
	EnvUpstream       = "KB_UPSTREAM"
	EnvLocalDir       = "KB_LOCAL_DIR"
	EnvEmbedProvider  = "KB_EMBEDDING_PROVIDER"
	EnvEmbedModel     = "KB_EMBEDDING_MODEL"
	EnvEmbedDimension = "KB_EMBEDDING_DIMENSION"
	EnvRerankProvider = "KB_RERANK_PROVIDER"
	EnvRerank         = "KB_RERANK"
	EnvExpansion      = "KB_QUERY_EXPANSION"
	EnvTopK           = "KB_TOP_K"
	EnvSparseWeight   = "KB_SPARSE_WEIGHT"
	EnvWorkers        = "KB_SYNC_WORKERS"
	EnvAddr           = "KB_ADDR"
	EnvLogLevel       = "KB_LOG_LEVEL"
	EnvLogFormat      = "KB_LOG_FORMAT"
)

// applyEnv overlays environment values. Unparseable numbers are ignored and
// leave the current value in place.
func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}
	float := func(key string, dst *float64) {
		if v, err := strconv.ParseFloat(strings.TrimSpace(getenv(key)), 64); err == nil {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, err := strconv.ParseBool(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}

	if dsn := strings.TrimSpace(getenv(EnvDatabaseURL)); dsn != "" {
		c.Database.Driver = DriverPostgres
		c.Database.DSN = dsn
	}
	str(EnvDBPath, &c.Database.Path)

	str(EnvUpstream, &c.Upstream.Kind)
	str(EnvGatewayURL, &c.Upstream.Gateway.URL)
	str(EnvGatewayKey, &c.Upstream.Gateway.APIKey)
	str(EnvLocalDir, &c.Upstream.LocalDir)
	str(EnvDriveRoot, &c.Upstream.Drive.RootFolderID)
	str(EnvDriveClientID, &c.Upstream.Drive.ClientID)
	str(EnvDriveSecret, &c.Upstream.Drive.ClientSecret)
	str(EnvDriveRefresh, &c.Upstream.Drive.RefreshToken)

	str(EnvEmbedProvider, &c.Embedding.Provider)
	str(EnvEmbedModel, &c.Embedding.Model)
	integer(EnvEmbedDimension, &c.Embedding.Dimension)
	if c.Embedding.APIKey == "" {
		switch c.Embedding.Provider {
		case "voyage":
			str(EnvVoyageAPIKey, &c.Embedding.APIKey)
		case "jina":
			str(EnvJinaAPIKey, &c.Embedding.APIKey)
		case "openai":
			str(EnvOpenAIAPIKey, &c.Embedding.APIKey)
		}
	}

	str(EnvRerankProvider, &c.Rerank.Provider)
	if c.Rerank.APIKey == "" {
		switch c.Rerank.Provider {
		case "voyage":
			str(EnvVoyageAPIKey, &c.Rerank.APIKey)
		case "jina":
			str(EnvJinaAPIKey, &c.Rerank.APIKey)
		}
	}
	boolean(EnvRerank, &c.Retrieval.Rerank)

	boolean(EnvExpansion, &c.Expansion.Enabled)
	if c.Expansion.APIKey == "" {
		str(EnvOpenAIAPIKey, &c.Expansion.APIKey)
	}

	integer(EnvTopK, &c.Retrieval.TopK)
	float(EnvSparseWeight, &c.Retrieval.SparseWeight)
	integer(EnvWorkers, &c.Sync.Workers)
	str(EnvAddr, &c.Server.Addr)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
}
