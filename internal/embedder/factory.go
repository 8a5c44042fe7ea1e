package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	Dimension int
	BaseURL   string // Overrides the provider endpoint (gateways, tests)
}

// New creates a provider with explicit configuration.
// An empty APIKey falls back to the provider's environment variable.
func New(cfg Config) (Provider, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	var (
		hp  *httpProvider
		out Provider
	)
	switch provider {
	case ProviderVoyage:
		p, err := NewVoyageProvider(keyOrEnv(cfg.APIKey, EnvVoyageAPIKey), cfg.Model, cfg.Dimension)
		if err != nil {
			return nil, err
		}
		hp, out = p.httpProvider, p
	case ProviderJina:
		p, err := NewJinaProvider(keyOrEnv(cfg.APIKey, EnvJinaAPIKey), cfg.Model, cfg.Dimension)
		if err != nil {
			return nil, err
		}
		hp, out = p.httpProvider, p
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(keyOrEnv(cfg.APIKey, EnvOpenAIAPIKey), cfg.Model, cfg.Dimension)
		if err != nil {
			return nil, err
		}
		hp, out = p.httpProvider, p
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}

	if cfg.BaseURL != "" {
		hp.url = cfg.BaseURL
	}
	return out, nil
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	if os.Getenv(EnvVoyageAPIKey) != "" {
		return ProviderVoyage
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

func keyOrEnv(key, env string) string {
	if key != "" {
		return key
	}
	return os.Getenv(env)
}
