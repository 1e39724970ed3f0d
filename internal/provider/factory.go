package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mamabot/internal/config"
	"mamabot/internal/domain"
)

// ProviderConstructor creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider

// Factory creates and caches LLM providers from config. All providers share
// one pooled HTTP client.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	client       *http.Client
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		client:       SharedHTTPClient(time.Duration(cfg.General.RequestTimeoutSeconds) * time.Second),
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["gemini"] = func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewGemini(GeminiConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, MaxRetries: pc.MaxRetries, Client: client, Logger: logger})
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, MaxRetries: pc.MaxRetries, Client: client, Logger: logger})
	}
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Re-check under write lock (another goroutine may have created it).
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	ctor, found := f.constructors[name]

	var p domain.Provider
	if found {
		p = ctor(pc, f.client, f.logger)
	} else if pc.APIBase != "" && pc.APIKey != "" {
		// Fallback: treat unknown providers as OpenAI-compatible.
		p = NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, MaxRetries: pc.MaxRetries, Client: f.client, Logger: f.logger})
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base/key configured", name)
	}

	f.cache[name] = p
	return p, nil
}

// Chain assembles the failover chain from config. The default provider leads,
// followed by the configured fallbacks; a single-provider chain is returned
// unwrapped.
func (f *Factory) Chain() (domain.Provider, error) {
	names := []string{f.cfg.General.DefaultProvider}
	for _, n := range f.cfg.General.FailoverChain {
		if n != f.cfg.General.DefaultProvider {
			names = append(names, n)
		}
	}

	var providers []domain.Provider
	for _, n := range names {
		p, err := f.Get(n)
		if err != nil {
			f.logger.Warn("skipping provider in chain", "provider", n, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable provider configured")
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return NewFailoverProvider(providers, f.logger), nil
}
