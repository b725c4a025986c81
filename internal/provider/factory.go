package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"lurkbot/internal/config"
	"lurkbot/internal/domain"
)

// OllamaOpenAIBase is the OpenAI-compatible endpoint of a local Ollama server.
const OllamaOpenAIBase = "http://localhost:11434/v1"

// ProviderConstructor creates a provider from its config entry.
type ProviderConstructor func(name string, pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Provider

// Factory creates and caches providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a constructor by type name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["openai-compatible"] = func(name string, pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Provider {
		return NewOpenAICompatible(OpenAICompatibleConfig{
			Name: name, APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: timeout, Logger: logger,
		})
	}
	f.constructors["gemini"] = func(name string, pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Provider {
		if pc.APIBase == "" {
			pc.APIBase = config.GeminiOpenAIBase
		}
		return f.constructors["openai-compatible"](name, pc, timeout, logger)
	}
	f.constructors["ollama"] = func(name string, pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Provider {
		if pc.APIBase == "" {
			pc.APIBase = OllamaOpenAIBase
		}
		return f.constructors["openai-compatible"](name, pc, timeout, logger)
	}
	f.constructors["openai"] = func(name string, pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Provider {
		return NewGoOpenAI(GoOpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: timeout, Logger: logger})
	}
	f.constructors["claude"] = func(name string, pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: timeout, Logger: logger})
	}
}

// Get returns the named provider, creating it on first use. The constructor is
// chosen by the entry's type, then by the provider name; unknown names with an
// API base are treated as OpenAI-compatible.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.AI.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

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

	kind := pc.Type
	if kind == "" {
		kind = name
	}
	ctor, found := f.constructors[kind]
	if !found {
		if pc.APIBase == "" {
			return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
		}
		ctor = f.constructors["openai-compatible"]
	}

	timeout := time.Duration(f.cfg.AI.TimeoutSeconds) * time.Second
	p := ctor(name, pc, timeout, f.logger)
	f.cache[name] = p
	return p, nil
}

// Primary returns the provider the bot talks to: the failover chain when one
// is configured, otherwise the default provider.
func (f *Factory) Primary() (domain.Provider, error) {
	if len(f.cfg.AI.FailoverChain) == 0 {
		return f.Get("")
	}
	chain := make([]domain.Provider, 0, len(f.cfg.AI.FailoverChain))
	for _, name := range f.cfg.AI.FailoverChain {
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping provider in failover chain", "provider", name, "err", err)
			continue
		}
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no usable provider in failover chain")
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return NewFailoverProvider(chain, f.logger), nil
}

// HealthReport checks every enabled provider, in name order.
func (f *Factory) HealthReport(ctx context.Context) map[string]error {
	names := make([]string, 0, len(f.cfg.Providers))
	for name, pc := range f.cfg.Providers {
		if pc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	report := make(map[string]error, len(names))
	for _, name := range names {
		p, err := f.Get(name)
		if err != nil {
			report[name] = err
			continue
		}
		report[name] = p.Healthy(ctx)
	}
	return report
}
