package engine

import (
	"fmt"
	"sync"

	"github.com/germanamz/netpilot/pkg/modeladapter"
	"github.com/germanamz/netpilot/pkg/providers/company"
	"github.com/germanamz/netpilot/pkg/providers/gemini"
	"github.com/germanamz/netpilot/pkg/providers/openai"
)

// ProviderFactory creates a Completer from a ProviderConfig.
type ProviderFactory func(cfg ProviderConfig) (modeladapter.Completer, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[string]ProviderFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factories["openai"] = newOpenAI
		factories["gemini"] = newGemini
		factories["company"] = newCompany
	})
}

// RegisterProvider registers a custom provider factory under the given kind.
// It can be called before New to extend the engine with additional providers.
func RegisterProvider(kind string, factory ProviderFactory) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

// getFactory returns the factory for the given kind.
func getFactory(kind string) (ProviderFactory, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[kind]
	return f, ok
}

func newOpenAI(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := openai.New(cfg.BaseURL, cfg.APIKey, cfg.Model)
	tune(&a.ModelAdapter, cfg)
	return a, nil
}

func newGemini(cfg ProviderConfig) (modeladapter.Completer, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	a := gemini.New(cfg.BaseURL, cfg.APIKey, cfg.Model)
	tune(&a.ModelAdapter, cfg)
	return a, nil
}

func newCompany(cfg ProviderConfig) (modeladapter.Completer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}

	a := company.New(cfg.BaseURL, cfg.APIKey)
	a.Name = cfg.Model
	tune(&a.ModelAdapter, cfg)
	return a, nil
}

// tune applies the optional generation settings.
func tune(ma *modeladapter.ModelAdapter, cfg ProviderConfig) {
	if cfg.MaxTokens > 0 {
		ma.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature != nil {
		ma.Temperature = *cfg.Temperature
	}
}

// buildCompleter creates a Completer from a ProviderConfig using the registered
// factory for its Kind.
func buildCompleter(cfg ProviderConfig) (modeladapter.Completer, error) {
	factory, ok := getFactory(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}

	return factory(cfg)
}
