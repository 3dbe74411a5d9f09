// Package pricing resolves (provider, model) pairs to per-million-token
// prices and turns usage records into billed cost.
package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amerfu/proxyd/internal/config"
)

// Provider is the symbolic upstream a model is served by.
type Provider string

const (
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenAI     Provider = "openai"
	ProviderGoogle     Provider = "google"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderXAI        Provider = "xai"
	ProviderMistral    Provider = "mistral"
	ProviderCohere     Provider = "cohere"
	ProviderGroq       Provider = "groq"
	ProviderMeta       Provider = "meta"
	ProviderPerplexity Provider = "perplexity"
	ProviderBedrock    Provider = "bedrock"
	ProviderAzure      Provider = "azure"
	ProviderTogether   Provider = "together"
	ProviderFireworks  Provider = "fireworks"
	ProviderAI21       Provider = "ai21"
	ProviderQwen       Provider = "qwen"
	ProviderVertex     Provider = "vertex"
)

// ModelDescriptor is a single priced model, matching spec §4.1/§4.2.
type ModelDescriptor struct {
	Provider             Provider
	Model                string
	InputPerMtok         decimal.Decimal
	OutputPerMtok        decimal.Decimal
	CacheCreatePerMtok   decimal.Decimal
	CacheReadPerMtok     decimal.Decimal
	BatchDiscountPercent int
	EffectiveDate        time.Time
}

// Repository is the authoritative store lookup (§6); implementations
// back it with Postgres via GORM.
type Repository interface {
	GetModelDescriptor(ctx context.Context, provider Provider, model string, at time.Time) (*ModelDescriptor, error)
	ListModelDescriptors(ctx context.Context) ([]ModelDescriptor, error)
}

// errNoRepository signals a Registry built without a Repository (e.g.
// tests that only exercise the built-in table).
var errNoRepository = fmt.Errorf("pricing: no repository configured")

// Registry is the Pricing Registry (C1). Safe for concurrent readers;
// Refresh takes an exclusive lock, matching the teacher's
// cache-then-DB pattern in internal/services/budget/service.go.
type Registry struct {
	mu      sync.RWMutex
	repo    Repository
	cache   map[string]ModelDescriptor
	logger  *zap.Logger
	defIn   decimal.Decimal
	defOut  decimal.Decimal
}

// NewRegistry builds a Registry seeded with the built-in fallback
// table. repo may be nil, in which case only the built-in table and
// synthetic default are consulted.
func NewRegistry(repo Repository, cfg config.PricingConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		repo:   repo,
		cache:  make(map[string]ModelDescriptor, len(builtinTable)),
		logger: logger,
		defIn:  decimal.NewFromFloat(cfg.DefaultInputPerMtok),
		defOut: decimal.NewFromFloat(cfg.DefaultOutputPerMtok),
	}
	for _, v := range builtinTable {
		r.cache[cacheKey(v.Provider, v.Model)] = v
	}
	return r
}

// Refresh reloads the cache from the repository, on top of the
// built-in table (repository entries win on key collision). Safe to
// call periodically from a background ticker.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	descriptors, err := r.repo.ListModelDescriptors(ctx)
	if err != nil {
		return fmt.Errorf("pricing: refresh: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range descriptors {
		r.cache[cacheKey(d.Provider, d.Model)] = d
	}
	return nil
}

// Lookup resolves a (provider, model) pair per spec §4.1: authoritative
// store, then built-in/cached table, then three-segment prefix, then
// two-segment prefix, then a synthetic default of (1.0, 2.0) USD/MTok.
func (r *Registry) Lookup(ctx context.Context, provider Provider, model string, at time.Time) (ModelDescriptor, error) {
	if r.repo != nil {
		if d, err := r.repo.GetModelDescriptor(ctx, provider, model, at); err == nil && d != nil {
			return *d, nil
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.cache[cacheKey(provider, model)]; ok {
		return d, nil
	}

	segments := strings.Split(model, "-")
	for _, n := range []int{3, 2} {
		if len(segments) < n {
			continue
		}
		prefix := strings.Join(segments[:n], "-")
		for key, d := range r.cache {
			if d.Provider != provider {
				continue
			}
			if strings.HasPrefix(d.Model, prefix) || strings.HasPrefix(prefix, d.Model) {
				r.logger.Debug("pricing: prefix fallback", zap.String("model", model), zap.String("matched", key))
				return d, nil
			}
		}
	}

	r.logger.Warn("pricing: synthetic default applied", zap.String("provider", string(provider)), zap.String("model", model))
	return ModelDescriptor{
		Provider:             provider,
		Model:                model,
		InputPerMtok:         r.defIn,
		OutputPerMtok:        r.defOut,
		BatchDiscountPercent: 50,
		EffectiveDate:        at,
	}, nil
}

// LookupByModel finds a cached or built-in descriptor by model name
// alone, without a known provider, mirroring
// original_source/proxy/app/core/pricing_data.py's get_pricing(model).
// Used by components (Smart Router) that only have a model string.
func (r *Registry) LookupByModel(model string) (ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.cache {
		if d.Model == model {
			return d, true
		}
	}
	return ModelDescriptor{}, false
}

func cacheKey(p Provider, model string) string {
	return string(p) + "|" + model
}

// ProviderBaseURL returns the default upstream base URL for a symbolic
// provider, grounded on original_source's PROVIDER_BASE_URLS, extended
// to the full provider roster spec.md §3 names.
func ProviderBaseURL(p Provider) (string, bool) {
	url, ok := providerBaseURLs[p]
	return url, ok
}

var providerBaseURLs = map[Provider]string{
	ProviderAnthropic:  "https://api.anthropic.com",
	ProviderOpenAI:     "https://api.openai.com",
	ProviderGoogle:     "https://generativelanguage.googleapis.com",
	ProviderDeepSeek:   "https://api.deepseek.com",
	ProviderGroq:       "https://api.groq.com/openai",
	ProviderMistral:    "https://api.mistral.ai",
	ProviderXAI:        "https://api.x.ai",
	ProviderCohere:     "https://api.cohere.ai",
	ProviderMeta:       "https://api.llama.com",
	ProviderPerplexity: "https://api.perplexity.ai",
	ProviderBedrock:    "https://bedrock-runtime.amazonaws.com",
	ProviderAzure:      "https://api.openai.azure.com",
	ProviderTogether:   "https://api.together.xyz",
	ProviderFireworks:  "https://api.fireworks.ai",
	ProviderAI21:       "https://api.ai21.com",
	ProviderQwen:       "https://dashscope.aliyuncs.com",
	ProviderVertex:     "https://us-central1-aiplatform.googleapis.com",
}
