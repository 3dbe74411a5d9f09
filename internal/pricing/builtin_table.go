package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

var builtinEffectiveDate = time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic("pricing: invalid builtin decimal literal " + s)
	}
	return v
}

func entry(provider Provider, model, in, out, cacheCreate, cacheRead string) ModelDescriptor {
	return ModelDescriptor{
		Provider:             provider,
		Model:                model,
		InputPerMtok:         d(in),
		OutputPerMtok:        d(out),
		CacheCreatePerMtok:   d(cacheCreate),
		CacheReadPerMtok:     d(cacheRead),
		BatchDiscountPercent: 50,
		EffectiveDate:        builtinEffectiveDate,
	}
}

// builtinTable is the compiled-in fallback table consulted when the
// authoritative store (§6) misses. Values are grounded verbatim on
// _examples/original_source/proxy/app/core/pricing_data.py's
// PRICING_TABLE, current as of its "Last updated: February 2026" note.
var builtinTable = map[string]ModelDescriptor{
	// Anthropic Claude 4.x
	"claude-opus-4-5-20250929":   entry(ProviderAnthropic, "claude-opus-4-5-20250929", "15.00", "75.00", "18.75", "1.50"),
	"claude-opus-4-5":            entry(ProviderAnthropic, "claude-opus-4-5", "15.00", "75.00", "18.75", "1.50"),
	"claude-sonnet-4-5-20250929": entry(ProviderAnthropic, "claude-sonnet-4-5-20250929", "3.00", "15.00", "3.75", "0.30"),
	"claude-sonnet-4-5":          entry(ProviderAnthropic, "claude-sonnet-4-5", "3.00", "15.00", "3.75", "0.30"),
	"claude-sonnet-4-20250514":   entry(ProviderAnthropic, "claude-sonnet-4-20250514", "3.00", "15.00", "3.75", "0.30"),
	"claude-haiku-4-5-20251001":  entry(ProviderAnthropic, "claude-haiku-4-5-20251001", "0.80", "4.00", "1.00", "0.08"),
	"claude-haiku-4-5":           entry(ProviderAnthropic, "claude-haiku-4-5", "0.80", "4.00", "1.00", "0.08"),
	// Anthropic Claude 3.5 (legacy)
	"claude-3-5-sonnet-20241022": entry(ProviderAnthropic, "claude-3-5-sonnet-20241022", "3.00", "15.00", "3.75", "0.30"),
	"claude-3-5-haiku-20241022":  entry(ProviderAnthropic, "claude-3-5-haiku-20241022", "0.80", "4.00", "1.00", "0.08"),

	// OpenAI GPT
	"gpt-4o":             entry(ProviderOpenAI, "gpt-4o", "2.50", "10.00", "0", "0"),
	"gpt-4o-2024-11-20":  entry(ProviderOpenAI, "gpt-4o-2024-11-20", "2.50", "10.00", "0", "0"),
	"gpt-4o-mini":        entry(ProviderOpenAI, "gpt-4o-mini", "0.15", "0.60", "0", "0"),
	"gpt-4-turbo":        entry(ProviderOpenAI, "gpt-4-turbo", "10.00", "30.00", "0", "0"),
	"gpt-4":              entry(ProviderOpenAI, "gpt-4", "30.00", "60.00", "0", "0"),
	"o1":                 entry(ProviderOpenAI, "o1", "15.00", "60.00", "0", "0"),
	"o1-mini":            entry(ProviderOpenAI, "o1-mini", "1.50", "6.00", "0", "0"),
	"o3-mini":            entry(ProviderOpenAI, "o3-mini", "1.10", "4.40", "0", "0"),

	// Google Gemini
	"gemini-2.5-pro-preview": entry(ProviderGoogle, "gemini-2.5-pro-preview", "1.25", "10.00", "2.50", "0.31"),
	"gemini-2.0-flash":       entry(ProviderGoogle, "gemini-2.0-flash", "0.10", "0.40", "0", "0"),
	"gemini-1.5-pro":         entry(ProviderGoogle, "gemini-1.5-pro", "1.25", "5.00", "2.50", "0.31"),
	"gemini-1.5-flash":       entry(ProviderGoogle, "gemini-1.5-flash", "0.075", "0.30", "0", "0"),

	// DeepSeek
	"deepseek-chat":     entry(ProviderDeepSeek, "deepseek-chat", "0.27", "1.10", "0.135", "0.027"),
	"deepseek-reasoner": entry(ProviderDeepSeek, "deepseek-reasoner", "0.55", "2.19", "0.14", "0.014"),

	// Groq
	"llama-3.3-70b-versatile": entry(ProviderGroq, "llama-3.3-70b-versatile", "0.59", "0.79", "0", "0"),
	"llama-3.1-8b-instant":    entry(ProviderGroq, "llama-3.1-8b-instant", "0.05", "0.08", "0", "0"),
	"mixtral-8x7b-32768":      entry(ProviderGroq, "mixtral-8x7b-32768", "0.24", "0.24", "0", "0"),

	// Mistral
	"mistral-large-2411": entry(ProviderMistral, "mistral-large-2411", "2.00", "6.00", "0", "0"),
	"mistral-small-2402": entry(ProviderMistral, "mistral-small-2402", "0.20", "0.60", "0", "0"),
	"codestral-2405":     entry(ProviderMistral, "codestral-2405", "0.20", "0.60", "0", "0"),
}
