package smart

// fallbackChains mirrors original_source/proxy/app/core/smart_router.py's
// FALLBACK_CHAINS: ordered alternatives within the same capability tier,
// best first.
var fallbackChains = map[string][]string{
	"claude-opus-4-5":            {"claude-sonnet-4-5", "claude-3-5-sonnet-20241022", "claude-haiku-4-5"},
	"claude-opus-4-5-20250929":   {"claude-opus-4-5", "claude-sonnet-4-5", "claude-haiku-4-5"},
	"claude-sonnet-4-5":          {"claude-sonnet-4-20250514", "claude-3-5-sonnet-20241022", "claude-haiku-4-5"},
	"claude-sonnet-4-5-20250929": {"claude-sonnet-4-5", "claude-3-5-sonnet-20241022", "claude-haiku-4-5"},
	"claude-sonnet-4-20250514":   {"claude-sonnet-4-5", "claude-3-5-sonnet-20241022", "claude-haiku-4-5"},
	"claude-haiku-4-5":           {"claude-haiku-4-5-20251001", "claude-3-5-haiku-20241022"},
	"claude-haiku-4-5-20251001":  {"claude-haiku-4-5", "claude-3-5-haiku-20241022"},
	"claude-3-5-sonnet-20241022": {"claude-sonnet-4-5", "claude-haiku-4-5", "claude-3-5-haiku-20241022"},
	"claude-3-5-haiku-20241022":  {"claude-haiku-4-5", "gpt-4o-mini"},
	"gpt-4o":                     {"gpt-4o-2024-11-20", "gpt-4o-mini", "claude-sonnet-4-5"},
	"gpt-4o-2024-11-20":          {"gpt-4o", "gpt-4o-mini", "claude-sonnet-4-5"},
	"gpt-4o-mini":                {"claude-haiku-4-5", "gemini-2.0-flash"},
	"gpt-4-turbo":                {"gpt-4o", "gpt-4o-mini", "claude-sonnet-4-5"},
	"gpt-4":                      {"gpt-4-turbo", "gpt-4o", "claude-opus-4-5"},
	"o1":                         {"claude-opus-4-5", "o1-mini"},
	"o1-mini":                    {"o3-mini", "deepseek-reasoner", "claude-sonnet-4-5"},
	"o3-mini":                    {"o1-mini", "deepseek-reasoner", "claude-sonnet-4-5"},
	"gemini-2.5-pro-preview":     {"gemini-1.5-pro", "claude-sonnet-4-5", "gpt-4o"},
	"gemini-2.0-flash":           {"gemini-1.5-flash", "gpt-4o-mini", "claude-haiku-4-5"},
	"gemini-1.5-pro":             {"gemini-2.5-pro-preview", "claude-sonnet-4-5", "gpt-4o"},
	"gemini-1.5-flash":           {"gemini-2.0-flash", "gpt-4o-mini", "claude-haiku-4-5"},
	"deepseek-chat":              {"claude-haiku-4-5", "gpt-4o-mini", "gemini-2.0-flash"},
	"deepseek-reasoner":          {"o1-mini", "o3-mini", "claude-sonnet-4-5"},
	"llama-3.3-70b-versatile":    {"llama-3.1-8b-instant", "claude-sonnet-4-5", "gpt-4o"},
	"llama-3.1-8b-instant":       {"claude-haiku-4-5", "gpt-4o-mini", "gemini-2.0-flash"},
	"mixtral-8x7b-32768":         {"llama-3.3-70b-versatile", "claude-sonnet-4-5", "gpt-4o"},
	"mistral-large-2411":         {"claude-sonnet-4-5", "gpt-4o", "mistral-small-2402"},
	"mistral-small-2402":         {"claude-haiku-4-5", "gpt-4o-mini", "gemini-2.0-flash"},
	"codestral-2405":             {"claude-sonnet-4-5", "gpt-4o", "mistral-small-2402"},
}

// genericFallbacks is consulted when a model's own chain is exhausted,
// per spec §4.6.
var genericFallbacks = []string{"claude-sonnet-4-5", "gpt-4o", "claude-haiku-4-5"}

// GetFallbackChain returns the ordered fallback chain for a model, or
// nil if none is declared.
func GetFallbackChain(model string) []string {
	return fallbackChains[model]
}

// capabilities is the capability metadata table from
// smart_router.py's MODEL_CAPABILITIES, used by GetCheapestModel's
// capability filter.
type capabilities struct {
	Vision           bool
	Streaming        bool
	FunctionCalling  bool
	ContextWindow    int
	MaxOutputTokens  int
}

var modelCapabilities = map[string]capabilities{
	"claude-opus-4-5":            {true, true, true, 200000, 16384},
	"claude-opus-4-5-20250929":   {true, true, true, 200000, 16384},
	"claude-sonnet-4-5":          {true, true, true, 200000, 16384},
	"claude-sonnet-4-5-20250929": {true, true, true, 200000, 16384},
	"claude-sonnet-4-20250514":   {true, true, true, 200000, 16384},
	"claude-haiku-4-5":           {true, true, true, 200000, 8192},
	"claude-haiku-4-5-20251001":  {true, true, true, 200000, 8192},
	"claude-3-5-sonnet-20241022": {true, true, true, 200000, 8192},
	"claude-3-5-haiku-20241022":  {true, true, true, 200000, 8192},
	"gpt-4o":                     {true, true, true, 128000, 16384},
	"gpt-4o-2024-11-20":          {true, true, true, 128000, 16384},
	"gpt-4o-mini":                {true, true, true, 128000, 16384},
	"gpt-4-turbo":                {true, true, true, 128000, 4096},
	"gpt-4":                      {false, true, true, 8192, 4096},
	"o1":                         {false, false, false, 200000, 100000},
	"o1-mini":                    {false, false, false, 128000, 65536},
	"o3-mini":                    {false, true, true, 200000, 100000},
	"gemini-2.5-pro-preview":     {true, true, true, 1000000, 65536},
	"gemini-2.0-flash":           {true, true, true, 1000000, 8192},
	"gemini-1.5-pro":             {true, true, true, 2000000, 8192},
	"gemini-1.5-flash":           {true, true, true, 1000000, 8192},
	"deepseek-chat":              {false, true, true, 64000, 8192},
	"deepseek-reasoner":          {false, true, false, 64000, 8192},
	"llama-3.3-70b-versatile":    {false, true, true, 128000, 8192},
	"llama-3.1-8b-instant":       {false, true, true, 128000, 8192},
	"mixtral-8x7b-32768":         {false, true, true, 32768, 4096},
	"mistral-large-2411":         {false, true, true, 128000, 8192},
	"mistral-small-2402":         {false, true, true, 32000, 8192},
	"codestral-2405":             {false, true, true, 256000, 8192},
}
