package backend

// Provider constants
const (
	// DefaultProvider is the provider assumed when none is configured.
	DefaultProvider = ProviderOpenAI

	// ProviderOpenAI represents the OpenAI provider
	ProviderOpenAI = "openai"

	// ProviderOllama represents the Ollama provider
	ProviderOllama = "ollama"

	// ProviderAnthropic represents the Anthropic provider
	ProviderAnthropic = "anthropic"

	// ProviderGemini represents the Google Gemini provider
	ProviderGemini = "gemini"
)

// DefaultOllamaURL is the default URL for a local Ollama server
const DefaultOllamaURL = "http://localhost:11434"

// defaultModels maps each provider to the model used when the config leaves
// it empty.
var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-5-mini",
	ProviderAnthropic: "claude-sonnet-4-5",
	ProviderGemini:    "gemini-2.5-flash",
	ProviderOllama:    "llama3.2",
}

// knownModels lists model IDs each hosted provider is known to serve. Ollama
// is absent on purpose: its catalog is whatever the local daemon has pulled,
// so adapters report the configured model instead.
var knownModels = map[string][]string{
	ProviderOpenAI:    {"gpt-5-mini", "gpt-5.1", "gpt-5-nano", "gpt-4.1-mini"},
	ProviderAnthropic: {"claude-sonnet-4-5", "claude-opus-4-1", "claude-haiku-4-5"},
	ProviderGemini:    {"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash"},
}

// DefaultModelForProvider returns the default model ID for a given provider.
func DefaultModelForProvider(provider string) string {
	return defaultModels[provider]
}

// KnownModelsForProvider returns the static model catalog for a provider,
// or nil when the catalog is dynamic.
func KnownModelsForProvider(provider string) []string {
	out := make([]string, len(knownModels[provider]))
	copy(out, knownModels[provider])
	if len(out) == 0 {
		return nil
	}
	return out
}
