package backend

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/josephgoksu/specwing/models"
)

// ValidateProvider checks if the given provider string is supported.
func ValidateProvider(p string) (string, error) {
	switch p {
	case ProviderOpenAI, ProviderOllama, ProviderAnthropic, ProviderGemini:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported provider: %s (supported: openai, ollama, anthropic, gemini)", p)
	}
}

// newChatModel creates an Eino ChatModel for the configured provider. The
// provider set is closed; every case is handled explicitly.
func newChatModel(ctx context.Context, cfg models.BackendConfig) (model.BaseChatModel, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required")
		}
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:  cfg.Model,
			APIKey: cfg.APIKey,
		})

	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   cfg.Model,
		})

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		})

	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini API key is required")
		}
		// The Gemini extension reads credentials from the environment.
		_ = os.Setenv("GOOGLE_API_KEY", cfg.APIKey)
		_ = os.Setenv("GEMINI_API_KEY", cfg.APIKey)

		return gemini.NewChatModel(ctx, &gemini.Config{
			Model: cfg.Model,
		})

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// einoAdapter implements Adapter over an Eino chat model.
type einoAdapter struct {
	chat model.BaseChatModel
	cfg  models.BackendConfig
}

// NewAdapter builds the production adapter for a backend config. It is the
// default registry Factory.
func NewAdapter(ctx context.Context, cfg models.BackendConfig) (Adapter, error) {
	if _, err := ValidateProvider(cfg.Provider); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModelForProvider(cfg.Provider)
	}
	chat, err := newChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return &einoAdapter{chat: chat, cfg: cfg}, nil
}

func (a *einoAdapter) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return a.chat.Stream(ctx, messages, opts...)
}

func (a *einoAdapter) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return a.chat.Generate(ctx, messages, opts...)
}

// degradedLatency is the soft latency bound above which a successful probe
// still reports degraded.
const degradedLatency = 2 * time.Second

func (a *einoAdapter) HealthCheck(ctx context.Context) HealthReport {
	start := time.Now()
	_, err := a.chat.Generate(ctx, []*schema.Message{schema.UserMessage("ping")}, model.WithMaxTokens(1))
	latency := time.Since(start)

	report := HealthReport{
		LatencyMs: latency.Milliseconds(),
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		report.Status = StatusUnhealthy
		report.Error = err.Error()
		return report
	}
	if models, lerr := a.ListModels(ctx); lerr == nil {
		report.ModelsAvailable = models
	}
	if latency > degradedLatency {
		report.Status = StatusDegraded
	} else {
		report.Status = StatusHealthy
	}
	return report
}

func (a *einoAdapter) ListModels(_ context.Context) ([]string, error) {
	if known := KnownModelsForProvider(a.cfg.Provider); known != nil {
		return known, nil
	}
	// Dynamic catalogs (ollama) report the configured model.
	return []string{a.cfg.Model}, nil
}

func (a *einoAdapter) Capabilities() models.CapabilitySet {
	if len(a.cfg.Capabilities) > 0 {
		return a.cfg.Capabilities
	}
	// Every supported provider does chat + streaming; the rest is
	// config-declared.
	return models.CapabilitySet{models.CapChat, models.CapStreaming}
}
