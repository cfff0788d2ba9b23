package enrich

import (
	"context"
	"fmt"

	"tsumugi/internal/config"
	"tsumugi/internal/services"
	"tsumugi/internal/services/claude"
	"tsumugi/internal/services/openrouter"
)

// Invoker is the subset of provider client functionality the engine consumes.
// Implementations perform exactly one provider call per invocation; retry
// scheduling belongs to the engine's policy.
type Invoker interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// NewInvoker builds the provider client named in configuration.
func NewInvoker(cfg *config.Config) (Invoker, error) {
	ai := cfg.GetAI()
	switch ai.Provider {
	case "claude":
		return claude.NewClient(claude.Config{
			APIKey:         ai.APIKey,
			BaseURL:        ai.BaseURL,
			Model:          ai.Model,
			TimeoutSeconds: ai.TimeoutSeconds,
		}), nil
	case "", "openrouter":
		return openrouter.NewClient(openrouter.Config{
			APIKey:         ai.APIKey,
			BaseURL:        ai.BaseURL,
			Model:          ai.Model,
			Referer:        ai.Referer,
			Title:          ai.Title,
			TimeoutSeconds: ai.TimeoutSeconds,
		}), nil
	default:
		return nil, services.Wrap(
			services.ErrConfiguration,
			"enrich",
			"select provider",
			fmt.Sprintf("unknown AI provider %q (valid: openrouter, claude)", ai.Provider),
			nil,
		)
	}
}
