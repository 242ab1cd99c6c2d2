package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/finradar/radar/internal/config"
	"github.com/finradar/radar/pkg/models"
)

// DegradedSummary marks a synthesized sentiment result produced after every
// provider in the chain failed. Consumers surface it as a lower-confidence
// label, never as an error.
const DegradedSummary = "analysis unavailable"

// Chain tries providers in a fixed priority order and falls through to the
// next on failure. The priority order is identical for sentiment analysis and
// forecasting. Sentiment analysis degrades to a safe neutral default when the
// whole chain is exhausted; forecasting has no meaningful default and fails
// hard instead.
type Chain struct {
	providers []Provider
}

// NewChain creates a fallback chain. Provider order is the priority order.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Providers returns the chain's providers in priority order.
func (c *Chain) Providers() []Provider { return c.providers }

// Names returns the provider names in priority order, for diagnostics.
func (c *Chain) Names() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// AnalyzeSentiment runs sentiment analysis through the chain. Each attempt is
// independent: providers receive the same immutable input slice and no state
// leaks between attempts. When every provider fails, a synthesized neutral
// result per input article is returned with a nil error, so the pipeline
// always terminates with a result.
func (c *Chain) AnalyzeSentiment(ctx context.Context, articles []models.Article) ([]models.AnalyzedArticle, error) {
	if len(articles) == 0 {
		return nil, ErrEmptyInput
	}
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	var failures []string
	for _, p := range c.providers {
		results, err := p.AnalyzeSentiment(ctx, articles)
		if err == nil {
			return results, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", p.Name(), err))
		log.Printf("llm/chain: sentiment provider %s failed: %v, trying next", p.Name(), err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	log.Printf("llm/chain: all sentiment providers failed (%s), returning neutral defaults",
		strings.Join(failures, "; "))
	return degradedResults(articles), nil
}

// Forecast runs forecast generation through the chain. Exhausting all
// providers is a hard failure: there is no safe default 7-day price path.
func (c *Chain) Forecast(ctx context.Context, ticker string, history []models.PricePoint, analyzed []models.AnalyzedArticle) (*models.ForecastResult, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	var failures []string
	for _, p := range c.providers {
		result, err := p.Forecast(ctx, ticker, history, analyzed)
		if err == nil {
			return result, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", p.Name(), err))
		log.Printf("llm/chain: forecast provider %s failed: %v, trying next", p.Name(), err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("llm/chain: all forecast providers failed: %s", strings.Join(failures, "; "))
}

// NewChainFromConfig builds the chain from application config. Providers are
// registered in the fixed priority order (OpenAI, Ollama, Gemini), skipping
// any whose credentials are absent.
func NewChainFromConfig(cfg *config.Config) (*Chain, error) {
	var providers []Provider

	if cfg.LLM.OpenAIKey != "" {
		var opts []OpenAIOption
		if cfg.LLM.OpenAIModel != "" {
			opts = append(opts, WithOpenAIModel(cfg.LLM.OpenAIModel))
		}
		if cfg.LLM.ContentLimit > 0 {
			opts = append(opts, WithOpenAIContentLimit(cfg.LLM.ContentLimit))
		}
		p, err := NewOpenAIProvider(cfg.LLM.OpenAIKey, opts...)
		if err == nil {
			providers = append(providers, p)
		}
	}

	if cfg.LLM.OllamaURL != "" {
		var opts []OllamaOption
		if cfg.LLM.OllamaModel != "" {
			opts = append(opts, WithOllamaModel(cfg.LLM.OllamaModel))
		}
		if cfg.LLM.ContentLimit > 0 {
			opts = append(opts, WithOllamaContentLimit(cfg.LLM.ContentLimit))
		}
		p, err := NewOllamaProvider(cfg.LLM.OllamaURL, opts...)
		if err == nil {
			providers = append(providers, p)
		}
	}

	if cfg.LLM.GeminiKey != "" {
		var opts []GeminiOption
		if cfg.LLM.GeminiModel != "" {
			opts = append(opts, WithGeminiModel(cfg.LLM.GeminiModel))
		}
		if cfg.LLM.ContentLimit > 0 {
			opts = append(opts, WithGeminiContentLimit(cfg.LLM.ContentLimit))
		}
		p, err := NewGeminiProvider(cfg.LLM.GeminiKey, opts...)
		if err == nil {
			providers = append(providers, p)
		}
	}

	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	return NewChain(providers...), nil
}

// degradedResults synthesizes the safe default: neutral sentiment and the
// DegradedSummary marker, with exact article passthrough.
func degradedResults(articles []models.Article) []models.AnalyzedArticle {
	out := make([]models.AnalyzedArticle, len(articles))
	for i, a := range articles {
		out[i] = models.AnalyzedArticle{
			Article:   a,
			Sentiment: models.SentimentNeutral,
			Summary:   DegradedSummary,
		}
	}
	return out
}
