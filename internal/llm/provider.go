// Package llm provides a uniform interface to the AI backends used for news
// sentiment analysis and price forecasting (OpenAI, Ollama, Gemini), with an
// ordered fallback chain across providers.
package llm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/finradar/radar/pkg/models"
)

// Provider names, in chain priority order.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// Common errors returned by providers.
var (
	ErrNoAPIKey     = errors.New("llm: API key not configured")
	ErrProviderDown = errors.New("llm: provider unavailable")
	ErrNoProviders  = errors.New("llm: no providers configured")
	ErrEmptyInput   = errors.New("llm: no articles to analyze")
	ErrBadForecast  = errors.New("llm: malformed forecast response")
)

// DefaultContentLimit bounds how many runes of article content are sent to a
// model, to keep payload size and token cost predictable.
const DefaultContentLimit = 500

// Provider is the uniform adapter interface over one AI backend.
//
// AnalyzeSentiment requires a non-empty article list; every returned result
// carries the ID of an input article, results the model invents for unknown
// IDs are dropped. Forecast must return exactly models.ForecastDays points
// and a non-empty analysis; any other shape is an error.
type Provider interface {
	Name() string
	AnalyzeSentiment(ctx context.Context, articles []models.Article) ([]models.AnalyzedArticle, error)
	Forecast(ctx context.Context, ticker string, history []models.PricePoint, analyzed []models.AnalyzedArticle) (*models.ForecastResult, error)
	Ping(ctx context.Context) error
}

// textGenerator is the internal single-prompt surface each adapter exposes;
// the shared request/parse logic in prompt.go is built on it.
type textGenerator interface {
	Name() string
	generate(ctx context.Context, prompt string) (string, error)
}

// requestID returns a short correlation id for request/response log lines.
func requestID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b[:])
}

// preview truncates s for log output.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// sinceMS reports elapsed milliseconds for log lines.
func sinceMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
