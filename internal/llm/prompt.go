package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/finradar/radar/pkg/models"
)

// sentimentSystemPrompt instructs the model to return strict JSON for each
// submitted article.
const sentimentSystemPrompt = `You are a financial news analyst. For every article you receive, classify its sentiment toward the named stock as "positive", "negative" or "neutral" and write a one-sentence summary.

Respond with JSON only, in this exact shape:
{"results": [{"id": "<article id>", "sentiment": "positive|negative|neutral", "summary": "<one sentence>"}]}`

// forecastSystemPrompt instructs the model to produce a 7-day price path.
const forecastSystemPrompt = `You are a financial analyst. Given a price history and analyzed news for a stock, forecast the closing price for each of the next 7 calendar days and explain your reasoning.

Respond with JSON only, in this exact shape:
{"forecast": [{"date": "YYYY-MM-DD", "price": 0.0}], "analysis": "<free text>"}
The forecast array must contain exactly 7 entries.`

// buildSentimentPrompt renders the article batch as a JSON payload with
// content truncated to contentLimit runes per article.
func buildSentimentPrompt(articles []models.Article, contentLimit int) string {
	type promptArticle struct {
		ID       string `json:"id"`
		Headline string `json:"headline"`
		Content  string `json:"content"`
		Source   string `json:"source"`
	}
	items := make([]promptArticle, 0, len(articles))
	for _, a := range articles {
		items = append(items, promptArticle{
			ID:       a.ID,
			Headline: a.Headline,
			Content:  truncateRunes(a.Content, contentLimit),
			Source:   a.Source,
		})
	}
	data, _ := json.Marshal(items)

	var b strings.Builder
	b.WriteString(sentimentSystemPrompt)
	b.WriteString("\n\nArticles:\n")
	b.Write(data)
	return b.String()
}

// buildForecastPrompt renders the price history and analyzed news for a
// forecast request.
func buildForecastPrompt(ticker string, history []models.PricePoint, analyzed []models.AnalyzedArticle) string {
	type promptNews struct {
		Headline  string           `json:"headline"`
		Sentiment models.Sentiment `json:"sentiment"`
		Summary   string           `json:"summary"`
	}
	news := make([]promptNews, 0, len(analyzed))
	for _, a := range analyzed {
		news = append(news, promptNews{Headline: a.Headline, Sentiment: a.Sentiment, Summary: a.Summary})
	}
	historyData, _ := json.Marshal(history)
	newsData, _ := json.Marshal(news)

	var b strings.Builder
	b.WriteString(forecastSystemPrompt)
	fmt.Fprintf(&b, "\n\nTicker: %s\nPrice history:\n%s\nAnalyzed news:\n%s", ticker, historyData, newsData)
	return b.String()
}

// truncateRunes bounds s to n runes without splitting a rune.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// generateSentiment runs the shared sentiment request flow for one adapter:
// build prompt, call the model, parse results, drop unmatched IDs.
func generateSentiment(ctx context.Context, g textGenerator, articles []models.Article, contentLimit int) ([]models.AnalyzedArticle, error) {
	if len(articles) == 0 {
		return nil, ErrEmptyInput
	}
	if contentLimit <= 0 {
		contentLimit = DefaultContentLimit
	}

	id := requestID()
	prompt := buildSentimentPrompt(articles, contentLimit)
	log.Printf("llm/%s: [%s] sentiment request: %d article(s), prompt=%q",
		g.Name(), id, len(articles), preview(prompt, 120))

	start := time.Now()
	text, err := g.generate(ctx, prompt)
	if err != nil {
		log.Printf("llm/%s: [%s] sentiment failed after %dms: %v", g.Name(), id, sinceMS(start), err)
		return nil, err
	}

	results, err := parseSentimentResponse(text, articles)
	if err != nil {
		log.Printf("llm/%s: [%s] sentiment parse failed after %dms: %v", g.Name(), id, sinceMS(start), err)
		return nil, err
	}

	log.Printf("llm/%s: [%s] sentiment ok: %d/%d result(s) in %dms",
		g.Name(), id, len(results), len(articles), sinceMS(start))
	return results, nil
}

// generateForecast runs the shared forecast request flow for one adapter.
// A malformed forecast shape is an error, so the chain treats it like any
// other provider failure.
func generateForecast(ctx context.Context, g textGenerator, ticker string, history []models.PricePoint, analyzed []models.AnalyzedArticle) (*models.ForecastResult, error) {
	id := requestID()
	prompt := buildForecastPrompt(ticker, history, analyzed)
	log.Printf("llm/%s: [%s] forecast request: ticker=%s history=%d news=%d",
		g.Name(), id, ticker, len(history), len(analyzed))

	start := time.Now()
	text, err := g.generate(ctx, prompt)
	if err != nil {
		log.Printf("llm/%s: [%s] forecast failed after %dms: %v", g.Name(), id, sinceMS(start), err)
		return nil, err
	}

	result, err := parseForecastResponse(text)
	if err != nil {
		log.Printf("llm/%s: [%s] forecast parse failed after %dms: %v", g.Name(), id, sinceMS(start), err)
		return nil, err
	}

	log.Printf("llm/%s: [%s] forecast ok in %dms: %s", g.Name(), id, sinceMS(start), preview(result.Analysis, 80))
	return result, nil
}

// sentimentItem is one entry of the model's sentiment response.
type sentimentItem struct {
	ID        string `json:"id"`
	Sentiment string `json:"sentiment"`
	Summary   string `json:"summary"`
}

// parseSentimentResponse decodes the model output and joins it back to the
// input articles by ID. Results for IDs not present in the input are dropped
// rather than treated as errors.
func parseSentimentResponse(text string, articles []models.Article) ([]models.AnalyzedArticle, error) {
	payload := extractJSON(text)

	var wrapper struct {
		Results []sentimentItem `json:"results"`
	}
	var items []sentimentItem
	if err := json.Unmarshal([]byte(payload), &wrapper); err == nil {
		items = wrapper.Results
	} else {
		// Some models return a bare array despite the instructed shape.
		var bare []sentimentItem
		if err2 := json.Unmarshal([]byte(payload), &bare); err2 != nil {
			return nil, fmt.Errorf("llm: decode sentiment response: %w", err)
		}
		items = bare
	}

	byID := make(map[string]models.Article, len(articles))
	for _, a := range articles {
		byID[a.ID] = a
	}

	var out []models.AnalyzedArticle
	for _, item := range items {
		article, ok := byID[item.ID]
		if !ok {
			continue // unknown id: drop silently
		}
		out = append(out, models.AnalyzedArticle{
			Article:   article,
			Sentiment: normalizeSentiment(item.Sentiment),
			Summary:   item.Summary,
		})
	}
	return out, nil
}

// parseForecastResponse decodes and validates a forecast payload.
func parseForecastResponse(text string) (*models.ForecastResult, error) {
	payload := extractJSON(text)

	var result models.ForecastResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadForecast, err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadForecast, err)
	}
	return &result, nil
}

// normalizeSentiment maps free-form model output onto the Sentiment enum,
// defaulting to neutral.
func normalizeSentiment(s string) models.Sentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "bullish":
		return models.SentimentPositive
	case "negative", "bearish":
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

// extractJSON strips markdown code fences that some models wrap around JSON.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}
	// Fall back to the outermost object or array if the model added prose.
	if start := strings.IndexAny(text, "[{"); start > 0 {
		if end := strings.LastIndexAny(text, "]}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}
