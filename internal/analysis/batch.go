// Package analysis implements the resilient analysis orchestration core:
// batched job submission, the analysis job store, status reconciliation and
// the ticker session lifecycle.
package analysis

import (
	"context"

	"github.com/finradar/radar/pkg/models"
)

// SentimentAnalyzer is the surface of the fallback chain consumed by the
// batcher and the job store.
type SentimentAnalyzer interface {
	AnalyzeSentiment(ctx context.Context, articles []models.Article) ([]models.AnalyzedArticle, error)
}

// Batcher partitions an article list into consecutive fixed-size batches and
// submits them sequentially, to bound peak provider load and token usage per
// call. Batch i+1 begins only after batch i's chain call settles.
type Batcher struct {
	analyzer SentimentAnalyzer
	size     int
}

// NewBatcher creates a batcher. size is clamped to at least 1; the default of
// 1 means strictly sequential per-article analysis.
func NewBatcher(analyzer SentimentAnalyzer, size int) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{analyzer: analyzer, size: size}
}

// Size returns the effective batch size.
func (b *Batcher) Size() int { return b.size }

// Submit analyzes all articles batch by batch, accumulating results into one
// ordered set. Empty input yields an empty result immediately, with no
// provider call.
func (b *Batcher) Submit(ctx context.Context, articles []models.Article) ([]models.AnalyzedArticle, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	out := make([]models.AnalyzedArticle, 0, len(articles))
	for start := 0; start < len(articles); start += b.size {
		end := start + b.size
		if end > len(articles) {
			end = len(articles)
		}
		results, err := b.analyzer.AnalyzeSentiment(ctx, articles[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return out, nil
}
