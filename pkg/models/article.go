// Package models defines the core data structures used throughout Radar.
package models

import "time"

// Article is a single news article fetched for a ticker. Articles are
// immutable once fetched; IDs are unique within one ticker session.
type Article struct {
	ID        string `json:"id"`
	Headline  string `json:"headline"`
	Content   string `json:"content"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	URL       string `json:"url"`
}

// Sentiment classifies the tone of an article toward the ticker.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// JobStatus is the lifecycle state of one analysis job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// AnalysisStatus is the job-store view of one (ticker, article) analysis job.
// It is created as pending when the job is queued and mutated only by the job
// store; completed and failed are terminal.
type AnalysisStatus struct {
	ArticleID string    `json:"article_id"`
	Status    JobStatus `json:"status"`
	Sentiment Sentiment `json:"sentiment,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the status can no longer change.
func (s AnalysisStatus) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// AnalyzedArticle is an Article merged with the sentiment result of a
// completed analysis job. It is derived, never stored: an article whose
// status is completed but is missing sentiment or summary is treated as
// not yet analyzed.
type AnalyzedArticle struct {
	Article
	Sentiment Sentiment `json:"sentiment"`
	Summary   string    `json:"summary"`
}

// EnqueueResult is the job store's response to an enqueue call.
type EnqueueResult struct {
	Queued  int              `json:"queued"`  // jobs newly queued by this call
	Pending int              `json:"pending"` // jobs currently pending for the ticker
	Results []AnalysisStatus `json:"results"` // current statuses for the submitted articles
}
